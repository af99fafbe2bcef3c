package model

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

// Absent 是失败记录中所有元数据字段的占位值。
const Absent = "-"

// Status 是单次检测的最终结果，只有成功与失败两种。
type Status int

const (
	StatusFailure Status = iota
	StatusSuccess
)

const (
	SuccessLabel = "✅ 成功"
	FailureLabel = "❌ 失败"
)

// Label 返回面向用户的状态标记。
func (s Status) Label() string {
	if s == StatusSuccess {
		return SuccessLabel
	}
	return FailureLabel
}

func (s Status) String() string {
	if s == StatusSuccess {
		return "success"
	}
	return "failure"
}

// ParseStatus 是 Label 的逆操作，同时接受 "success"/"failure"。
func ParseStatus(label string) (Status, error) {
	switch label {
	case SuccessLabel, "success":
		return StatusSuccess, nil
	case FailureLabel, "failure":
		return StatusFailure, nil
	}
	return StatusFailure, fmt.Errorf("unknown status label %q", label)
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Label())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var label string
	if err := json.Unmarshal(data, &label); err != nil {
		return err
	}
	parsed, err := ParseStatus(label)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Credentials 是 SOCKS5 用户名/密码认证信息。
type Credentials struct {
	Username string
	Password string
}

// Descriptor 是一个可直接连接的 SOCKS5 目标。
// Auth 仅在原始输入恰好为 host:port:user:pass 四段时非空；
// 其余情况下 Address 原样包装去除空白后的输入。
type Descriptor struct {
	Raw     string
	Address string
	Auth    *Credentials
}

// URL renders the descriptor as a socks5:// URL accepted by proxy.FromURL.
func (d Descriptor) URL() string {
	if d.Auth == nil {
		return "socks5://" + d.Address
	}
	u := url.URL{
		Scheme: "socks5",
		User:   url.UserPassword(d.Auth.Username, d.Auth.Password),
		Host:   d.Address,
	}
	return u.String()
}

// GeoInfo defines the structure for the ip-api.com JSON response.
type GeoInfo struct {
	Status  string `json:"status"`
	Query   string `json:"query"` // exit IP
	Country string `json:"country"`
	City    string `json:"city"`
	ISP     string `json:"isp"`
}

// Outcome 是一次检测的瞬时结果，只在 Validator 内部流转，不会被持久化。
type Outcome struct {
	Elapsed time.Duration
	Geo     *GeoInfo
	Status  Status
	Err     error

	// 握手完成后经由代理收发的字节数。
	BytesSent     uint64
	BytesReceived uint64
}

// Record 是面向用户的检测记录，以原始地址作为身份键。
type Record struct {
	Raw     string    `json:"raw"`
	Status  Status    `json:"status"`
	Latency string    `json:"latency"`
	ExitIP  string    `json:"exit_ip"`
	Region  string    `json:"region"`
	ISP     string    `json:"isp"`
	SavedAt time.Time `json:"saved_at,omitzero"`
}

// Key 返回去重使用的身份键。
func (r Record) Key() string {
	return r.Raw
}

func (r Record) Succeeded() bool {
	return r.Status == StatusSuccess
}
