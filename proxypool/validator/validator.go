package validator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/proxy"
	"golang.org/x/time/rate"

	"socks5_inspector/internal/shared"
	"socks5_inspector/internal/shared/logger"
	"socks5_inspector/proxypool/model"
)

const (
	DefaultGeoURL  = "http://ip-api.com/json/?lang=zh-CN"
	DefaultTimeout = 15 * time.Second

	maxGeoPayload = 64 << 10
)

var (
	errNonSuccessGeo = errors.New("geo api returned non-success status")
	errNotContext    = errors.New("socks5 dialer does not support contexts")
)

// Validator 通过 SOCKS5 代理访问地理位置接口来完成一次组合健康检查：
// 代理可连通、HTTP 200、且返回体 status == "success" 才算成功。
type Validator struct {
	timeout time.Duration
	geoURL  string
	limiter *rate.Limiter
}

type Option func(*Validator)

// WithGeoURL overrides the geolocation endpoint.
func WithGeoURL(u string) Option {
	return func(v *Validator) {
		if u != "" {
			v.geoURL = u
		}
	}
}

// WithGeoRateLimit 限制每分钟发往地理位置接口的请求数，0 表示不限。
func WithGeoRateLimit(perMinute int) Option {
	return func(v *Validator) {
		if perMinute > 0 {
			v.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
		}
	}
}

func NewValidator(timeout time.Duration, opts ...Option) *Validator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	v := &Validator{
		timeout: timeout,
		geoURL:  DefaultGeoURL,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Probe 对单个 Descriptor 执行一次检测，不重试。任何阶段的错误都转换为失败结果。
func (v *Validator) Probe(ctx context.Context, d model.Descriptor) model.Outcome {
	l := logger.WithComponent("ProxyPool/Validator")

	if v.limiter != nil {
		if err := v.limiter.Wait(ctx); err != nil {
			return model.Outcome{Status: model.StatusFailure, Err: fmt.Errorf("geo rate limiter: %w", err)}
		}
	}

	var traffic shared.Traffic
	start := time.Now()
	geo, err := v.fetchGeoThroughProxy(ctx, d, &traffic)
	elapsed := time.Since(start)

	outcome := model.Outcome{
		Elapsed:       elapsed,
		BytesSent:     traffic.Sent(),
		BytesReceived: traffic.Received(),
	}
	if err != nil {
		l.Debug().Err(err).Str("proxy", d.Raw).Dur("elapsed", elapsed).Msg("Probe failed.")
		outcome.Status = model.StatusFailure
		outcome.Err = err
		return outcome
	}

	l.Debug().Str("proxy", d.Raw).Str("exit_ip", geo.Query).Dur("elapsed", elapsed).Msg("Probe succeeded.")
	outcome.Status = model.StatusSuccess
	outcome.Geo = geo
	return outcome
}

// fetchGeoThroughProxy builds a transport owned by this probe alone and
// tears it down before returning. Bytes through the proxy go into traffic.
func (v *Validator) fetchGeoThroughProxy(ctx context.Context, d model.Descriptor, traffic *shared.Traffic) (*model.GeoInfo, error) {
	proxyURL, err := url.Parse(d.URL())
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url: %w", err)
	}

	dialer, err := proxy.FromURL(proxyURL, &net.Dialer{Timeout: v.timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}
	contextDialer, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return nil, errNotContext
	}

	transport := &http.Transport{
		DialContext:           shared.CountingDialer(contextDialer.DialContext, traffic),
		DisableKeepAlives:     true,
		TLSHandshakeTimeout:   v.timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	defer transport.CloseIdleConnections()

	client := &http.Client{
		Transport: transport,
		Timeout:   v.timeout,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.geoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create geo request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received non-successful status code: %d", resp.StatusCode)
	}

	var info model.GeoInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxGeoPayload)).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode geo response: %w", err)
	}
	if info.Status != "success" {
		return nil, fmt.Errorf("%w: %q", errNonSuccessGeo, info.Status)
	}
	return &info, nil
}
