package parser

import (
	"net"
	"strings"

	"socks5_inspector/proxypool/model"
)

// ParseEndpoint 将一行原始输入规整为 SOCKS5 Descriptor。
// 空行返回 false。恰好四段 host:port:user:pass 时构造带认证的目标，
// 其余情况原样包装（支持 user:pass@host:port 和 host:port）。
// 这里不做端口或主机名校验，格式错误的目标会在探测阶段失败。
func ParseEndpoint(raw string) (model.Descriptor, bool) {
	p := strings.TrimSpace(raw)
	if p == "" {
		return model.Descriptor{}, false
	}

	parts := strings.Split(p, ":")
	if len(parts) == 4 {
		return model.Descriptor{
			Raw:     p,
			Address: net.JoinHostPort(parts[0], parts[1]),
			Auth:    &model.Credentials{Username: parts[2], Password: parts[3]},
		}, true
	}

	return model.Descriptor{Raw: p, Address: p}, true
}

// ParseLines splits user text into trimmed, non-blank endpoint lines.
func ParseLines(text string) []string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// ParseAll 解析一批原始行，跳过空行。
func ParseAll(lines []string) []model.Descriptor {
	descriptors := make([]model.Descriptor, 0, len(lines))
	for _, line := range lines {
		if d, ok := ParseEndpoint(line); ok {
			descriptors = append(descriptors, d)
		}
	}
	return descriptors
}
