package source

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"socks5_inspector/internal/shared/logger"
)

const (
	// StdinPath 作为文件路径时表示从标准输入读取。
	StdinPath = "-"

	maxLineSize   = 1 << 20
	maxBodySize   = 8 << 20
	fetchTimeout  = 20 * time.Second
	userAgent     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36"
	tableRowQuery = "table tbody tr"
)

// Source 产出一批原始代理行，交给 parser 处理。
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]string, error)
}

// FileSource reads one endpoint per line from a file or stdin.
type FileSource struct {
	path  string
	stdin io.Reader
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path, stdin: os.Stdin}
}

func (s *FileSource) Name() string {
	if s.path == StdinPath {
		return "stdin"
	}
	return s.path
}

func (s *FileSource) Fetch(ctx context.Context) ([]string, error) {
	if s.path == StdinPath {
		return ReadLines(s.stdin)
	}
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open input file: %w", err)
	}
	defer f.Close()
	return ReadLines(f)
}

// URLSource 从远程地址拉取代理列表。纯文本按行读取；
// HTML 页面则用 goquery 从表格的前两列抽取 ip 与端口。
type URLSource struct {
	url string
}

func NewURLSource(url string) *URLSource {
	return &URLSource{url: url}
}

func (s *URLSource) Name() string {
	return s.url
}

func (s *URLSource) Fetch(ctx context.Context) ([]string, error) {
	l := logger.WithComponent("ProxyPool/Source")
	l.Info().Str("url", s.url).Msg("Fetching proxy list...")

	c := colly.NewCollector(
		colly.UserAgent(userAgent),
		colly.StdlibContext(ctx),
	)
	c.SetRequestTimeout(fetchTimeout)
	c.MaxBodySize = maxBodySize

	var body []byte
	var contentType string
	c.OnResponse(func(r *colly.Response) {
		body = r.Body
		if r.Headers != nil {
			contentType = r.Headers.Get("Content-Type")
		}
	})
	c.OnError(func(r *colly.Response, err error) {
		l.Warn().Err(err).Int("status_code", r.StatusCode).Str("url", s.url).Msg("Fetch request failed.")
	})

	if err := c.Visit(s.url); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", s.url, err)
	}
	c.Wait()

	var lines []string
	var err error
	if isHTML(contentType, body) {
		lines, err = ScrapeTable(bytes.NewReader(body))
	} else {
		lines, err = ReadLines(bytes.NewReader(body))
	}
	if err != nil {
		return nil, err
	}

	l.Info().Int("count", len(lines)).Str("url", s.url).Msg("Fetch finished.")
	return lines, nil
}

// ReadLines returns every non-blank trimmed line of r.
func ReadLines(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	lines := make([]string, 0)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read lines: %w", err)
	}
	return lines, nil
}

// ScrapeTable 从 HTML 表格中抽取 "ip:port"。第一列为 IP、第二列为端口，
// 解析失败的行会被跳过。
func ScrapeTable(r io.Reader) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	l := logger.WithComponent("ProxyPool/Source")
	lines := make([]string, 0)
	doc.Find(tableRowQuery).Each(func(_ int, sel *goquery.Selection) {
		cells := sel.Find("td")
		ip := strings.TrimSpace(cells.Eq(0).Text())
		port := strings.TrimSpace(cells.Eq(1).Text())
		if net.ParseIP(ip) == nil || !isPort(port) {
			l.Debug().Str("ip", ip).Str("port", port).Msg("Skipping table row.")
			return
		}
		lines = append(lines, net.JoinHostPort(ip, port))
	})
	return lines, nil
}

func isHTML(contentType string, body []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "text/html") {
		return true
	}
	head := bytes.ToLower(bytes.TrimSpace(body[:min(len(body), 512)]))
	return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html"))
}

func isPort(s string) bool {
	n, err := strconv.Atoi(s)
	return err == nil && n > 0 && n <= 65535
}
