package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"socks5_inspector/internal/shared/logger"
	"socks5_inspector/internal/shared/types"
)

const readHeaderTimeout = 10 * time.Second

// loggingListener 在 debug 级别记录每个被接受的连接。
type loggingListener struct {
	net.Listener
}

func (l loggingListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err == nil {
		wl := logger.WithComponent("Web")
		wl.Debug().Str("remote_addr", conn.RemoteAddr().String()).Msg("Connection accepted.")
	}
	return conn, err
}

// basicAuthMiddleware 检查 web_user 和 web_password 是否已配置。
// 如果配置了，它将强制执行 HTTP Basic Authentication。
func basicAuthMiddleware(next http.Handler, user, pass string) http.Handler {
	// 如果用户名或密码未设置，则不启用认证，直接返回原始处理器
	if user == "" || pass == "" {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte("Unauthorized.\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewMux 注册全部路由。metricsHandler 为 nil 时不暴露 /metrics。
func NewMux(cfg types.WebConf, handler *Handler, hub *Hub, metricsHandler http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	user, pass := cfg.WebUser, cfg.WebPassword

	mux.Handle("/api/check", basicAuthMiddleware(http.HandlerFunc(handler.HandleCheck), user, pass))
	mux.Handle("/api/records", basicAuthMiddleware(http.HandlerFunc(handler.HandleRecords), user, pass))
	mux.Handle("/api/export.csv", basicAuthMiddleware(http.HandlerFunc(handler.HandleExport), user, pass))

	// --- WebSocket Endpoint (公开，无需认证) ---
	if hub != nil {
		mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
			ServeWs(hub, w, r)
		})
	}

	// 公开的状态 API
	mux.HandleFunc("/api/status", handler.HandleStatus)

	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	return mux
}

// Server wraps the HTTP listener for the web API.
type Server struct {
	srv  *http.Server
	addr string
}

func NewServer(cfg types.WebConf, mux http.Handler) *Server {
	addr := fmt.Sprintf("0.0.0.0:%d", cfg.WebPort)
	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: readHeaderTimeout,
		},
	}
}

// Start 监听端口并在后台提供服务。监听失败会直接返回错误。
func (s *Server) Start(wg *sync.WaitGroup) error {
	l := logger.WithComponent("Web")

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.addr = listener.Addr().String()
	l.Info().Msgf("SUCCESS: Web API is listening on http://%s", s.addr)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.srv.Serve(loggingListener{Listener: listener}); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error().Err(err).Msg("Web server error.")
		}
		l.Info().Msg("Web server stopped.")
	}()
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	return s.addr
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
