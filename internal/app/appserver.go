package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"socks5_inspector/internal/metrics"
	"socks5_inspector/internal/service/web"
	"socks5_inspector/internal/shared/logger"
	"socks5_inspector/internal/shared/types"
	manager "socks5_inspector/proxypool"
	"socks5_inspector/proxypool/source"
	"socks5_inspector/proxypool/storage"
	"socks5_inspector/proxypool/validator"
)

const shutdownTimeout = 10 * time.Second

// AppServer is the application's main struct.
type AppServer struct {
	cfg *types.Config

	metrics *metrics.Metrics
	store   storage.RecordStore
	manager *manager.Manager
	hub     *web.Hub
	server  *web.Server

	waitGroup sync.WaitGroup
	stopOnce  sync.Once
}

// New 根据配置组装存储、探测器、调度器与批次管理器。
func New(ctx context.Context, cfg *types.Config) (*AppServer, error) {
	l := logger.WithComponent("App")

	store, err := storage.New(ctx, cfg.StoreConf)
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}
	l.Info().Str("backend", cfg.Backend).Msg("Record store ready.")

	m := metrics.New()
	prober := validator.NewValidator(
		time.Duration(cfg.TimeoutSeconds)*time.Second,
		validator.WithGeoURL(cfg.GeoURL),
		validator.WithGeoRateLimit(cfg.GeoRatePerMinute),
	)
	runner := validator.NewRunner(prober, validator.NewGovernor(cfg.Concurrency), m)

	s := &AppServer{
		cfg:     cfg,
		metrics: m,
		store:   store,
		manager: manager.NewManager(store, runner, m, cfg.ProbeURL),
		hub:     web.NewHub(),
	}
	s.manager.AddObserver(s.hub)
	return s, nil
}

func (s *AppServer) Manager() *manager.Manager {
	return s.manager
}

// CheckSource 拉取一个输入源并执行一个批次。
func (s *AppServer) CheckSource(ctx context.Context, src source.Source) (*manager.Report, error) {
	lines, err := src.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load input from %s: %w", src.Name(), err)
	}
	l := logger.WithComponent("App")
	l.Info().Str("source", src.Name()).Int("lines", len(lines)).Msg("Input loaded.")
	return s.manager.Check(ctx, lines)
}

// Run is the server's entry point. It blocks until ctx is done and then
// shuts everything down.
func (s *AppServer) Run(ctx context.Context) error {
	l := logger.WithComponent("App")
	l.Info().Msg("Starting inspector in 'serve' mode...")

	if s.cfg.WebPort <= 0 {
		return errors.New("serve mode requires web_port > 0")
	}

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	s.waitGroup.Add(1)
	go func() {
		defer s.waitGroup.Done()
		s.hub.Run(hubCtx)
	}()

	handler := web.NewHandler(s.manager, s.hub)
	s.server = web.NewServer(s.cfg.WebConf, web.NewMux(s.cfg.WebConf, handler, s.hub, s.metrics.Handler()))
	if err := s.server.Start(&s.waitGroup); err != nil {
		stopHub()
		s.Stop()
		return err
	}

	<-ctx.Done()
	l.Info().Msg("Shutdown signal received.")
	s.Stop()
	return nil
}

// Stop gracefully shuts down the server. Safe to call more than once.
func (s *AppServer) Stop() {
	s.stopOnce.Do(func() {
		l := logger.WithComponent("App")
		if s.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			if err := s.server.Shutdown(ctx); err != nil {
				l.Warn().Err(err).Msg("Web server did not shut down cleanly.")
			}
			cancel()
		}
		s.Wait()
		if err := s.manager.Close(); err != nil {
			l.Warn().Err(err).Msg("Failed to close record store.")
		}
		l.Info().Msg("Inspector stopped.")
	})
}

func (s *AppServer) Wait() {
	s.waitGroup.Wait()
}
