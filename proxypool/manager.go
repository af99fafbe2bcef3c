package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"socks5_inspector/internal/metrics"
	"socks5_inspector/internal/shared/logger"
	"socks5_inspector/proxypool/merge"
	"socks5_inspector/proxypool/model"
	"socks5_inspector/proxypool/parser"
	"socks5_inspector/proxypool/storage"
	"socks5_inspector/proxypool/validator"
)

// ErrEmptyInput 表示输入中没有任何非空行，此时不会发起任何网络请求。
var ErrEmptyInput = errors.New("no proxy endpoints in input")

// Report 是一个批次的完整结果。
type Report struct {
	BatchID   string         `json:"batch_id"`
	ProbeURL  string         `json:"probe_url"`
	StartedAt time.Time      `json:"started_at"`
	Elapsed   time.Duration  `json:"elapsed_ns"`
	Records   []model.Record `json:"records"`
	Total     int            `json:"total"`
	Succeeded int            `json:"succeeded"`
	// Persisted 是写入后存储中的记录总数。
	Persisted    int    `json:"persisted"`
	PersistError string `json:"persist_error,omitempty"`
}

// Observer receives batch progress. Implementations must be safe for
// concurrent use; OnRecord is called from probe goroutines.
type Observer interface {
	OnBatchStarted(batchID string, total int)
	OnRecord(batchID string, rec model.Record)
	OnBatchFinished(report *Report)
}

// Manager 是检测流程的总控制器：解析 -> 并发探测 -> 合并 -> 持久化 -> 报告。
type Manager struct {
	storage  storage.RecordStore
	runner   *validator.Runner
	metrics  *metrics.Metrics
	probeURL string
	now      func() time.Time

	// mu 串行化同一进程内的 read-merge-write。
	mu sync.Mutex

	obsMu     sync.RWMutex
	observers []Observer

	lastMu sync.RWMutex
	last   *Report
}

// NewManager 创建批次管理器。m 可以为 nil。
func NewManager(store storage.RecordStore, runner *validator.Runner, m *metrics.Metrics, probeURL string) *Manager {
	return &Manager{
		storage:  store,
		runner:   runner,
		metrics:  m,
		probeURL: probeURL,
		now:      time.Now,
	}
}

// AddObserver registers o for every subsequent batch.
func (m *Manager) AddObserver(o Observer) {
	m.obsMu.Lock()
	m.observers = append(m.observers, o)
	m.obsMu.Unlock()
}

func (m *Manager) snapshotObservers() []Observer {
	m.obsMu.RLock()
	defer m.obsMu.RUnlock()
	return append([]Observer(nil), m.observers...)
}

// Check runs one detection batch over raw input lines.
// Only probe results are returned; a persistence failure is reported in
// Report.PersistError and never discards the batch.
func (m *Manager) Check(ctx context.Context, lines []string) (*Report, error) {
	l := logger.WithComponent("ProxyPool/Manager")

	descriptors := parser.ParseAll(lines)
	if len(descriptors) == 0 {
		return nil, ErrEmptyInput
	}

	report := &Report{
		BatchID:   uuid.NewString(),
		ProbeURL:  m.probeURL,
		StartedAt: m.now().UTC(),
		Total:     len(descriptors),
	}
	bl := l.With().Str("batch_id", report.BatchID).Logger()
	bl.Info().Int("count", len(descriptors)).Msg("Starting detection batch...")

	observers := m.snapshotObservers()
	for _, o := range observers {
		o.OnBatchStarted(report.BatchID, report.Total)
	}

	var onRecord []func(model.Record)
	if len(observers) > 0 {
		onRecord = append(onRecord, func(rec model.Record) {
			for _, o := range observers {
				o.OnRecord(report.BatchID, rec)
			}
		})
	}

	report.Records = m.runner.Run(ctx, descriptors, onRecord...)
	for _, rec := range report.Records {
		if rec.Succeeded() {
			report.Succeeded++
		}
	}

	fresh := merge.Successes(report.Records, m.now().UTC().Truncate(time.Second))
	persisted, err := m.persist(ctx, fresh)
	if err != nil {
		bl.Warn().Err(err).Msg("Failed to persist batch results; records are still returned.")
		report.PersistError = err.Error()
		if m.metrics != nil {
			m.metrics.PersistFailures.Inc()
		}
	} else {
		report.Persisted = persisted
	}

	report.Elapsed = m.now().Sub(report.StartedAt)
	if m.metrics != nil {
		m.metrics.BatchesTotal.Inc()
	}

	m.lastMu.Lock()
	m.last = report
	m.lastMu.Unlock()

	for _, o := range observers {
		o.OnBatchFinished(report)
	}

	bl.Info().
		Int("total", report.Total).
		Int("succeeded", report.Succeeded).
		Int("persisted", report.Persisted).
		Dur("elapsed", report.Elapsed).
		Msg("Detection batch finished.")
	return report, nil
}

// persist 读取存储、合并本批次成功记录并整体写回，返回写入后的记录数。
func (m *Manager) persist(ctx context.Context, fresh []model.Record) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := m.storage.Read(ctx)
	if err != nil {
		return 0, fmt.Errorf("read store: %w", err)
	}

	merged := merge.Merge(existing, fresh)
	if err := m.storage.Write(ctx, merged); err != nil {
		return 0, fmt.Errorf("write store: %w", err)
	}

	if m.metrics != nil {
		m.metrics.StoredRecords.Set(float64(len(merged)))
	}
	return len(merged), nil
}

// Records 返回存储中的全部记录。
func (m *Manager) Records(ctx context.Context) ([]model.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.storage.Read(ctx)
}

// LastReport returns the most recent batch report, or nil.
func (m *Manager) LastReport() *Report {
	m.lastMu.RLock()
	defer m.lastMu.RUnlock()
	return m.last
}

// Status is a point-in-time view of the manager for the status endpoint.
type Status struct {
	Capacity int     `json:"concurrency_cap"`
	InFlight int     `json:"in_flight"`
	Peak     int     `json:"peak_in_flight"`
	ProbeURL string  `json:"probe_url"`
	Last     *Report `json:"last_batch,omitempty"`
}

func (m *Manager) Status() Status {
	g := m.runner.Governor()
	return Status{
		Capacity: g.Capacity(),
		InFlight: g.InFlight(),
		Peak:     g.Peak(),
		ProbeURL: m.probeURL,
		Last:     m.LastReport(),
	}
}

// Close releases the record store.
func (m *Manager) Close() error {
	return m.storage.Close()
}
