package validator

import (
	"context"
	"fmt"
	"sync"

	"socks5_inspector/internal/metrics"
	"socks5_inspector/internal/shared/logger"
	"socks5_inspector/proxypool/model"
)

// Prober performs one network validation attempt against one descriptor.
type Prober interface {
	Probe(ctx context.Context, d model.Descriptor) model.Outcome
}

// Runner 将一批 Descriptor 分发给 Prober（受 Governor 限流），并等待全部完成后返回。
// 返回的记录与输入一一对应，但不保证顺序。
type Runner struct {
	prober   Prober
	governor *Governor
	metrics  *metrics.Metrics
}

func NewRunner(prober Prober, governor *Governor, m *metrics.Metrics) *Runner {
	if governor == nil {
		governor = NewGovernor(DefaultConcurrency)
	}
	return &Runner{
		prober:   prober,
		governor: governor,
		metrics:  m,
	}
}

func (r *Runner) Governor() *Governor {
	return r.governor
}

// Run launches every probe at once and blocks until the last one finishes.
// observers are called from probe goroutines as each record is produced.
func (r *Runner) Run(ctx context.Context, descriptors []model.Descriptor, observers ...func(model.Record)) []model.Record {
	l := logger.WithComponent("ProxyPool/Validator")
	if len(descriptors) == 0 {
		return []model.Record{}
	}

	l.Info().Int("count", len(descriptors)).Int("concurrency", r.governor.Capacity()).Msg("Starting validation batch...")

	var wg sync.WaitGroup
	resultsChan := make(chan model.Record, len(descriptors))

	for _, d := range descriptors {
		wg.Add(1)
		go func(d model.Descriptor) {
			defer wg.Done()
			rec := r.probeOne(ctx, d)
			for _, observe := range observers {
				observe(rec)
			}
			resultsChan <- rec
		}(d)
	}

	wg.Wait()
	close(resultsChan)

	records := make([]model.Record, 0, len(descriptors))
	succeeded := 0
	for rec := range resultsChan {
		if rec.Succeeded() {
			succeeded++
		}
		records = append(records, rec)
	}

	l.Info().Int("total", len(records)).Int("succeeded", succeeded).Int("peak_in_flight", r.governor.Peak()).Msg("Validation batch finished.")
	return records
}

func (r *Runner) probeOne(ctx context.Context, d model.Descriptor) (rec model.Record) {
	rec = FailureRecord(d.Raw)

	if err := r.governor.Acquire(ctx); err != nil {
		l := logger.WithComponent("ProxyPool/Validator")
		l.Warn().Err(err).Str("proxy", d.Raw).Msg("Probe not admitted.")
		r.countResult(rec)
		return rec
	}
	defer r.governor.Release()

	if r.metrics != nil {
		r.metrics.ProbesInFlight.Inc()
		defer r.metrics.ProbesInFlight.Dec()
	}

	defer func() {
		if p := recover(); p != nil {
			l := logger.WithComponent("ProxyPool/Validator")
			l.Error().Str("proxy", d.Raw).Str("panic", fmt.Sprint(p)).Msg("Probe panicked.")
			rec = FailureRecord(d.Raw)
			r.countResult(rec)
		}
	}()

	outcome := r.prober.Probe(ctx, d)
	if r.metrics != nil {
		r.metrics.ProbeDuration.Observe(outcome.Elapsed.Seconds())
		r.metrics.ProbeBytes.WithLabelValues("sent").Add(float64(outcome.BytesSent))
		r.metrics.ProbeBytes.WithLabelValues("received").Add(float64(outcome.BytesReceived))
	}
	rec = Classify(d.Raw, outcome)
	r.countResult(rec)
	return rec
}

func (r *Runner) countResult(rec model.Record) {
	if r.metrics != nil {
		r.metrics.ProbesTotal.WithLabelValues(rec.Status.String()).Inc()
	}
}
