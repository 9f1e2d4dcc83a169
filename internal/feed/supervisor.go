package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/chainbot/internal/domain"
	"github.com/alanyoungcy/chainbot/internal/metrics"
)

// SourceState is the supervisor's view of one source task.
type SourceState string

const (
	SourceRunning SourceState = "running"
	SourceBackoff SourceState = "backoff"
	SourceFailed  SourceState = "failed"
	SourceStopped SourceState = "stopped"
)

// SourceStatus is a point-in-time report for one supervised source.
type SourceStatus struct {
	Name      string      `json:"name"`
	State     SourceState `json:"state"`
	Restarts  int         `json:"restarts"`
	LastError string      `json:"last_error,omitempty"`
	StartedAt time.Time   `json:"started_at"`
}

// SupervisorConfig is the restart policy applied to each source.
type SupervisorConfig struct {
	Backoff     Backoff
	MaxRestarts int           // 0 = unlimited
	StableAfter time.Duration // a run this long resets the backoff attempt
}

// Supervisor runs each source in its own goroutine and restarts it with
// backoff whenever Run returns, including with domain.ErrSourceFatal. A
// source is marked failed only once MaxRestarts is exhausted. One source
// failing, even permanently, never stops the others.
type Supervisor struct {
	cfg    SupervisorConfig
	logger *slog.Logger

	mu     sync.RWMutex
	status map[string]*SourceStatus
}

// NewSupervisor creates a Supervisor.
func NewSupervisor(cfg SupervisorConfig, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "supervisor")),
		status: make(map[string]*SourceStatus),
	}
}

// Run supervises every source until ctx is cancelled and all source
// goroutines have returned. It returns ctx.Err() on shutdown.
func (s *Supervisor) Run(ctx context.Context, sources []Source) error {
	// Not errgroup.WithContext: a source goroutine never cancels its siblings.
	var g errgroup.Group
	for _, src := range sources {
		s.setStatus(src.Name(), func(st *SourceStatus) { st.State = SourceStopped })
		g.Go(func() error {
			s.supervise(ctx, src)
			return nil
		})
	}
	s.logger.Info("supervisor: sources started", slog.Int("count", len(sources)))
	_ = g.Wait()
	s.logger.Info("supervisor: all sources stopped")
	return ctx.Err()
}

func (s *Supervisor) supervise(ctx context.Context, src Source) {
	name := src.Name()
	log := s.logger.With(slog.String("source", name))
	attempt := 0

	for {
		started := time.Now()
		s.setStatus(name, func(st *SourceStatus) {
			st.State = SourceRunning
			st.StartedAt = started
		})

		err := s.runOnce(ctx, src)
		if ctx.Err() != nil {
			s.setStatus(name, func(st *SourceStatus) { st.State = SourceStopped })
			return
		}
		if err == nil {
			err = errors.New("source returned without error")
		}

		if s.cfg.StableAfter > 0 && time.Since(started) >= s.cfg.StableAfter {
			attempt = 0
		}
		attempt++

		restarts := 0
		s.setStatus(name, func(st *SourceStatus) {
			st.LastError = err.Error()
			restarts = st.Restarts
		})

		if errors.Is(err, domain.ErrSourceFatal) {
			log.Error("supervisor: source failed fatally",
				slog.String("error", err.Error()),
				slog.Int("restarts", restarts),
			)
		}

		if s.cfg.MaxRestarts > 0 && restarts >= s.cfg.MaxRestarts {
			log.Error("supervisor: source failed permanently, giving up",
				slog.Int("restarts", restarts),
				slog.String("error", err.Error()),
			)
			s.setStatus(name, func(st *SourceStatus) { st.State = SourceFailed })
			return
		}

		wait := s.cfg.Backoff.Next(attempt)
		log.Warn("supervisor: source stopped, restarting",
			slog.String("error", err.Error()),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", wait),
		)
		s.setStatus(name, func(st *SourceStatus) { st.State = SourceBackoff })
		if !sleep(ctx, wait) {
			s.setStatus(name, func(st *SourceStatus) { st.State = SourceStopped })
			return
		}
		metrics.SourceRestarts.WithLabelValues(name).Inc()
		s.setStatus(name, func(st *SourceStatus) { st.Restarts++ })
	}
}

// runOnce calls src.Run and converts a panic into an error so it is handled
// like any other source failure.
func (s *Supervisor) runOnce(ctx context.Context, src Source) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("source panic: %v", r)
		}
	}()
	return src.Run(ctx)
}

// Statuses returns a snapshot of every supervised source, sorted by name.
func (s *Supervisor) Statuses() []SourceStatus {
	s.mu.RLock()
	out := make([]SourceStatus, 0, len(s.status))
	for _, st := range s.status {
		out = append(out, *st)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Supervisor) setStatus(name string, fn func(*SourceStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.status[name]
	if !ok {
		st = &SourceStatus{Name: name}
		s.status[name] = st
	}
	fn(st)
}
