package feed

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/chainbot/internal/domain"
)

// tickSource emits one event every interval.
type tickSource struct {
	*Dispatcher
	name     string
	interval time.Duration
}

func newTickSource(name string, interval time.Duration) *tickSource {
	return &tickSource{Dispatcher: NewDispatcher(name, discardLogger()), name: name, interval: interval}
}

func (s *tickSource) Name() string { return s.name }

func (s *tickSource) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Dispatch(ctx, domain.NormalizedEvent{ID: fmt.Sprintf("%s-%d", s.name, i), Source: s.name})
		}
	}
}

// failSource fails every run with err, or panics when err is nil.
type failSource struct {
	*Dispatcher
	name string
	err  error
	runs atomic.Int32
}

func newFailSource(name string, err error) *failSource {
	return &failSource{Dispatcher: NewDispatcher(name, discardLogger()), name: name, err: err}
}

func (s *failSource) Name() string { return s.name }

func (s *failSource) Run(context.Context) error {
	s.runs.Add(1)
	if s.err == nil {
		panic("source exploded")
	}
	return s.err
}

func testSupervisorConfig(maxRestarts int) SupervisorConfig {
	return SupervisorConfig{
		Backoff:     Backoff{Min: time.Millisecond, Max: 5 * time.Millisecond, Factor: 2},
		MaxRestarts: maxRestarts,
	}
}

// statusOf returns the zero status until the supervisor has registered name.
func statusOf(t *testing.T, sup *Supervisor, name string) SourceStatus {
	t.Helper()
	for _, st := range sup.Statuses() {
		if st.Name == name {
			return st
		}
	}
	return SourceStatus{}
}

func TestSupervisorIsolatesFailingSources(t *testing.T) {
	working := newTickSource("working", 2*time.Millisecond)
	var delivered atomic.Int32
	working.Subscribe(func(context.Context, domain.NormalizedEvent) error {
		delivered.Add(1)
		return nil
	})

	flaky := newFailSource("flaky", fmt.Errorf("read: %w", domain.ErrConnection))
	fatal := newFailSource("fatal", fmt.Errorf("bad endpoint: %w", domain.ErrSourceFatal))
	panicky := newFailSource("panicky", nil)

	sup := NewSupervisor(testSupervisorConfig(3), discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx, []Source{working, flaky, fatal, panicky}) }()

	require.Eventually(t, func() bool {
		return statusOf(t, sup, "flaky").State == SourceFailed &&
			statusOf(t, sup, "fatal").State == SourceFailed &&
			statusOf(t, sup, "panicky").State == SourceFailed
	}, 2*time.Second, 5*time.Millisecond)

	before := delivered.Load()
	require.Eventually(t, func() bool { return delivered.Load() > before+3 }, 2*time.Second, 5*time.Millisecond,
		"working source keeps dispatching after its siblings failed")
	assert.Equal(t, SourceRunning, statusOf(t, sup, "working").State)

	flakyStatus := statusOf(t, sup, "flaky")
	assert.Equal(t, 3, flakyStatus.Restarts)
	assert.Equal(t, int32(4), flaky.runs.Load())
	assert.Contains(t, flakyStatus.LastError, "read")

	fatalStatus := statusOf(t, sup, "fatal")
	assert.Equal(t, 3, fatalStatus.Restarts, "fatal errors follow the restart policy")
	assert.Equal(t, int32(4), fatal.runs.Load())
	assert.Contains(t, fatalStatus.LastError, "bad endpoint")

	assert.Contains(t, statusOf(t, sup, "panicky").LastError, "source panic")

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop")
	}
	assert.Equal(t, SourceStopped, statusOf(t, sup, "working").State)
}

func TestSupervisorUnlimitedRestarts(t *testing.T) {
	flaky := newFailSource("flaky", errors.New("timeout"))
	sup := NewSupervisor(testSupervisorConfig(0), discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sup.Run(ctx, []Source{flaky}) }()

	require.Eventually(t, func() bool { return flaky.runs.Load() >= 10 }, 2*time.Second, time.Millisecond)
	assert.NotEqual(t, SourceFailed, statusOf(t, sup, "flaky").State)
}

func TestSupervisorRestartsFatalSourceWithoutLimit(t *testing.T) {
	fatal := newFailSource("fatal", fmt.Errorf("handshake 401: %w", domain.ErrSourceFatal))
	sup := NewSupervisor(testSupervisorConfig(0), discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sup.Run(ctx, []Source{fatal}) }()

	require.Eventually(t, func() bool { return fatal.runs.Load() >= 5 }, 2*time.Second, time.Millisecond)
	st := statusOf(t, sup, "fatal")
	assert.NotEqual(t, SourceFailed, st.State)
	assert.Contains(t, st.LastError, "handshake 401")
}

func TestSupervisorStatusesSorted(t *testing.T) {
	sup := NewSupervisor(testSupervisorConfig(0), discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sup.Run(ctx, []Source{newTickSource("b", time.Hour), newTickSource("a", time.Hour)}), context.Canceled)

	st := sup.Statuses()
	require.Len(t, st, 2)
	assert.Equal(t, "a", st[0].Name)
	assert.Equal(t, "b", st[1].Name)
}
