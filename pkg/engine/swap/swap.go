// Package swap implements the generation handoff protocol: producers
// build complete engine generations off the hot path and promote them;
// a single consumer observes the newest promoted generation without ever
// blocking on the producers, and vice versa.
package swap

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/sentra-hq/sentra/pkg/engine"
	"github.com/sentra-hq/sentra/pkg/plugins"
	"github.com/sentra-hq/sentra/pkg/rules"
)

// Swappable holds the active engine generation and a handoff slot of
// pending candidates.
//
// Concurrency contract:
//   - Promote, Replace and Validate may be called from any goroutine,
//     concurrently. Promote only appends to the pending slice under a
//     short critical section; it never waits for the consumer.
//   - Current must only be called from the single goroutine driving
//     event evaluation. Only that goroutine ever writes the active
//     reference, so the active slot itself needs no lock.
//   - Superseded generations stay valid for as long as any in-flight
//     evaluation still references them; the garbage collector retires
//     them once the last reference drops.
type Swappable struct {
	builder *engine.Builder
	logger  *slog.Logger

	mu      sync.Mutex
	pending []*engine.Engine

	// active is read and written only by the consumer goroutine.
	active *engine.Engine

	promoted   atomic.Int64
	superseded atomic.Int64
	swaps      atomic.Int64
}

// New returns an uninitialized Swappable. Call Initialize (or Promote)
// before the consumer's first Current call.
func New(builder *engine.Builder, logger *slog.Logger) *Swappable {
	if logger == nil {
		logger = slog.Default()
	}
	return &Swappable{builder: builder, logger: logger}
}

// Initialize builds and promotes an empty-rule-set generation
// synchronously, establishing the invariant that Current always has
// something valid to return.
func (s *Swappable) Initialize() error {
	return s.Replace(nil)
}

// Replace builds a new generation from the rule files and, on success,
// promotes it. A failed build leaves the active generation untouched;
// the error carries the full aggregated diagnostics or compatibility
// report, so the operator can correct the input and retry.
func (s *Swappable) Replace(files []rules.RuleFile) error {
	e, err := s.builder.Build(files)
	if err != nil {
		return err
	}
	s.Promote(e)
	return nil
}

// Validate runs the exact same build path as Replace but discards the
// result: a successful Validate implies an immediately following
// Replace with the same inputs also succeeds, absent a change to the
// capture binding in between.
func (s *Swappable) Validate(files []rules.RuleFile) error {
	_, err := s.builder.Build(files)
	return err
}

// Promote enqueues a fully built generation as a pending candidate.
// Safe from any goroutine; never blocks on the consumer.
func (s *Swappable) Promote(e *engine.Engine) {
	s.mu.Lock()
	s.pending = append(s.pending, e)
	s.mu.Unlock()
	s.promoted.Add(1)
	s.logger.Info("promoted engine generation",
		"generation", e.ID(),
		"rules", e.RuleCount(),
		"enabled", e.EnabledRuleCount(),
	)
}

// Current drains all candidates promoted so far, activates the newest
// one and returns the active generation. Candidates promoted between
// two Current calls that were superseded before ever becoming active
// are discarded without activation. Consumer goroutine only.
//
// Calling Current before any Initialize or Promote is a contract
// violation and returns ErrNotInitialized.
func (s *Swappable) Current() (*engine.Engine, error) {
	s.mu.Lock()
	drained := s.pending
	s.pending = nil
	s.mu.Unlock()

	if n := len(drained); n > 0 {
		// Replace, never destroy: the previous active generation
		// lives on for whoever still holds it.
		s.active = drained[n-1]
		s.swaps.Add(1)
		s.superseded.Add(int64(n - 1))
	}

	if s.active == nil {
		return nil, engine.ErrNotInitialized
	}
	return s.active, nil
}

// PluginFilterChecks exposes the filter-check registry shared by every
// generation built through this Swappable.
func (s *Swappable) PluginFilterChecks() *plugins.FilterCheckRegistry {
	return s.builder.FilterChecks()
}

// Stats reports handoff activity: generations promoted, activation
// swaps performed by the consumer, and candidates superseded without
// ever becoming active.
func (s *Swappable) Stats() (promoted, swaps, superseded int64) {
	return s.promoted.Load(), s.swaps.Load(), s.superseded.Load()
}
