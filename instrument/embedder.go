package instrument

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jellydator/ttlcache/v3"

	"github.com/orderout/nightglow/events"
)

const eventSource = "nightglow-embedder"

// Options configure an Embedder.
type Options struct {
	Logger *slog.Logger
	Clock  clock.Clock

	// MaxContinuous caps how many continuous-phase probes join a single
	// firing. Zero means no cap.
	MaxContinuous int

	// AutoEnable makes Register enable probes that don't set Enabled
	// themselves.
	AutoEnable bool
}

// Embedder owns the probe registry. Mutations are permitted at any time
// and never disrupt an in-flight FirePhase: firing iterates a snapshot
// taken under the lock.
type Embedder struct {
	mu sync.Mutex

	probes map[string]*Probe

	// registration order, for stable priority ties
	order []string

	lastResults *ttlcache.Cache[string, *ProbeResult]

	emitter events.Emitter
	logger  *slog.Logger
	clock   clock.Clock

	maxContinuous int
	autoEnable    bool
}

// AlreadyRegisteredError is returned when a probe id is taken.
type AlreadyRegisteredError struct {
	ID string
}

func (e *AlreadyRegisteredError) Error() string {
	return fmt.Sprintf("instrument %q already registered", e.ID)
}

// UnknownInstrumentError is returned for operations on unknown ids.
type UnknownInstrumentError struct {
	ID string
}

func (e *UnknownInstrumentError) Error() string {
	return fmt.Sprintf("unknown instrument %q", e.ID)
}

func NewEmbedder(emitter events.Emitter, opts *Options) *Embedder {
	if opts == nil {
		opts = &Options{}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}

	return &Embedder{
		probes: map[string]*Probe{},
		lastResults: ttlcache.New(
			ttlcache.WithTTL[string, *ProbeResult](ttlcache.NoTTL),
		),
		emitter:       emitter,
		logger:        logger,
		clock:         clk,
		maxContinuous: opts.MaxContinuous,
		autoEnable:    opts.AutoEnable,
	}
}

// Register adds a probe to the registry.
func (e *Embedder) Register(p *Probe) error {
	if p.ID == "" {
		return fmt.Errorf("instrument id must not be empty")
	}

	if p.Measure == nil {
		return fmt.Errorf("instrument %q has no measure function", p.ID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.probes[p.ID]; ok {
		return &AlreadyRegisteredError{ID: p.ID}
	}

	if e.autoEnable {
		p.Enabled = true
	}

	e.probes[p.ID] = p
	e.order = append(e.order, p.ID)

	e.emitLifecycle(p.ID, "registered")

	return nil
}

// Unregister removes a probe and its cached result. The probe's
// teardown still runs.
func (e *Embedder) Unregister(ctx context.Context, id string) error {
	e.mu.Lock()
	p, ok := e.probes[id]
	if !ok {
		e.mu.Unlock()
		return &UnknownInstrumentError{ID: id}
	}

	delete(e.probes, id)
	for i, oid := range e.order {
		if oid == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	e.lastResults.Delete(id)
	e.emitLifecycle(id, "unregistered")
	e.mu.Unlock()

	if p.Teardown != nil {
		if err := p.Teardown(ctx); err != nil {
			return fmt.Errorf("tearing down instrument %q: %w", id, err)
		}
	}

	return nil
}

// Enable marks a probe eligible for firing.
func (e *Embedder) Enable(id string) error {
	return e.setEnabled(id, true)
}

// Disable excludes a probe from firing without removing it.
func (e *Embedder) Disable(id string) error {
	return e.setEnabled(id, false)
}

func (e *Embedder) setEnabled(id string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.probes[id]
	if !ok {
		return &UnknownInstrumentError{ID: id}
	}

	p.Enabled = enabled
	if enabled {
		e.emitLifecycle(id, "enabled")
	} else {
		e.emitLifecycle(id, "disabled")
	}

	return nil
}

// FirePhase invokes every enabled probe whose phase matches the given
// phase or is continuous, filtered by action type, in ascending
// priority order. Probe failures are logged and isolated.
func (e *Embedder) FirePhase(ctx context.Context, phase Phase, pc *Context) {
	pc.Phase = phase

	for _, p := range e.eligible(phase, pc.ActionType) {
		e.fire(ctx, p, pc)
	}
}

// FireIdle fires duringIdle probes with an externally supplied idle
// duration. The engine has no internal idle scheduler.
func (e *Embedder) FireIdle(ctx context.Context, idle time.Duration, pc *Context) {
	pc.IdleDuration = idle
	e.FirePhase(ctx, PhaseDuringIdle, pc)
}

// eligible snapshots the matching probes under the lock so concurrent
// registry mutations can't disrupt the firing.
func (e *Embedder) eligible(phase Phase, actionType string) []*Probe {
	e.mu.Lock()
	defer e.mu.Unlock()

	var matched []*Probe
	continuous := 0

	for _, id := range e.order {
		p := e.probes[id]
		if !p.Enabled {
			continue
		}

		if p.Phase != phase && p.Phase != PhaseContinuous {
			continue
		}

		if !p.matchesAction(actionType) {
			continue
		}

		if p.Phase == PhaseContinuous {
			if e.maxContinuous > 0 && continuous >= e.maxContinuous {
				continue
			}
			continuous++
		}

		matched = append(matched, p)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority < matched[j].Priority
	})

	return matched
}

func (e *Embedder) fire(ctx context.Context, p *Probe, pc *Context) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "instrument panicked",
				"instrument", p.ID, "panic", r)
		}
	}()

	probeCtx := *pc
	if item := e.lastResults.Get(p.ID); item != nil {
		probeCtx.PreviousResult = item.Value()
	}

	result, err := p.Measure(ctx, &probeCtx)
	if err != nil {
		e.logger.WarnContext(ctx, "instrument measurement failed",
			"instrument", p.ID, "phase", pc.Phase, "error", err)
		return
	}

	if result == nil {
		return
	}

	if result.InstrumentID == "" {
		result.InstrumentID = p.ID
	}
	if result.Timestamp.IsZero() {
		result.Timestamp = e.clock.Now()
	}
	result.Severity = classify(result, p.AlertConditions)

	e.lastResults.Set(p.ID, result, ttlcache.NoTTL)

	e.publish(pc, result)
}

func (e *Embedder) publish(pc *Context, result *ProbeResult) {
	eventType := events.TypeMeasurement
	if severityRank[result.Severity] >= severityRank[SeverityWarn] {
		eventType = events.TypeAlert
	}

	event := events.New(eventType, eventSource, pc.SessionID, result.Timestamp, map[string]any{
		"instrumentId": result.InstrumentID,
		"phase":        string(pc.Phase),
		"values":       result.Values,
		"severity":     string(result.Severity),
		"tags":         result.Tags,
	})
	event.TaskID = pc.TaskID

	e.emitter.Emit(event)
}

func (e *Embedder) emitLifecycle(id, action string) {
	e.emitter.Emit(events.New(events.TypeInstrumentLifecycle, eventSource, "", e.clock.Now(), map[string]any{
		"instrumentId": id,
		"action":       action,
	}))
}

// LastResult returns the cached result for a probe, if any.
func (e *Embedder) LastResult(id string) *ProbeResult {
	if item := e.lastResults.Get(id); item != nil {
		return item.Value()
	}

	return nil
}

// CacheSize reports how many probe results are cached.
func (e *Embedder) CacheSize() int {
	return e.lastResults.Len()
}

// TeardownAll tears down every probe and clears the result cache. It is
// called on embedder shutdown; afterwards the cache is empty.
func (e *Embedder) TeardownAll(ctx context.Context) error {
	e.mu.Lock()
	probes := make([]*Probe, 0, len(e.probes))
	for _, id := range e.order {
		probes = append(probes, e.probes[id])
	}
	e.mu.Unlock()

	var firstErr error
	for _, p := range probes {
		if p.Teardown == nil {
			continue
		}

		if err := p.Teardown(ctx); err != nil {
			e.logger.ErrorContext(ctx, "instrument teardown failed",
				"instrument", p.ID, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("tearing down instrument %q: %w", p.ID, err)
			}
		}
	}

	e.lastResults.DeleteAll()

	return firstErr
}
