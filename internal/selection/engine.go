package selection

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/earthring/zoneselect/internal/geometry"
	"github.com/earthring/zoneselect/internal/telemetry"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrClosed is returned by mutating operations after Close.
var ErrClosed = errors.New("selection: engine closed")

var validate = validator.New()

// Config configures an Engine. Zones is required; everything else is
// optional.
type Config struct {
	Zones            []Zone
	InitialSelection []string
	Mode             Mode `validate:"omitempty,oneof=single multiple range"`
	MaxSelections    int  `validate:"gte=0"`
	Constraints      *Constraints

	EnableHistory  *bool
	MaxHistorySize int `validate:"gte=0"`

	PersistKey string
	Store      Store

	Oracle geometry.Oracle

	OnSelectionChange func(ChangeEvent)
	OnSelectionError  func(*SelectionError)

	BatchUpdates *bool
	Debounce     time.Duration `validate:"gte=0"`

	Logger *zerolog.Logger
}

// Engine owns the live selection state, its history and the delivery of
// change notifications. All methods are safe for concurrent use.
// Callbacks are never invoked while the engine lock is held and must not
// call Close.
type Engine struct {
	mu         sync.Mutex
	catalog    *Catalog
	state      *State
	initialIDs []string
	maxSelect  int
	history    *History
	oracle     geometry.Oracle
	onChange   func(ChangeEvent)
	onError    func(*SelectionError)
	batch      *batcher
	persist    *persister
	replaying  bool
	hovered    string
	closed     bool
	delivering sync.WaitGroup
	log        zerolog.Logger
}

// New builds an engine from cfg. When the initial selection is empty and a
// persist key is configured, the stored selection is loaded once here.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid selection config: %w", err)
	}
	if cfg.PersistKey != "" && cfg.Store == nil {
		return nil, fmt.Errorf("invalid selection config: persist key %q set without a store", cfg.PersistKey)
	}

	logger := log.Logger.With().Str("component", "selection").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	mode := cfg.Mode
	if mode == "" {
		mode = ModeMultiple
	}
	oracle := cfg.Oracle
	if oracle == nil {
		oracle = geometry.NewOracle(geometry.Planar)
	}

	e := &Engine{
		catalog:    NewCatalog(cfg.Zones),
		initialIDs: slices.Clone(cfg.InitialSelection),
		maxSelect:  cfg.MaxSelections,
		oracle:     oracle,
		onChange:   cfg.OnSelectionChange,
		onError:    cfg.OnSelectionError,
		log:        logger,
	}

	constraints := cfg.Constraints.withMaxSelections(cfg.MaxSelections)
	seed := cfg.InitialSelection
	if len(seed) == 0 && cfg.PersistKey != "" {
		seed = loadPersisted(ctx, cfg.Store, cfg.PersistKey, logger)
		if len(seed) > 0 {
			logger.Debug().Str("key", cfg.PersistKey).Int("count", len(seed)).Msg("restored persisted selection")
		}
	}
	e.state = e.buildState(NewState(mode, constraints), seed)

	if boolOr(cfg.EnableHistory, true) {
		e.history = NewHistory(cfg.MaxHistorySize)
		e.history.Push(e.state)
	}
	if boolOr(cfg.BatchUpdates, true) && cfg.Debounce > 0 {
		e.batch = newBatcher(cfg.Debounce, e.deliver)
	}
	if cfg.PersistKey != "" {
		e.persist = newPersister(cfg.Store, cfg.PersistKey, logger)
	}
	return e, nil
}

// CallOption adjusts a single mutating call.
type CallOption func(*callOptions)

type callOptions struct {
	source         Source
	silent         bool
	skipValidation bool
}

// WithSource tags the resulting change event. The default is SourceAPI.
func WithSource(s Source) CallOption {
	return func(o *callOptions) { o.source = s }
}

// Silent commits the change without emitting a change event.
func Silent() CallOption {
	return func(o *callOptions) { o.silent = true }
}

// SkipValidation commits the change without running the constraint checks.
func SkipValidation() CallOption {
	return func(o *callOptions) { o.skipValidation = true }
}

func resolveOptions(opts []CallOption) callOptions {
	o := callOptions{source: SourceAPI}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// plan computes the candidate next state under the engine lock. requested
// holds the zones the caller asked about, for error reporting.
type plan func() (next *State, requested []Zone, validate bool)

// mutate runs one operation: build the candidate, validate it, commit it,
// then deliver the event and any error outside the lock.
func (e *Engine) mutate(op string, opts []CallOption, build plan) error {
	o := resolveOptions(opts)
	start := time.Now()
	defer func() {
		telemetry.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	next, requested, check := build()
	if next == nil || next == e.state {
		e.mu.Unlock()
		return nil
	}
	if check && !o.skipValidation {
		candidate := e.catalog.Resolve(next.Order)
		result := Validate(candidate, next.Constraints, e.oracle)
		if !result.Valid {
			e.mu.Unlock()
			serr := newValidationError(result, requested)
			telemetry.ValidationFailures.Inc()
			e.log.Debug().Str("op", op).Strs("errors", result.Errors).Msg("selection rejected")
			e.reportError(serr)
			return serr
		}
	}
	after := e.commit(next, o)
	e.log.Debug().Str("op", op).Int("selected", next.Len()).Msg("selection committed")
	e.mu.Unlock()

	if after != nil {
		after()
	}
	return nil
}

// commit installs next as the live state. Caller holds e.mu. The returned
// func, if any, must be called after the lock is released.
func (e *Engine) commit(next *State, o callOptions) func() {
	prev := e.state
	e.state = next
	if e.history != nil && !e.replaying {
		e.history.Push(next)
	}
	e.replaying = false

	if e.persist != nil && !slices.Equal(prev.Order, next.Order) {
		e.persist.save(slices.Clone(next.Order))
	}

	added, removed := diffSelection(prev.Order, next.Order)
	if len(added) == 0 && len(removed) == 0 {
		return nil
	}
	telemetry.SelectionChanges.WithLabelValues(string(o.source)).Inc()
	if o.silent {
		return nil
	}

	evt := ChangeEvent{
		Added:   e.catalog.Resolve(added),
		Removed: e.resolveRemoved(removed),
		Current: e.catalog.Resolve(next.Order),
		Source:  o.source,
	}
	if e.batch != nil {
		e.batch.enqueue(evt)
		return nil
	}
	return func() { e.deliver(evt) }
}

func (e *Engine) deliver(evt ChangeEvent) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.delivering.Add(1)
	e.mu.Unlock()
	defer e.delivering.Done()

	mode := "immediate"
	if e.batch != nil {
		mode = "batched"
	}
	telemetry.Notifications.WithLabelValues(mode).Inc()
	if e.onChange != nil {
		e.onChange(evt)
	}
}

func (e *Engine) reportError(err *SelectionError) {
	if e.onError != nil {
		e.onError(err)
	}
}

// resolveRemoved keeps ids whose zone left the catalog so listeners still
// learn what was removed.
func (e *Engine) resolveRemoved(ids []string) []Zone {
	zones := make([]Zone, 0, len(ids))
	for _, id := range ids {
		if z, ok := e.catalog.Get(id); ok {
			zones = append(zones, z)
			continue
		}
		zones = append(zones, Zone{ID: id})
	}
	return zones
}

// buildState selects ids on top of base without validation.
func (e *Engine) buildState(base *State, ids []string) *State {
	return Reduce(base, SelectMultiple{Zones: e.catalog.Resolve(ids)})
}

// snapshot returns the catalog and oracle for work done outside the lock.
func (e *Engine) snapshot() (*Catalog, geometry.Oracle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.catalog, e.oracle
}

// Close cancels pending notifications, waits for a change callback already
// running and flushes the last persisted selection. No change callback
// starts after Close returns and further mutating calls return ErrClosed.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	if e.batch != nil {
		e.batch.stop()
	}
	p := e.persist
	e.mu.Unlock()

	e.delivering.Wait()
	if p != nil {
		p.close()
	}
}

// diffSelection returns ids present only in next and only in previous,
// each in the order of its own slice.
func diffSelection(previous, next []string) (added []string, removed []string) {
	prevSet := make(map[string]struct{}, len(previous))
	nextSet := make(map[string]struct{}, len(next))

	for _, id := range previous {
		prevSet[id] = struct{}{}
	}
	for _, id := range next {
		nextSet[id] = struct{}{}
		if _, exists := prevSet[id]; !exists {
			added = append(added, id)
		}
	}
	for _, id := range previous {
		if _, exists := nextSet[id]; !exists {
			removed = append(removed, id)
		}
	}
	return
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
