package bandit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fyrsmithlabs/velocity/internal/checkpoint"
	"github.com/fyrsmithlabs/velocity/internal/features"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/velocity/internal/bandit"

// Encoder turns a (task, candidate) pair into a feature vector.
type Encoder interface {
	Encode(task features.Task, cand features.Candidate) []float64
}

// Persister stores and retrieves whole-store snapshots.
// *checkpoint.Manager implements it.
type Persister interface {
	Save(ctx context.Context, snap *checkpoint.Snapshot) error
	Load(ctx context.Context, dimension int) (*checkpoint.Snapshot, error)
}

// ScoreResult is the evaluation of one arm against one context.
type ScoreResult struct {
	ID          string    `json:"candidate_id"`
	Score       float64   `json:"score"`
	Confidence  float64   `json:"confidence"`
	Mean        float64   `json:"mean"`
	Uncertainty float64   `json:"uncertainty"`
	Features    []float64 `json:"features"`
}

// ArmSummary describes an arm without its parameters.
type ArmSummary struct {
	ID        string    `json:"id"`
	Updates   uint64    `json:"updates"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// ArmDetail exposes the learned parameters of one arm.
type ArmDetail struct {
	ID        string      `json:"id"`
	A         [][]float64 `json:"a"`
	B         []float64   `json:"b"`
	Theta     []float64   `json:"theta"`
	Updates   uint64      `json:"updates"`
	UpdatedAt time.Time   `json:"updated_at,omitzero"`
}

// Engine scores candidates with disjoint LinUCB and learns from rewards.
type Engine struct {
	cfg       Config
	encoder   Encoder
	persister Persister
	logger    *zap.Logger
	tracer    trace.Tracer
	metrics   *Metrics
	now       func() time.Time

	// tuning holds the parameters Tune may replace at runtime.
	tuning atomic.Pointer[Tuning]

	// mu guards the store pointer. Scoring and updates hold the read side
	// for their whole duration; Restore holds the write side to swap.
	mu    sync.RWMutex
	store *ArmStore

	// persistMu orders snapshot-and-write so an older snapshot never
	// overwrites a newer one.
	persistMu sync.Mutex

	// closeMu is held shared by Update for its whole body so Close only
	// proceeds once in-flight updates have marked the store dirty.
	closeMu sync.RWMutex

	dirty     atomic.Bool
	closed    atomic.Bool
	flushCh   chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// Option configures an Engine.
type Option func(*Engine)

// WithEncoder replaces the default feature encoder.
func WithEncoder(enc Encoder) Option {
	return func(e *Engine) {
		e.encoder = enc
	}
}

// WithPersister enables persistence of learned state.
func WithPersister(p Persister) Option {
	return func(e *Engine) {
		e.persister = p
	}
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) {
		e.tracer = tp.Tracer(instrumentationName)
	}
}

// WithClock overrides time.Now for arm timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates an engine with an empty arm store. Call Load to restore
// persisted state.
func New(cfg Config, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bandit config: %w", err)
	}
	if logger == nil {
		return nil, errors.New("logger is required for bandit engine")
	}

	e := &Engine{
		cfg:     cfg,
		logger:  logger,
		tracer:  otel.Tracer(instrumentationName),
		metrics: NewMetrics(),
		now:     time.Now,
		store:   NewArmStore(cfg.Dimension),
		flushCh: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	e.tuning.Store(&Tuning{Alpha: cfg.Alpha, Reward: cfg.Reward})
	for _, opt := range opts {
		opt(e)
	}

	if e.encoder == nil {
		enc, err := features.NewEncoder()
		if err != nil {
			return nil, fmt.Errorf("create feature encoder: %w", err)
		}
		e.encoder = enc
	}

	if e.persister != nil && cfg.FlushMode == FlushAsync {
		e.wg.Add(1)
		go e.flushLoop()
	}
	return e, nil
}

// Config returns the engine parameters, including the current tuning.
func (e *Engine) Config() Config {
	cfg := e.cfg
	t := e.tuning.Load()
	cfg.Alpha = t.Alpha
	cfg.Reward = t.Reward
	return cfg
}

// Tune replaces alpha and the reward policy without touching learned
// state. Scores computed after Tune returns use the new values.
func (e *Engine) Tune(t Tuning) error {
	cfg := e.cfg
	cfg.Alpha = t.Alpha
	cfg.Reward = t.Reward
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid tuning: %w", err)
	}
	old := e.tuning.Swap(&t)
	if *old != t {
		e.logger.Info("bandit tuning changed",
			zap.Float64("alpha", t.Alpha),
			zap.Float64("previous_alpha", old.Alpha),
			zap.Bool("reward_clamp", t.Reward.Clamp),
		)
	}
	return nil
}

// ModelVersion returns the configured model version label.
func (e *Engine) ModelVersion() string { return e.cfg.ModelVersion }

// Load replaces the arm store with the persisted snapshot and returns the
// number of arms restored. A missing snapshot starts empty. An unreadable
// or invalid snapshot is logged and also starts empty.
func (e *Engine) Load(ctx context.Context) int {
	if e.persister == nil {
		return 0
	}

	snap, err := e.persister.Load(ctx, e.cfg.Dimension)
	switch {
	case errors.Is(err, checkpoint.ErrNotFound):
		e.logger.Info("no persisted bandit state, starting empty")
		return 0
	case err != nil:
		e.logger.Error("failed to load bandit state, starting empty", zap.Error(err))
		return 0
	}

	store := armStoreFromSnapshot(snap)
	e.mu.Lock()
	e.store = store
	e.mu.Unlock()

	e.metrics.Arms.Set(float64(store.Len()))
	e.logger.Info("loaded bandit state",
		zap.Int("arms", store.Len()),
		zap.String("model_version", snap.ModelVersion),
		zap.Time("saved_at", snap.SavedAt),
	)
	return store.Len()
}

// Score evaluates a single arm against x, creating the arm if unseen.
func (e *Engine) Score(ctx context.Context, id string, x []float64) (ScoreResult, error) {
	if err := e.validate("score", id, x); err != nil {
		return ScoreResult{}, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.score(ctx, id, x), nil
}

// Rank encodes every candidate against task and returns them ordered by
// score descending, ties broken by id ascending.
func (e *Engine) Rank(ctx context.Context, task features.Task, cands []features.Candidate) ([]ScoreResult, error) {
	xs := make([][]float64, len(cands))
	for i, c := range cands {
		xs[i] = e.encoder.Encode(task, c)
	}
	return e.RankVectors(ctx, features.IDs(cands), xs)
}

// RankVectors ranks precomputed feature vectors. ids[i] is scored
// against xs[i]. Every input is validated before any arm is created.
func (e *Engine) RankVectors(ctx context.Context, ids []string, xs [][]float64) ([]ScoreResult, error) {
	ctx, span := e.tracer.Start(ctx, "bandit.Rank",
		trace.WithAttributes(attribute.Int("candidates", len(ids))))
	defer span.End()

	if len(ids) != len(xs) {
		err := fmt.Errorf("%w: %d ids, %d vectors", ErrLengthMismatch, len(ids), len(xs))
		e.fail(span, "rank", err)
		return nil, err
	}
	for i := range ids {
		if err := e.validate("rank", ids[i], xs[i]); err != nil {
			e.fail(span, "rank", err)
			return nil, err
		}
	}

	e.metrics.Ranks.Inc()
	e.metrics.RankCandidates.Observe(float64(len(ids)))

	results := make([]ScoreResult, len(ids))
	e.mu.RLock()
	for i := range ids {
		results[i] = e.score(ctx, ids[i], xs[i])
	}
	e.mu.RUnlock()

	sortResults(results)
	return results, nil
}

// sortResults orders by score descending, then id ascending. Equal pairs
// keep input order.
func sortResults(results []ScoreResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
}

// score must be called with e.mu read-locked and validated input.
func (e *Engine) score(ctx context.Context, id string, x []float64) ScoreResult {
	arm := e.getOrCreate(id)
	est := arm.estimate(x, e.tuning.Load().Alpha)
	if est.degenerate {
		e.metrics.DegenerateInversions.Inc()
		e.logger.Warn("arm matrix is ill-conditioned, using pseudo-inverse",
			zap.String("arm.id", id))
	}

	return ScoreResult{
		ID:          id,
		Score:       est.mean + est.uncertainty,
		Confidence:  1 / (est.uncertainty + e.cfg.Epsilon),
		Mean:        est.mean,
		Uncertainty: est.uncertainty,
		Features:    append([]float64(nil), x...),
	}
}

// Update learns from reward observed for arm id in context x.
func (e *Engine) Update(ctx context.Context, id string, x []float64, reward float64) error {
	e.closeMu.RLock()
	defer e.closeMu.RUnlock()
	if e.closed.Load() {
		return ErrClosed
	}

	ctx, span := e.tracer.Start(ctx, "bandit.Update",
		trace.WithAttributes(attribute.String("arm.id", id)))
	defer span.End()

	if err := e.validate("update", id, x); err != nil {
		e.fail(span, "update", err)
		return err
	}
	if math.IsNaN(reward) || math.IsInf(reward, 0) {
		err := fmt.Errorf("update arm %q: %w", id, ErrNonFiniteReward)
		e.fail(span, "update", err)
		return err
	}

	r, clamped := e.tuning.Load().Reward.clamp(reward)
	if clamped {
		e.metrics.RewardsClamped.Inc()
		e.logger.Debug("reward clamped",
			zap.String("arm.id", id),
			zap.Float64("reward", reward),
			zap.Float64("clamped", r),
		)
	}
	span.SetAttributes(attribute.Float64("reward", r))

	e.mu.RLock()
	arm := e.getOrCreate(id)
	arm.update(x, r, e.now().UTC())
	e.mu.RUnlock()

	e.metrics.Updates.Inc()
	e.dirty.Store(true)
	e.flush(ctx)
	return nil
}

// Checkpoint serializes the whole arm store.
func (e *Engine) Checkpoint(ctx context.Context) ([]byte, error) {
	_, span := e.tracer.Start(ctx, "bandit.Checkpoint")
	defer span.End()

	snap := e.snapshot()
	span.SetAttributes(attribute.Int("arms", len(snap.Arms)))
	data, err := checkpoint.Encode(snap, false)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return data, nil
}

// Restore replaces the whole arm store with the decoded blob. The
// previous state is kept if the blob is invalid. The restored state is
// persisted before returning.
func (e *Engine) Restore(ctx context.Context, blob []byte) error {
	ctx, span := e.tracer.Start(ctx, "bandit.Restore")
	defer span.End()

	snap, err := checkpoint.Decode(blob, e.cfg.Dimension)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("restore: %w", err)
	}

	store := armStoreFromSnapshot(snap)
	e.mu.Lock()
	e.store = store
	e.mu.Unlock()

	e.metrics.Arms.Set(float64(store.Len()))
	span.SetAttributes(attribute.Int("arms", store.Len()))
	e.logger.Info("restored bandit state", zap.Int("arms", store.Len()))

	e.dirty.Store(true)
	e.persist(ctx)
	return nil
}

// Arms lists every arm in id order.
func (e *Engine) Arms() []ArmSummary {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := e.store.IDs()
	out := make([]ArmSummary, 0, len(ids))
	for _, id := range ids {
		arm, ok := e.store.Get(id)
		if !ok {
			continue
		}
		updates, at := arm.stats()
		out = append(out, ArmSummary{ID: id, Updates: updates, UpdatedAt: at})
	}
	return out
}

// Inspect returns the learned parameters of one arm without creating it.
func (e *Engine) Inspect(id string) (ArmDetail, error) {
	e.mu.RLock()
	arm, ok := e.store.Get(id)
	e.mu.RUnlock()
	if !ok {
		return ArmDetail{}, fmt.Errorf("%w: %q", ErrArmNotFound, id)
	}

	st := arm.state()
	return ArmDetail{
		ID:        id,
		A:         st.A,
		B:         st.B,
		Theta:     arm.theta(),
		Updates:   st.Updates,
		UpdatedAt: st.UpdatedAt,
	}, nil
}

// Len returns the number of arms.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.Len()
}

// Flush writes the current state to the Persister now.
func (e *Engine) Flush(ctx context.Context) error {
	return e.persist(ctx)
}

// Close stops the background flusher and writes any unflushed state.
// Update fails with ErrClosed afterwards.
func (e *Engine) Close(ctx context.Context) error {
	e.closeOnce.Do(func() {
		e.closeMu.Lock()
		e.closed.Store(true)
		e.closeMu.Unlock()

		close(e.done)
		e.wg.Wait()
		if e.dirty.Load() {
			e.closeErr = e.persist(ctx)
		}
	})
	return e.closeErr
}

// getOrCreate must be called with e.mu read-locked.
func (e *Engine) getOrCreate(id string) *Arm {
	arm, created := e.store.GetOrCreate(id)
	if created {
		e.metrics.ArmsCreated.Inc()
		e.metrics.Arms.Set(float64(e.store.Len()))
		e.logger.Debug("created arm", zap.String("arm.id", id))
	}
	return arm
}

func (e *Engine) snapshot() *checkpoint.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.Snapshot(e.cfg.ModelVersion)
}

// flush persists according to the flush mode.
func (e *Engine) flush(ctx context.Context) {
	if e.persister == nil {
		return
	}
	if e.cfg.FlushMode == FlushAsync {
		select {
		case e.flushCh <- struct{}{}:
		default:
		}
		return
	}
	// The write outlives a cancelled request; the persister's own timeout
	// bounds it.
	_ = e.persist(context.WithoutCancel(ctx))
}

// persist writes a fresh snapshot. Failures are logged and counted; the
// in-memory state is kept either way.
func (e *Engine) persist(ctx context.Context) error {
	if e.persister == nil {
		return nil
	}

	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	e.dirty.Store(false)
	snap := e.snapshot()

	start := time.Now()
	err := e.persister.Save(ctx, snap)
	e.metrics.PersistDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		e.dirty.Store(true)
		e.metrics.PersistTotal.WithLabelValues("error").Inc()
		e.logger.Warn("failed to persist bandit state, keeping in-memory state",
			zap.Int("arms", len(snap.Arms)),
			zap.Error(err),
		)
		return err
	}
	e.metrics.PersistTotal.WithLabelValues("ok").Inc()
	return nil
}

func (e *Engine) flushLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.flushCh:
			if e.dirty.Load() {
				_ = e.persist(context.Background())
			}
		case <-e.done:
			return
		}
	}
}

// validate checks id and x. op labels the validation metric.
func (e *Engine) validate(op, id string, x []float64) error {
	var err error
	switch {
	case id == "":
		err = fmt.Errorf("%s: %w", op, ErrEmptyArmID)
	case len(x) != e.cfg.Dimension:
		err = &DimensionError{Op: op, ArmID: id, Want: e.cfg.Dimension, Got: len(x)}
	default:
		for i, v := range x {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				err = fmt.Errorf("%s arm %q: component %d: %w", op, id, i, ErrNonFiniteFeature)
				break
			}
		}
	}
	if err != nil {
		e.metrics.ValidationFails.WithLabelValues(op).Inc()
	}
	return err
}

func (e *Engine) fail(span trace.Span, op string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	e.logger.Debug("rejected input", zap.String("op", op), zap.Error(err))
}
