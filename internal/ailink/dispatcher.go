package ailink

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nexusadvisory/llmgate/internal/ailink/driver"
)

const (
	DefaultMaxAttempts   = 3
	DefaultMinSpacing    = 2 * time.Second
	DefaultQuotaLimit    = 120
	DefaultQuotaWindow   = 5 * time.Hour
	DefaultMaxTokens     = 4000
	DefaultSystemPrompt  = "You are a helpful assistant."
	DefaultQuotaStoreKey = "fallback"
)

// ErrFallbackQuotaExhausted is recorded when the fallback branch is skipped
// because the window is spent and no call failure has been seen yet.
var ErrFallbackQuotaExhausted = errors.New("fallback quota exhausted")

// DispatcherOptions wires a Dispatcher.
type DispatcherOptions struct {
	Pool     *ProviderPool
	Fallback *Endpoint
	Limiter  *RateLimiter

	QuotaLimit  int
	QuotaWindow time.Duration
	QuotaStore  QuotaStore
	QuotaKey    string

	MaxAttempts         int
	DefaultTimeout      time.Duration
	DefaultMaxTokens    int
	DefaultSystemPrompt string

	Logger Logger
	Clock  func() time.Time
}

// Dispatcher routes generation requests across the pool and the fallback,
// retrying through a sticky PRIMARY/FALLBACK state machine.
type Dispatcher struct {
	pool     *ProviderPool
	fallback *Endpoint
	limiter  *RateLimiter
	store    QuotaStore
	quotaKey string
	logger   Logger
	clock    func() time.Time

	quotaLimit  int
	quotaWindow time.Duration

	maxAttempts      int
	defaultTimeout   time.Duration
	defaultMaxTokens int
	defaultSystem    string

	mu      sync.Mutex
	cursor  int
	mode    Mode
	lastErr error
	quota   *QuotaTracker
	plain   map[string]bool
}

// NewDispatcher validates options and applies defaults.
func NewDispatcher(opts DispatcherOptions) (*Dispatcher, error) {
	if opts.Pool == nil || opts.Pool.Len() == 0 {
		return nil, ErrNoEndpoints
	}
	if opts.Fallback != nil {
		if opts.Fallback.Driver == nil {
			return nil, fmt.Errorf("fallback endpoint %s has no driver", opts.Fallback.ID)
		}
		fb := *opts.Fallback
		if fb.ID == "" {
			fb.ID = endpointID(fb.Provider, fb.Model)
		}
		opts.Fallback = &fb
	}
	if opts.Limiter == nil {
		opts.Limiter = NewRateLimiter(DefaultMinSpacing)
	}
	if opts.QuotaLimit <= 0 {
		opts.QuotaLimit = DefaultQuotaLimit
	}
	if opts.QuotaWindow <= 0 {
		opts.QuotaWindow = DefaultQuotaWindow
	}
	if opts.QuotaKey == "" {
		opts.QuotaKey = DefaultQuotaStoreKey
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.DefaultMaxTokens <= 0 {
		opts.DefaultMaxTokens = DefaultMaxTokens
	}
	if opts.DefaultSystemPrompt == "" {
		opts.DefaultSystemPrompt = DefaultSystemPrompt
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	d := &Dispatcher{
		pool:             opts.Pool,
		fallback:         opts.Fallback,
		limiter:          opts.Limiter,
		store:            opts.QuotaStore,
		quotaKey:         opts.QuotaKey,
		quotaLimit:       opts.QuotaLimit,
		quotaWindow:      opts.QuotaWindow,
		logger:           opts.Logger,
		clock:            opts.Clock,
		maxAttempts:      opts.MaxAttempts,
		defaultTimeout:   opts.DefaultTimeout,
		defaultMaxTokens: opts.DefaultMaxTokens,
		defaultSystem:    opts.DefaultSystemPrompt,
		mode:             ModePrimary,
		quota:            NewQuotaTracker(opts.QuotaLimit, opts.QuotaWindow, opts.Clock()),
		plain:            map[string]bool{},
	}
	observeState(d.mode, d.quota.Snapshot())
	return d, nil
}

// Restore loads the persisted fallback window, if a store is configured.
func (d *Dispatcher) Restore(ctx context.Context) error {
	if d.store == nil {
		return nil
	}
	window, err := d.store.LoadQuota(ctx, d.quotaKey)
	if err != nil {
		return fmt.Errorf("load quota window: %w", err)
	}
	if window == nil {
		return nil
	}

	d.mu.Lock()
	d.quota.Restore(*window)
	snap := d.quota.Snapshot()
	mode := d.mode
	d.mu.Unlock()

	observeState(mode, snap)
	d.logger.Info("Restored fallback quota window",
		zap.String("key", d.quotaKey),
		zap.Int("count", snap.Count),
		zap.Time("window_start", snap.WindowStart))
	return nil
}

// ForceMode sets the sticky mode. FALLBACK requires a configured fallback.
func (d *Dispatcher) ForceMode(mode Mode) error {
	if mode == ModeFallback && d.fallback == nil {
		return errors.New("no fallback endpoint configured")
	}
	d.mu.Lock()
	d.mode = mode
	snap := d.quota.Snapshot()
	d.mu.Unlock()
	observeState(mode, snap)
	return nil
}

// Mode returns the current sticky mode.
func (d *Dispatcher) Mode() Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

// Snapshot copies the dispatch state.
func (d *Dispatcher) Snapshot() DispatchSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	snap := DispatchSnapshot{
		Mode:     d.mode.String(),
		Cursor:   d.cursor,
		PoolSize: d.pool.Len(),
		Pool:     d.pool.IDs(),
		Quota:    d.quota.Snapshot(),
	}
	if d.fallback != nil {
		snap.Fallback = d.fallback.ID
	}
	if d.lastErr != nil {
		snap.LastError = d.lastErr.Error()
	}
	for id := range d.plain {
		snap.PlainMode = append(snap.PlainMode, id)
	}
	slices.Sort(snap.PlainMode)
	return snap
}

// Pool returns the configured pool.
func (d *Dispatcher) Pool() *ProviderPool { return d.pool }

// Fallback returns the fallback endpoint or nil.
func (d *Dispatcher) Fallback() *Endpoint { return d.fallback }

// Generate runs the attempt loop until an endpoint succeeds, the attempt budget
// is spent, or ctx ends.
func (d *Dispatcher) Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error) {
	if req.SystemPrompt == "" {
		req.SystemPrompt = d.defaultSystem
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = d.defaultMaxTokens
	}
	if _, ok := ctx.Deadline(); !ok && d.defaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.defaultTimeout)
		defer cancel()
	}

	requestID := RequestIDFrom(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	var lastErr error

	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, &TimeoutError{Attempts: attempt - 1, LastErr: lastErr, Err: err}
		}

		if d.Mode() == ModePrimary {
			ep := d.selectPrimary()
			d.logger.Debug("Dispatching to pool endpoint",
				zap.String("request_id", requestID),
				zap.String("endpoint", ep.ID),
				zap.Int("attempt", attempt))

			res, err := d.call(ctx, ep, TierPrimary, req, requestID, attempt, nil)
			if err == nil {
				return res, nil
			}
			if abort := d.aborted(ctx, err); abort != nil {
				return nil, &TimeoutError{Attempts: attempt, LastErr: lastErr, Err: abort}
			}
			lastErr = err
			if d.fallback == nil {
				d.recordFailure(err, ModePrimary)
				continue
			}
			d.recordFailure(err, ModeFallback)
		}

		if d.fallback == nil {
			d.setMode(ModePrimary)
			if lastErr == nil {
				lastErr = ErrFallbackQuotaExhausted
			}
			continue
		}

		res, err := d.call(ctx, *d.fallback, TierFallback, req, requestID, attempt, d.fallbackGate(requestID))
		if err == nil {
			return res, nil
		}
		if errors.Is(err, ErrFallbackQuotaExhausted) {
			if lastErr == nil {
				lastErr = err
			}
			continue
		}
		if abort := d.aborted(ctx, err); abort != nil {
			return nil, &TimeoutError{Attempts: attempt, LastErr: lastErr, Err: abort}
		}
		lastErr = err
		d.recordFailure(err, ModePrimary)
	}

	GatewayExhausted.Inc()
	d.logger.Error("Gateway exhausted",
		zap.String("request_id", requestID),
		zap.Int("attempts", d.maxAttempts),
		zap.Error(lastErr))
	return nil, &ExhaustedError{Attempts: d.maxAttempts, LastErr: lastErr}
}

func (d *Dispatcher) selectPrimary() Endpoint {
	d.mu.Lock()
	defer d.mu.Unlock()
	ep, next := d.pool.Select(d.cursor)
	d.cursor = next
	return ep
}

func (d *Dispatcher) recordFailure(err error, next Mode) {
	d.mu.Lock()
	d.lastErr = err
	prev := d.mode
	d.mode = next
	snap := d.quota.Snapshot()
	d.mu.Unlock()

	observeState(next, snap)
	if prev != next {
		d.logger.Info("Dispatcher mode changed",
			zap.String("from", prev.String()),
			zap.String("to", next.String()))
	}
}

func (d *Dispatcher) setMode(mode Mode) {
	d.mu.Lock()
	d.mode = mode
	d.mu.Unlock()
}

// reserveQuota counts one fallback use when the window has room. A configured
// store is authoritative so that processes sharing it draw from one window;
// when it fails the local window is used.
func (d *Dispatcher) reserveQuota(ctx context.Context) (QuotaWindow, bool) {
	now := d.clock()
	if d.store != nil {
		w, ok, err := d.store.ReserveQuota(ctx, d.quotaKey, d.quotaLimit, d.quotaWindow, now)
		if err == nil {
			d.mu.Lock()
			d.quota.Restore(w)
			d.mu.Unlock()
			return w, ok
		}
		d.logger.Warn("Quota store reservation failed, counting locally",
			zap.String("key", d.quotaKey),
			zap.Error(err))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.quota.Reserve(now)
}

// fallbackGate runs after the rate-limiter wait, right before the fallback is
// sent. A spent window flips the mode back to PRIMARY.
func (d *Dispatcher) fallbackGate(requestID string) func(context.Context) error {
	return func(ctx context.Context) error {
		w, ok := d.reserveQuota(ctx)

		d.mu.Lock()
		if !ok {
			d.mode = ModePrimary
		}
		mode := d.mode
		d.mu.Unlock()

		observeState(mode, w)
		if ok {
			return nil
		}
		d.logger.Warn("Fallback quota exhausted, returning to pool",
			zap.String("request_id", requestID),
			zap.Int("count", w.Count),
			zap.Int("limit", w.Limit),
			zap.Time("window_end", w.WindowEnd()))
		return ErrFallbackQuotaExhausted
	}
}

// limiterError marks a failure of the rate-limiter wait rather than the call.
type limiterError struct{ err error }

func (e *limiterError) Error() string { return "rate limiter wait: " + e.err.Error() }
func (e *limiterError) Unwrap() error { return e.err }

// aborted returns the context error that should end the loop, if any.
func (d *Dispatcher) aborted(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var lerr *limiterError
	if errors.As(err, &lerr) {
		return lerr.err
	}
	return nil
}

func (d *Dispatcher) jsonMode(ep Endpoint, req GenerationRequest) bool {
	if req.Schema == nil || !ep.Structured {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.plain[ep.ID]
}

func (d *Dispatcher) markPlain(id string) {
	d.mu.Lock()
	d.plain[id] = true
	d.mu.Unlock()
}

// call issues one request to one endpoint, including the one-shot plain-mode
// retry when the provider rejects JSON mode.
// reserve, when set, runs once before the first send.
func (d *Dispatcher) call(ctx context.Context, ep Endpoint, tier Tier, req GenerationRequest, requestID string, attempt int, reserve func(context.Context) error) (*GenerationResult, error) {
	meta := map[string]string{
		driver.MetadataRequestID: requestID,
		driver.MetadataTier:      string(tier),
		"attempt":                strconv.Itoa(attempt),
	}

	jsonMode := d.jsonMode(ep, req)
	resp, err := d.complete(ctx, ep, tier, buildDriverRequest(ep, req, jsonMode, meta), reserve)
	if err != nil && jsonMode && isJSONModeUnsupported(err) {
		d.markPlain(ep.ID)
		d.logger.Info("Endpoint rejected JSON mode, retrying in plain mode",
			zap.String("request_id", requestID),
			zap.String("endpoint", ep.ID))
		resp, err = d.complete(ctx, ep, tier, buildDriverRequest(ep, req, false, meta), nil)
	}
	if err != nil {
		var lerr *limiterError
		if errors.As(err, &lerr) || errors.Is(err, ErrFallbackQuotaExhausted) {
			return nil, err
		}
		kind := classifyError(err)
		d.logger.Warn("Provider call failed",
			zap.String("request_id", requestID),
			zap.String("endpoint", ep.ID),
			zap.String("tier", string(tier)),
			zap.String("kind", string(kind)),
			zap.Error(err))
		return nil, &CallError{Endpoint: ep.ID, Tier: tier, Kind: kind, Err: err}
	}

	text, record, err := Extract(resp.Text(), req.Schema)
	if err != nil {
		GatewayCalls.WithLabelValues(ep.ID, string(tier), string(KindMalformedResponse)).Inc()
		d.logger.Warn("Response extraction failed",
			zap.String("request_id", requestID),
			zap.String("endpoint", ep.ID),
			zap.String("raw", safeOneLine(string(truncateBytes([]byte(resp.Text()), 256)))),
			zap.Error(err))
		return nil, &CallError{Endpoint: ep.ID, Tier: tier, Kind: KindMalformedResponse, Err: err}
	}
	GatewayCalls.WithLabelValues(ep.ID, string(tier), "success").Inc()

	return &GenerationResult{
		Text:      text,
		Record:    record,
		Endpoint:  ep.ID,
		Tier:      tier,
		Attempts:  attempt,
		RequestID: requestID,
	}, nil
}

func (d *Dispatcher) complete(ctx context.Context, ep Endpoint, tier Tier, dreq *driver.Request, reserve func(context.Context) error) (*driver.Response, error) {
	if err := d.limiter.WaitIfNeeded(ctx); err != nil {
		return nil, &limiterError{err: err}
	}
	if reserve != nil {
		if err := reserve(ctx); err != nil {
			return nil, err
		}
	}
	start := time.Now()
	resp, err := ep.Driver.Complete(ctx, dreq)
	GatewayCallDuration.WithLabelValues(string(tier)).Observe(time.Since(start).Seconds())
	if err != nil {
		GatewayCalls.WithLabelValues(ep.ID, string(tier), string(classifyError(err))).Inc()
		return nil, err
	}
	return resp, nil
}
