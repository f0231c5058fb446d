package ratelimit

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/keithlinneman/linnemanlabs-api/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-api/internal/log"
	"github.com/keithlinneman/linnemanlabs-api/internal/xerrors"
)

const (
	DefaultMinuteLimit    = 10
	DefaultBurstLimit     = 5
	DefaultMinuteWindow   = 60 * time.Second
	DefaultBurstWindow    = 10 * time.Second
	DefaultSweepInterval  = 120 * time.Second
	DefaultIdleFactor     = 2
	DefaultMaxIdentifiers = 100000

	// UnknownIdentifier is the shared bucket for requests with no resolvable origin
	UnknownIdentifier = "unknown"
)

// Reason says which limit rejected a request.
type Reason string

const (
	ReasonNone     Reason = ""
	ReasonBurst    Reason = "burst"
	ReasonMinute   Reason = "minute"
	ReasonCapacity Reason = "capacity"
)

// Decision is the outcome of a single Check.
type Decision struct {
	Allowed bool
	Reason  Reason
	// RetryAfter is how long until the blocking window has room again, 0 when allowed or unknown
	RetryAfter time.Duration
}

// client holds the request timestamps still inside each window, oldest first
type client struct {
	minute []time.Time
	burst  []time.Time
	// logged tracks whether OnFirstDenied already fired, resets when the entry is swept
	logged bool
}

// Limiter holds per-identifier window state with background eviction of idle identifiers
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*client

	minuteLimit  int
	burstLimit   int
	minuteWindow time.Duration
	burstWindow  time.Duration

	// sweep removes identifiers idle for longer than idleFactor*minuteWindow
	sweepInterval time.Duration
	idleFactor    int

	// maxIdentifiers bounds the map, new identifiers are rejected when full. 0 = unbounded
	maxIdentifiers int
	capacityHit    bool

	now    func() time.Time
	logger log.Logger

	// OnFirstDenied is called once per identifier when it first gets rejected
	OnFirstDenied func(id string)
	// OnDenied is called on every rejection, used for prometheus counters
	OnDenied func(id string, reason Reason)
	// OnCapacity is called once when the identifier map fills up, re-armed after a sweep frees room
	OnCapacity func()
	// OnSweep reports how many identifiers each sweep removed
	OnSweep func(removed int)

	done chan struct{}
}

type Option func(*Limiter)

// WithLimits sets the request ceiling for each window.
// WithLimits(10, 5) allows 10 requests per minute window and 5 per burst window.
func WithLimits(minuteLimit, burstLimit int) Option {
	return func(l *Limiter) {
		l.minuteLimit = minuteLimit
		l.burstLimit = burstLimit
	}
}

// WithWindows sets the length of the sustained and burst windows
func WithWindows(minute, burst time.Duration) Option {
	return func(l *Limiter) {
		l.minuteWindow = minute
		l.burstWindow = burst
	}
}

// WithSweep controls how often idle identifiers are evicted and how many
// minute-windows of idleness qualify. interval 0 disables the sweep goroutine.
func WithSweep(interval time.Duration, idleFactor int) Option {
	return func(l *Limiter) {
		l.sweepInterval = interval
		if idleFactor > 0 {
			l.idleFactor = idleFactor
		}
	}
}

// WithMaxIdentifiers bounds how many identifiers are tracked. 0 disables the bound.
func WithMaxIdentifiers(n int) Option {
	return func(l *Limiter) {
		l.maxIdentifiers = n
	}
}

// WithClock replaces time.Now, used by tests to move time forward
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

func WithLogger(lg log.Logger) Option {
	return func(l *Limiter) {
		l.logger = lg
	}
}

// WithOnFirstDenied sets a callback for the first denial per identifier, used for logging.
// Separate from OnDenied so we log once but still count every denial.
func WithOnFirstDenied(fn func(id string)) Option {
	return func(l *Limiter) {
		l.OnFirstDenied = fn
	}
}

// WithOnDenied sets a callback for every denied request
func WithOnDenied(fn func(id string, reason Reason)) Option {
	return func(l *Limiter) {
		l.OnDenied = fn
	}
}

// WithOnCapacity sets a callback for when the identifier map is full
func WithOnCapacity(fn func()) Option {
	return func(l *Limiter) {
		l.OnCapacity = fn
	}
}

// WithOnSweep sets a callback receiving the number of identifiers each sweep removed
func WithOnSweep(fn func(removed int)) Option {
	return func(l *Limiter) {
		l.OnSweep = fn
	}
}

// New creates a Limiter and starts the background sweep goroutine, which
// stops when ctx is cancelled (app shutdown).
func New(ctx context.Context, opts ...Option) *Limiter {
	l := &Limiter{
		clients:        make(map[string]*client),
		minuteLimit:    DefaultMinuteLimit,
		burstLimit:     DefaultBurstLimit,
		minuteWindow:   DefaultMinuteWindow,
		burstWindow:    DefaultBurstWindow,
		sweepInterval:  DefaultSweepInterval,
		idleFactor:     DefaultIdleFactor,
		maxIdentifiers: DefaultMaxIdentifiers,
		now:            time.Now,
		logger:         log.Nop(),
		done:           make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	if l.sweepInterval > 0 {
		go l.sweepLoop(ctx)
	} else {
		close(l.done)
	}
	return l
}

// Allow reports whether a request from id may proceed and records it if so.
func (l *Limiter) Allow(id string) bool {
	return l.Check(id).Allowed
}

// Check prunes both windows for id, rejects if either is full, and otherwise
// records the request in both. Rejected requests are never recorded.
func (l *Limiter) Check(id string) Decision {
	if id == "" {
		id = UnknownIdentifier
	}
	now := l.now()

	l.mu.Lock()
	c, exists := l.clients[id]
	if !exists {
		if l.maxIdentifiers > 0 && len(l.clients) >= l.maxIdentifiers {
			first := !l.capacityHit
			l.capacityHit = true
			l.mu.Unlock()
			if first && l.OnCapacity != nil {
				l.OnCapacity()
			}
			if l.OnDenied != nil {
				l.OnDenied(id, ReasonCapacity)
			}
			return Decision{Reason: ReasonCapacity}
		}
		c = &client{}
		l.clients[id] = c
	}

	c.minute = prune(c.minute, now, l.minuteWindow)
	c.burst = prune(c.burst, now, l.burstWindow)

	d := l.evaluate(c, now)
	if d.Allowed {
		c.minute = append(c.minute, now)
		c.burst = append(c.burst, now)
		l.mu.Unlock()
		return d
	}

	first := !c.logged
	c.logged = true
	// release before hooks, they may do slow work and every request takes this lock
	l.mu.Unlock()

	if first && l.OnFirstDenied != nil {
		l.OnFirstDenied(id)
	}
	if l.OnDenied != nil {
		l.OnDenied(id, d.Reason)
	}
	return d
}

// evaluate must be called with l.mu held and both windows pruned
func (l *Limiter) evaluate(c *client, now time.Time) Decision {
	var d Decision
	if len(c.minute) >= l.minuteLimit {
		d.Reason = ReasonMinute
		if len(c.minute) > 0 {
			d.RetryAfter = c.minute[0].Add(l.minuteWindow).Sub(now)
		}
	}
	if len(c.burst) >= l.burstLimit {
		var wait time.Duration
		if len(c.burst) > 0 {
			wait = c.burst[0].Add(l.burstWindow).Sub(now)
		}
		// report whichever window keeps the client out longer
		if d.Reason == ReasonNone || wait > d.RetryAfter {
			d.Reason = ReasonBurst
			d.RetryAfter = wait
		}
	}
	d.Allowed = d.Reason == ReasonNone
	return d
}

// prune drops timestamps that fell out of the window, reusing the backing array
func prune(ts []time.Time, now time.Time, window time.Duration) []time.Time {
	i := 0
	for i < len(ts) && now.Sub(ts[i]) >= window {
		i++
	}
	if i == 0 {
		return ts
	}
	n := copy(ts, ts[i:])
	return ts[:n]
}

// Clear forgets every identifier.
func (l *Limiter) Clear() {
	l.mu.Lock()
	l.clients = make(map[string]*client)
	l.capacityHit = false
	l.mu.Unlock()
}

// Len returns the number of tracked identifiers.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Sweep removes identifiers with no recorded requests, or whose oldest
// sustained-window request is older than idleFactor windows. Returns the
// number removed.
func (l *Limiter) Sweep() int {
	now := l.now()
	idle := time.Duration(l.idleFactor) * l.minuteWindow

	l.mu.Lock()
	removed := 0
	for id, c := range l.clients {
		if len(c.minute) == 0 || now.Sub(c.minute[0]) > idle {
			delete(l.clients, id)
			removed++
		}
	}
	if removed > 0 {
		l.capacityHit = false
	}
	l.mu.Unlock()

	if l.OnSweep != nil {
		l.OnSweep(removed)
	}
	return removed
}

// Done is closed once the sweep goroutine has exited.
func (l *Limiter) Done() <-chan struct{} { return l.done }

func (l *Limiter) sweepLoop(ctx context.Context) {
	defer close(l.done)
	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.safeSweep(ctx)
		}
	}
}

func (l *Limiter) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error(ctx, xerrors.Newf("rate limit sweep panic: %v", r), "rate limit sweep aborted")
		}
	}()
	if n := l.Sweep(); n > 0 {
		l.logger.Debug(ctx, "rate limit sweep removed idle identifiers", "removed", n)
	}
}

// deniedBody matches the API error envelope
const deniedBody = `{"success":false,"statusCode":429,"message":"Rate limit exceeded. Please try again later"}`

// Middleware rejects requests over either window with 429. Denied requests
// never reach next.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// client IP is resolved by httpmw.ClientIP further out in the chain
		id := httpmw.ClientIPFromContext(r.Context())

		d := l.Check(id)
		if !d.Allowed {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.Header().Set("Retry-After", retryAfterSeconds(d.RetryAfter))
			w.WriteHeader(http.StatusTooManyRequests)
			if _, err := w.Write([]byte(deniedBody)); err != nil {
				l.logger.Debug(r.Context(), "failed to write rate limit response", "error", err)
			}
			return
		}

		next.ServeHTTP(w, r)
	})
}

// retryAfterSeconds rounds up to whole seconds, minimum 1
func retryAfterSeconds(d time.Duration) string {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		s = 1
	}
	return strconv.Itoa(s)
}
