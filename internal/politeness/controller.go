// Package politeness enforces per-domain dispatch limits: a minimum gap
// between requests, a concurrency cap, and a consecutive-failure circuit
// breaker with a cooldown and a half-open probe.
package politeness

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/marketmap/shopcrawler/internal/crawler"
	"github.com/marketmap/shopcrawler/internal/metrics"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// Config holds politeness controller settings.
type Config struct {
	// Interval is the minimum gap between dispatches to one domain.
	Interval time.Duration
	// ConcurrencyCap bounds simultaneous in-flight fetches per domain.
	ConcurrencyCap int
	// FailureThreshold is the consecutive-failure count that opens the
	// breaker.
	FailureThreshold int
	// Cooldown is how long an open breaker denies dispatch before allowing
	// a single probe.
	Cooldown time.Duration
}

type domainState struct {
	limiter      *rate.Limiter
	inFlight     int
	consecFails  int
	breaker      breakerState
	openUntil    time.Time
	probeInAir   bool
	lastDispatch time.Time
}

// Controller implements crawler.RateController. All methods return
// immediately; it never blocks the caller.
type Controller struct {
	mu      sync.Mutex
	domains map[string]*domainState
	cfg     Config
	clock   crawler.Clock
	logger  *zap.Logger
}

// New constructs a Controller.
func New(cfg Config, clock crawler.Clock, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ConcurrencyCap <= 0 {
		cfg.ConcurrencyCap = 1
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	return &Controller{
		domains: make(map[string]*domainState),
		cfg:     cfg,
		clock:   clock,
		logger:  logger,
	}
}

// Admit reports whether a dispatch to domain may proceed now. On admission
// it stamps the dispatch time and increments the in-flight count.
func (c *Controller) Admit(domain string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.state(domain)
	now := c.clock.Now()

	switch st.breaker {
	case breakerOpen:
		if now.Before(st.openUntil) {
			return false
		}
		// Cooldown elapsed; allow a single probe through.
		st.breaker = breakerHalfOpen
		st.probeInAir = false
		metrics.ObserveBreaker("half_open")
		c.logger.Debug("breaker half-open", zap.String("domain", domain))
	case breakerHalfOpen:
		if st.probeInAir {
			return false
		}
	}

	if st.inFlight >= c.cfg.ConcurrencyCap {
		return false
	}
	if !st.limiter.AllowN(now, 1) {
		return false
	}

	st.inFlight++
	st.lastDispatch = now
	if st.breaker == breakerHalfOpen {
		st.probeInAir = true
	}
	return true
}

// Release records completion of an admitted dispatch. A failure feeds the
// breaker; success resets it.
func (c *Controller) Release(domain string, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.state(domain)
	if st.inFlight > 0 {
		st.inFlight--
	}

	if success {
		st.consecFails = 0
		if st.breaker != breakerClosed {
			st.breaker = breakerClosed
			st.probeInAir = false
			metrics.ObserveBreaker("closed")
			c.logger.Info("breaker closed", zap.String("domain", domain))
		}
		return
	}

	st.consecFails++
	if st.breaker == breakerHalfOpen {
		// Probe failed: reopen for another full cooldown.
		c.open(domain, st)
		return
	}
	if st.consecFails >= c.cfg.FailureThreshold {
		c.open(domain, st)
	}
}

// InFlight returns the current in-flight count for a domain.
func (c *Controller) InFlight(domain string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state(domain).inFlight
}

func (c *Controller) open(domain string, st *domainState) {
	st.breaker = breakerOpen
	st.probeInAir = false
	st.openUntil = c.clock.Now().Add(c.cfg.Cooldown)
	metrics.ObserveBreaker("open")
	c.logger.Warn("breaker open",
		zap.String("domain", domain),
		zap.Int("consecutive_failures", st.consecFails),
		zap.Time("until", st.openUntil),
	)
}

func (c *Controller) state(domain string) *domainState {
	st, ok := c.domains[domain]
	if !ok {
		lim := rate.Limit(rate.Inf)
		if c.cfg.Interval > 0 {
			lim = rate.Every(c.cfg.Interval)
		}
		st = &domainState{limiter: rate.NewLimiter(lim, 1)}
		c.domains[domain] = st
	}
	return st
}
