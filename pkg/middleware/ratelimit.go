package middleware

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/recallmesh/recallmesh/pkg/observability"
)

var ratePattern = regexp.MustCompile(`^(\d+)/(second|minute|hour)$`)

// ParseRate parses a limit string of the form "N/second", "N/minute"
// or "N/hour" into a count and window. Spaces are ignored.
func ParseRate(limit string) (int, time.Duration, error) {
	m := ratePattern.FindStringSubmatch(strings.ReplaceAll(limit, " ", ""))
	if m == nil {
		return 0, 0, fmt.Errorf("invalid rate limit format: %q", limit)
	}
	count, err := strconv.Atoi(m[1])
	if err != nil || count <= 0 {
		return 0, 0, fmt.Errorf("invalid rate limit count: %q", limit)
	}
	var window time.Duration
	switch m[2] {
	case "second":
		window = time.Second
	case "minute":
		window = time.Minute
	case "hour":
		window = time.Hour
	}
	return count, window, nil
}

// slidingWindow counts admissions per key over a trailing window. Only
// admitted requests consume a slot, so the admitted count over any
// window never exceeds max.
type slidingWindow struct {
	max    int
	window time.Duration

	mu    sync.Mutex
	calls map[string][]time.Time
	now   func() time.Time
}

func newSlidingWindow(limit string) (*slidingWindow, error) {
	max, window, err := ParseRate(limit)
	if err != nil {
		return nil, err
	}
	return &slidingWindow{
		max:    max,
		window: window,
		calls:  map[string][]time.Time{},
		now:    time.Now,
	}, nil
}

func (w *slidingWindow) allow(key string) bool {
	if w == nil {
		return true
	}
	now := w.now()
	w.mu.Lock()
	defer w.mu.Unlock()

	q := w.calls[key]
	i := 0
	for i < len(q) && now.Sub(q[i]) > w.window {
		i++
	}
	q = q[i:]
	if len(q) >= w.max {
		w.calls[key] = q
		return false
	}
	w.calls[key] = append(q, now)
	return true
}

// sweep drops keys whose newest admission already left the window.
func (w *slidingWindow) sweep() {
	if w == nil {
		return
	}
	now := w.now()
	w.mu.Lock()
	defer w.mu.Unlock()
	for key, q := range w.calls {
		if len(q) == 0 || now.Sub(q[len(q)-1]) > w.window {
			delete(w.calls, key)
		}
	}
}

// RateLimiter applies two independent sliding-window limits, global
// and per-tenant, both keyed by tenant when one can be resolved from
// the request and by client address otherwise. A request is admitted
// only when both windows admit it.
type RateLimiter struct {
	global *slidingWindow
	tenant *slidingWindow

	logger  observability.Logger
	metrics observability.MetricsClient

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRateLimiter creates a limiter from rate strings such as
// "200/minute". An empty string disables that window. A janitor
// goroutine prunes idle keys until Stop is called.
func NewRateLimiter(globalLimit, tenantLimit string, logger observability.Logger, metrics observability.MetricsClient) (*RateLimiter, error) {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	var global, tenant *slidingWindow
	var err error
	if globalLimit != "" {
		if global, err = newSlidingWindow(globalLimit); err != nil {
			return nil, err
		}
	}
	if tenantLimit != "" {
		if tenant, err = newSlidingWindow(tenantLimit); err != nil {
			return nil, err
		}
	}
	rl := &RateLimiter{
		global:  global,
		tenant:  tenant,
		logger:  logger,
		metrics: metrics,
		stopCh:  make(chan struct{}),
	}
	rl.wg.Add(1)
	go rl.janitor()
	return rl, nil
}

// Stop halts the janitor. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stopCh)
		rl.wg.Wait()
	})
}

func (rl *RateLimiter) janitor() {
	defer rl.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.global.sweep()
			rl.tenant.sweep()
		}
	}
}

// TenantKey resolves the limiter key for a request: the tenant from
// header, path or query when present, else the client address.
func TenantKey(c *gin.Context) string {
	if t := c.GetHeader("X-Tenant-ID"); t != "" {
		return t
	}
	if t := c.Param("tenant_id"); t != "" {
		return t
	}
	if t := c.Query("tenant_id"); t != "" {
		return t
	}
	return c.ClientIP()
}

// Middleware rejects with 429 as soon as either window is full.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := TenantKey(c)
		if !rl.global.allow(key) {
			rl.reject(c, "global", rl.global.max)
			return
		}
		if !rl.tenant.allow(key) {
			rl.reject(c, "tenant", rl.tenant.max)
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) reject(c *gin.Context, scope string, limit int) {
	if rl.metrics != nil {
		rl.metrics.IncrementCounterWithLabels("rate_limit_hits", 1, map[string]string{
			"scope": scope,
			"path":  c.FullPath(),
		})
	}
	rl.logger.Debug("Request rate limited", map[string]interface{}{
		"scope": scope,
		"path":  c.Request.URL.Path,
	})
	c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
	c.Header("X-RateLimit-Remaining", "0")
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"detail":     "Rate limit exceeded",
		"request_id": RequestIDFrom(c),
	})
}
