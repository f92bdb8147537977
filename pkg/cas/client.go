// Package cas fetches claims ledgers from content-addressed storage and
// verifies their integrity before anything downstream trusts them.
package cas

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/S01-Issuer/claims-engine/pkg/retry"
	"github.com/S01-Issuer/claims-engine/pkg/utils"
)

// Client is an HTTP fetcher for content-addressed gateways with a
// token-bucket rate limit and a per-host circuit-breaker, so one slow or
// dead gateway cannot starve every claim source that shares it.
type Client struct {
	client   *http.Client
	logger   *zap.Logger
	retryCfg retry.Config

	// token-bucket
	tokens      int64
	maxTokens   int64
	refillEvery time.Duration
	lastRefill  atomic.Value // time.Time

	// circuit-breaker
	mu       sync.Mutex
	failures map[string]int
	opened   map[string]time.Time

	breakerThreshold int
	breakerCooldown  time.Duration
}

// Opts is the set of options for a new Client.
type Opts struct {
	Timeout         time.Duration
	RPS             int
	Burst           int
	BreakerFailures int
	BreakerCooldown time.Duration
	Retry           *retry.Config
	HTTPClient      *http.Client
}

// NewClient creates a gateway client with the given options.
func NewClient(logger *zap.Logger, o Opts) *Client {
	if o.RPS <= 0 {
		o.RPS = 20
	}
	if o.Burst <= 0 {
		o.Burst = 40
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.BreakerFailures <= 0 {
		o.BreakerFailures = 3
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = 10 * time.Second
	}
	retryCfg := retry.DefaultConfig()
	if o.Retry != nil {
		retryCfg = *o.Retry
	}

	client := o.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: o.Timeout}
	} else if client.Timeout == 0 {
		client.Timeout = o.Timeout
	}

	c := &Client{
		client:           client,
		logger:           logger,
		retryCfg:         retryCfg,
		maxTokens:        int64(o.Burst),
		refillEvery:      time.Second / time.Duration(o.RPS),
		failures:         map[string]int{},
		opened:           map[string]time.Time{},
		breakerThreshold: o.BreakerFailures,
		breakerCooldown:  o.BreakerCooldown,
	}
	c.tokens = c.maxTokens
	c.lastRefill.Store(time.Now())
	return c
}

// Fetch retrieves the raw bytes behind a content link, retrying transient
// failures with backoff. A non-2xx status is an ErrFetch.
func (c *Client) Fetch(ctx context.Context, link string) ([]byte, error) {
	host, err := hostOf(link)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}

	var body []byte
	fetchErr := retry.WithBackoff(ctx, c.retryCfg, c.logger, "cas fetch", func() error {
		if c.isOpen(host) {
			return fmt.Errorf("gateway %s circuit open", host)
		}
		if acqErr := c.acquire(ctx); acqErr != nil {
			return acqErr
		}

		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
		if reqErr != nil {
			return reqErr
		}

		resp, doErr := c.client.Do(req)
		if doErr != nil {
			c.noteFailure(host)
			return doErr
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			if resp.StatusCode >= 500 {
				c.noteFailure(host)
			}
			_ = utils.DrainAndClose(resp.Body)
			return fmt.Errorf("http %d", resp.StatusCode)
		}

		b, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			c.noteFailure(host)
			return readErr
		}
		c.noteSuccess(host)
		body = b
		return nil
	})
	if fetchErr != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFetch, link, fetchErr)
	}
	return body, nil
}

func hostOf(link string) (string, error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("content link %q has no host", link)
	}
	return u.Host, nil
}

func (c *Client) refill() {
	last := c.lastRefill.Load().(time.Time)
	now := time.Now()
	if now.Sub(last) >= c.refillEvery {
		if atomic.LoadInt64(&c.tokens) < c.maxTokens {
			atomic.AddInt64(&c.tokens, 1)
		}
		c.lastRefill.Store(now)
	}
}

func (c *Client) acquire(ctx context.Context) error {
	for {
		c.refill()
		for {
			cur := atomic.LoadInt64(&c.tokens)
			if cur <= 0 {
				break
			}
			if atomic.CompareAndSwapInt64(&c.tokens, cur, cur-1) {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.refillEvery / 2):
		}
	}
}

func (c *Client) isOpen(host string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.opened[host]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(c.opened, host)
		c.failures[host] = 0
		return false
	}
	return true
}

func (c *Client) noteFailure(host string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[host]++
	if c.failures[host] >= c.breakerThreshold {
		c.opened[host] = time.Now().Add(c.breakerCooldown)
	}
}

func (c *Client) noteSuccess(host string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[host] = 0
}
