package cluster

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/dreamware/ledgermesh/internal/platform/metrics"
)

// ErrChannelClosed is returned for calls issued after Close.
var ErrChannelClosed = errors.New("remote node channel closed")

// RemoteCallError describes a call that did not produce a 2xx reply. Status is
// zero when no reply arrived at all (connect failure, timeout, cancellation).
type RemoteCallError struct {
	URL    string
	Status int
	Body   string
	Err    error
}

func (e *RemoteCallError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("remote call to %s failed: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("remote call to %s returned %d: %s", e.URL, e.Status, e.Body)
}

func (e *RemoteCallError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a remote 404.
func IsNotFound(err error) bool {
	var rce *RemoteCallError
	return errors.As(err, &rce) && rce.Status == http.StatusNotFound
}

// ChannelConfig sizes the outbound pool and bounds every call.
type ChannelConfig struct {
	Concurrency    int
	ConnectTimeout time.Duration
	CallTimeout    time.Duration
}

// DefaultChannelConfig matches the production timeouts: 5s to connect, 10s per call.
func DefaultChannelConfig() ChannelConfig {
	return ChannelConfig{Concurrency: 32, ConnectTimeout: 5 * time.Second, CallTimeout: 10 * time.Second}
}

// Channel performs form-encoded HTTP calls to worker nodes on a bounded
// outbound pool that is independent of the inbound request pool. A call holds
// one pool slot for its whole duration. No call is retried.
type Channel struct {
	http    *resty.Client
	sem     *semaphore.Weighted
	log     *zap.Logger
	metrics *metrics.Metrics

	root   context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// NewChannel builds a channel. m may be nil.
func NewChannel(cfg ChannelConfig, log *zap.Logger, m *metrics.Metrics) *Channel {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultChannelConfig().Concurrency
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
		MaxIdleConnsPerHost: cfg.Concurrency,
		IdleConnTimeout:     90 * time.Second,
	}
	client := resty.New().
		SetTransport(transport).
		SetTimeout(cfg.CallTimeout).
		SetLogger(log.Named("resty").Sugar())

	root, cancel := context.WithCancel(context.Background())
	return &Channel{
		http:    client,
		sem:     semaphore.NewWeighted(int64(cfg.Concurrency)),
		log:     log.Named("channel"),
		metrics: m,
		root:    root,
		cancel:  cancel,
	}
}

// Get issues GET addr+path with query params and returns the 2xx body.
func (c *Channel) Get(ctx context.Context, addr, path string, params map[string]string) (string, error) {
	return c.do(ctx, http.MethodGet, addr, path, params)
}

// Post issues a form-encoded POST and returns the 2xx body.
func (c *Channel) Post(ctx context.Context, addr, path string, form map[string]string) (string, error) {
	return c.do(ctx, http.MethodPost, addr, path, form)
}

// Future is the pending result of an asynchronous call.
type Future struct {
	done chan struct{}
	body string
	err  error
}

// Wait blocks until the call completes.
func (f *Future) Wait() (string, error) {
	<-f.done
	return f.body, f.err
}

// GetAsync starts Get and returns immediately.
func (c *Channel) GetAsync(ctx context.Context, addr, path string, params map[string]string) *Future {
	return Go(func() (string, error) { return c.Get(ctx, addr, path, params) })
}

// PostAsync starts Post and returns immediately.
func (c *Channel) PostAsync(ctx context.Context, addr, path string, form map[string]string) *Future {
	return Go(func() (string, error) { return c.Post(ctx, addr, path, form) })
}

// Go runs call on its own goroutine and returns its Future.
func Go(call func() (string, error)) *Future {
	f := &Future{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.body, f.err = call()
	}()
	return f
}

func (c *Channel) do(ctx context.Context, method, addr, path string, params map[string]string) (string, error) {
	url := BaseURL(addr) + path

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", &RemoteCallError{URL: url, Err: ErrChannelClosed}
	}
	c.inflight.Add(1)
	c.mu.Unlock()
	defer c.inflight.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.root, cancel)
	defer stop()

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return "", &RemoteCallError{URL: url, Err: err}
	}
	defer c.sem.Release(1)

	start := time.Now()
	req := c.http.R().SetContext(ctx)
	var (
		resp *resty.Response
		err  error
	)
	if method == http.MethodPost {
		resp, err = req.SetFormData(params).Post(url)
	} else {
		resp, err = req.SetQueryParams(params).Get(url)
	}
	elapsed := time.Since(start)

	if err != nil {
		c.metrics.ObserveReplicaCall(path, false, elapsed.Seconds())
		c.log.Debug("remote call failed", zap.String("url", url), zap.Error(err))
		return "", &RemoteCallError{URL: url, Err: err}
	}
	if !resp.IsSuccess() {
		c.metrics.ObserveReplicaCall(path, false, elapsed.Seconds())
		c.log.Debug("remote call rejected", zap.String("url", url), zap.Int("status", resp.StatusCode()))
		return "", &RemoteCallError{URL: url, Status: resp.StatusCode(), Body: resp.String()}
	}
	c.metrics.ObserveReplicaCall(path, true, elapsed.Seconds())
	return resp.String(), nil
}

// Close stops accepting calls and waits for in-flight ones. When ctx expires
// first, the remaining calls are canceled and ctx's error is returned.
func (c *Channel) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		c.cancel()
		return nil
	case <-ctx.Done():
		c.log.Warn("outbound drain timed out, canceling in-flight calls")
		c.cancel()
		<-drained
		return ctx.Err()
	}
}
