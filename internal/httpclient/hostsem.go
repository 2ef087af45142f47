package httpclient

import (
	"context"
	"net/url"
	"sync"
)

// HostSemaphore caps concurrent requests per upstream host across the process,
// so concurrent adapter actions and logo downloads do not hammer one panel.
//
//	release, err := GlobalHostSem.Acquire(ctx, rawURL)
//	if err != nil { return err }
//	defer release()
type HostSemaphore struct {
	mu    sync.Mutex
	sems  map[string]chan struct{}
	limit int
}

// GlobalHostSem is the shared limiter: 4 concurrent requests per host.
var GlobalHostSem = NewHostSemaphore(4)

func NewHostSemaphore(concurrency int) *HostSemaphore {
	if concurrency < 1 {
		concurrency = 1
	}
	return &HostSemaphore{sems: make(map[string]chan struct{}), limit: concurrency}
}

// Acquire blocks until a slot for rawURL's scheme+host is free or ctx is done.
func (h *HostSemaphore) Acquire(ctx context.Context, rawURL string) (func(), error) {
	sem := h.semFor(hostKey(rawURL))
	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *HostSemaphore) semFor(key string) chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sems[key]
	if !ok {
		s = make(chan struct{}, h.limit)
		h.sems[key] = s
	}
	return s
}

func hostKey(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		return u.Scheme + "://" + u.Host
	}
	return rawURL
}

// Redact strips userinfo and query values (panel credentials travel there) for logs and errors.
func Redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid url>"
	}
	u.User = nil
	if q := u.Query(); len(q) > 0 {
		for k := range q {
			if k != "action" {
				q.Set(k, "xxx")
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}
