// Package session はセッションIDごとのカートを持つ。
//
// 一定時間アクセスの無いセッションは裏のゴルーチンが消し、カートを Close する。
package session

import (
	"sync"
	"time"

	"storefront/internal/domain/cart"
	"storefront/internal/metrics"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultIdleTTL       = 30 * time.Minute
	DefaultSweepInterval = time.Minute
)

type Options struct {
	IdleTTL         time.Duration
	SweepInterval   time.Duration
	MaxLineQuantity int64

	// セッションごとの書き込みレート（0で無制限）
	RateLimit float64
	RateBurst int

	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

type entry struct {
	store    *cart.Store
	limiter  *rate.Limiter
	lastSeen time.Time
}

type Registry struct {
	opts Options

	mu       sync.Mutex
	sessions map[string]*entry
	closed   bool

	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// DI（掃除用のゴルーチンを起動する。Close で止める）
func NewRegistry(opts Options) *Registry {
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = DefaultIdleTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
		if opts.IdleTTL < opts.SweepInterval {
			opts.SweepInterval = opts.IdleTTL
		}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	r := &Registry{
		opts:     opts,
		sessions: make(map[string]*entry),
		stopChan: make(chan struct{}),
	}
	r.wg.Add(1)
	go r.sweepLoop()
	return r
}

// Get はセッションのカートを返す。初回なら空のカートを作る。
// Close 後は閉じたカートを返す（変更は cart.ErrClosed）。
func (r *Registry) Get(id string) *cart.Store {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		s := cart.NewStore()
		s.Close()
		return s
	}

	e := r.touchLocked(id)
	return e.store
}

// Lookup は既存セッションだけ返す（作らない）。
func (r *Registry) Lookup(id string) (*cart.Store, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	e.lastSeen = r.opts.Now()
	return e.store, true
}

// Allow はセッションの書き込みを1回分消費する。
func (r *Registry) Allow(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	e := r.touchLocked(id)
	if e.limiter == nil {
		return true
	}
	return e.limiter.AllowN(r.opts.Now(), 1)
}

// 現在のセッション数
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close は掃除を止め、全カートを閉じる。何度呼んでもよい。
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		close(r.stopChan)
		r.wg.Wait()

		r.mu.Lock()
		stores := make([]*cart.Store, 0, len(r.sessions))
		for id, e := range r.sessions {
			stores = append(stores, e.store)
			delete(r.sessions, id)
		}
		r.closed = true
		r.mu.Unlock()

		for _, s := range stores {
			s.Close()
		}
		r.opts.Metrics.SetActiveSessions(0)
	})
}

func (r *Registry) touchLocked(id string) *entry {
	now := r.opts.Now()
	e, ok := r.sessions[id]
	if !ok {
		var opts []cart.Option
		if r.opts.MaxLineQuantity > 0 {
			opts = append(opts, cart.WithMaxLineQuantity(r.opts.MaxLineQuantity))
		}
		e = &entry{store: cart.NewStore(opts...)}
		if r.opts.RateLimit > 0 {
			burst := r.opts.RateBurst
			if burst <= 0 {
				burst = 1
			}
			e.limiter = rate.NewLimiter(rate.Limit(r.opts.RateLimit), burst)
		}
		r.sessions[id] = e
		r.opts.Metrics.SetActiveSessions(len(r.sessions))
	}
	e.lastSeen = now
	return e
}

func (r *Registry) sweepLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep は IdleTTL を超えたセッションを消して、そのカートを閉じる。
func (r *Registry) sweep() int {
	now := r.opts.Now()

	r.mu.Lock()
	var expired []*cart.Store
	for id, e := range r.sessions {
		if now.Sub(e.lastSeen) >= r.opts.IdleTTL {
			expired = append(expired, e.store)
			delete(r.sessions, id)
		}
	}
	remaining := len(r.sessions)
	r.mu.Unlock()

	for _, s := range expired {
		s.Close()
	}
	if len(expired) > 0 {
		r.opts.Metrics.SetActiveSessions(remaining)
		r.opts.Logger.Debug("sessions evicted", zap.Int("evicted", len(expired)), zap.Int("remaining", remaining))
	}
	return len(expired)
}
