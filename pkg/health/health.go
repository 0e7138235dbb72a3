// Package health runs background liveness and readiness checks and serves
// their state on /livez and /readyz.
//
// A check flips to failing only after FailureThreshold consecutive errors
// and back to passing after SuccessThreshold consecutive successes.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// CheckFunc returns nil when the checked dependency is usable.
type CheckFunc func(ctx context.Context) error

// Checker describes a single check.
type Checker struct {
	Name             string
	Check            CheckFunc
	Timeout          time.Duration // default 2s
	FailureThreshold int           // default 3
	SuccessThreshold int           // default 1
}

func (p Checker) withDefaults() Checker {
	if p.Timeout <= 0 {
		p.Timeout = 2 * time.Second
	}
	if p.FailureThreshold <= 0 {
		p.FailureThreshold = 3
	}
	if p.SuccessThreshold <= 0 {
		p.SuccessThreshold = 1
	}
	return p
}

type checkState struct {
	Checker

	mu      sync.Mutex
	passing bool
	lastErr error
	fails   int
	oks     int
}

// observe records one check result and reports whether the state flipped.
func (s *checkState) observe(err error) (flipped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastErr = err
	if err != nil {
		s.oks = 0
		s.fails++
		if s.passing && s.fails >= s.FailureThreshold {
			s.passing = false
			return true
		}
		return false
	}
	s.fails = 0
	s.oks++
	if !s.passing && s.oks >= s.SuccessThreshold {
		s.passing = true
		return true
	}
	return false
}

func (s *checkState) status() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.passing, s.lastErr
}

func (s *checkState) run(ctx context.Context, lg *zap.Logger) {
	checkCtx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	err := s.Check(checkCtx)
	if !s.observe(err) {
		return
	}
	if err != nil {
		lg.Warn("Check failing", zap.String("check", s.Name), zap.Error(err))
		return
	}
	lg.Info("Check recovered", zap.String("check", s.Name))
}

// Registry holds the registered checks. Register checks before Run.
type Registry struct {
	lg    *zap.Logger
	ready atomic.Bool

	mu        sync.RWMutex
	liveness  []*checkState
	readiness []*checkState
}

// New creates a registry. The service reports not ready until SetReady(true).
func New(lg *zap.Logger) *Registry {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Registry{lg: lg}
}

// Liveness registers a check that gates /livez.
func (r *Registry) Liveness(p Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.liveness = append(r.liveness, &checkState{Checker: p.withDefaults(), passing: true})
}

// Readiness registers a check that gates /readyz.
func (r *Registry) Readiness(p Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readiness = append(r.readiness, &checkState{Checker: p.withDefaults(), passing: true})
}

// SetReady toggles the manual readiness flag, e.g. false while draining.
func (r *Registry) SetReady(v bool) {
	r.ready.Store(v)
}

// Ready reports whether the service is marked ready and every readiness
// check passes.
func (r *Registry) Ready() bool {
	if !r.ready.Load() {
		return false
	}
	return len(failures(r.snapshot(false))) == 0
}

// Run executes every check once immediately and then each interval, until
// ctx is done. It always returns nil after cancellation.
func (r *Registry) Run(ctx context.Context, interval time.Duration) error {
	all := append(r.snapshot(true), r.snapshot(false)...)

	g, ctx := errgroup.WithContext(ctx)
	for _, s := range all {
		g.Go(func() error {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			s.run(ctx, r.lg)
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					s.run(ctx, r.lg)
				}
			}
		})
	}
	return g.Wait()
}

func (r *Registry) snapshot(live bool) []*checkState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src := r.readiness
	if live {
		src = r.liveness
	}
	return append([]*checkState(nil), src...)
}

// LiveHandler serves /livez.
func (r *Registry) LiveHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		respond(w, failures(r.snapshot(true)))
	})
}

// ReadyHandler serves /readyz.
func (r *Registry) ReadyHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		failed := failures(r.snapshot(false))
		if !r.ready.Load() {
			failed["service"] = "not ready"
		}
		respond(w, failed)
	})
}

func failures(checks []*checkState) map[string]string {
	out := make(map[string]string)
	for _, s := range checks {
		passing, err := s.status()
		if passing {
			continue
		}
		msg := "failing"
		if err != nil {
			msg = err.Error()
		}
		out[s.Name] = msg
	}
	return out
}

// respond writes {"status":"ok"} or 503 {"status":"unhealthy","checks":{...}}.
func respond(w http.ResponseWriter, failed map[string]string) {
	status, code := "ok", http.StatusOK
	if len(failed) > 0 {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("status", func(e *jx.Encoder) { e.Str(status) })
		if len(failed) == 0 {
			return
		}
		names := make([]string, 0, len(failed))
		for name := range failed {
			names = append(names, name)
		}
		sort.Strings(names)
		e.Field("checks", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for _, name := range names {
					e.Field(name, func(e *jx.Encoder) { e.Str(failed[name]) })
				}
			})
		})
	})

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}
