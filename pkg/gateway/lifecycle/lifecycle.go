package lifecycle

import "sync/atomic"

// Lifecycle is a tiny process lifecycle state holder shared across handlers.
// Readiness flips on once the store is migrated and reachable, and off again
// while draining during graceful shutdown.
type Lifecycle struct {
	ready    atomic.Bool
	draining atomic.Bool
}

func (l *Lifecycle) SetReady(ready bool) {
	if l == nil {
		return
	}
	l.ready.Store(ready)
}

func (l *Lifecycle) IsReady() bool {
	if l == nil {
		return false
	}
	return l.ready.Load() && !l.draining.Load()
}

func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.draining.Store(draining)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}
