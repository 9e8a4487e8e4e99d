// Package gate serializes access to the remote service. Every remote call
// holds the gate; login and restore attempts are additionally spaced by a
// minimum interval.
package gate

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Gate is a single-holder lock with a login throttle.
type Gate struct {
	sem    *semaphore.Weighted
	login  *Throttle
	logger *zap.Logger
}

// New creates a gate. loginDelay is the minimum time between the end of one
// authenticated attempt and the start of the next.
func New(loginDelay time.Duration, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		sem:    semaphore.NewWeighted(1),
		login:  NewThrottle(loginDelay),
		logger: logger.Named("gate"),
	}
}

// SetLoginDelay changes the login interval.
func (g *Gate) SetLoginDelay(d time.Duration) { g.login.SetInterval(d) }

// LoginDelay returns the login interval.
func (g *Gate) LoginDelay() time.Duration { return g.login.Interval() }

// Acquire blocks until the caller holds the gate. With auth set it also waits
// out the login interval while holding it. If ctx is done first the gate is
// not held and ctx.Err() is returned.
func (g *Gate) Acquire(ctx context.Context, auth bool) (*Permit, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if auth {
		if d := g.login.Remaining(); d > 0 {
			g.logger.Debug("waiting for login interval", zap.Duration("remaining", d))
		}
		if err := g.login.Wait(ctx); err != nil {
			g.sem.Release(1)
			return nil, err
		}
	}
	return &Permit{g: g, auth: auth}, nil
}

// Permit is a held gate. Exactly one of Release or Abort takes effect.
type Permit struct {
	g    *Gate
	auth bool
	once sync.Once
}

// Release frees the gate after a remote call ran. For authenticated permits
// the attempt time is recorded.
func (p *Permit) Release() {
	p.once.Do(func() {
		if p.auth {
			p.g.login.Mark()
		}
		p.g.sem.Release(1)
	})
}

// Abort frees the gate without recording an attempt. Used when the holder
// stops before making its call.
func (p *Permit) Abort() {
	p.once.Do(func() { p.g.sem.Release(1) })
}
