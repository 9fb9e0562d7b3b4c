// Package scenario holds the named checks run against a live driver agent and
// the runner that gives each one a fresh session.
package scenario

import (
	"context"
	"time"

	"github.com/danmuck/sepprobe/internal/config"
	"github.com/danmuck/sepprobe/internal/protocol/session"
	"github.com/rs/zerolog"
)

// Scenario is one named check. Run receives a session that has already
// completed its handshake; the runner closes it afterwards.
type Scenario struct {
	Name        string
	Description string
	// Explicit scenarios only run when named.
	Explicit bool
	// SkipReason returns why the scenario does not apply to cfg, or "".
	SkipReason func(cfg config.Config) string
	Run        func(ctx context.Context, env *Env) error
}

// Env is what a running scenario may use.
type Env struct {
	Config  config.Config
	Session *session.Session
	Log     zerolog.Logger

	sleep func(context.Context, time.Duration) error
}

// Sleep waits for d or until ctx is done.
func (e *Env) Sleep(ctx context.Context, d time.Duration) error {
	if e.sleep != nil {
		return e.sleep(ctx, d)
	}
	return sleepContext(ctx, d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
