package scenario

import (
	"context"
	"fmt"
	"time"

	"github.com/danmuck/sepprobe/internal/config"
	"github.com/danmuck/sepprobe/internal/protocol/schema"
	"github.com/danmuck/sepprobe/internal/protocol/session"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
)

// Status is the outcome of one scenario.
type Status string

const (
	StatusPass Status = "pass"
	StatusFail Status = "fail"
	StatusSkip Status = "skip"
)

type Result struct {
	Name    string
	Status  Status
	Err     error
	Reason  string
	Elapsed time.Duration
}

// Runner executes scenarios against the target described by Config.
type Runner struct {
	Config config.Config
	// Session adjusts the session config derived from Config.
	Session func(*session.Config)
	// Sleep replaces the wall-clock waits of collection scenarios.
	Sleep func(context.Context, time.Duration) error
}

func NewRunner(cfg config.Config) *Runner {
	return &Runner{Config: cfg}
}

// SessionConfig maps the run configuration onto a session configuration.
func (r *Runner) SessionConfig() session.Config {
	sc := session.DefaultConfig()
	sc.IP = r.Config.TargetIP
	sc.Port = r.Config.TargetPort
	sc.Version = schema.Version(r.Config.ProtocolVersion)
	sc.CaptureDir = r.Config.CaptureDir
	sc.ECBFile = r.Config.ECBFile
	sc.UncoreECBFile = r.Config.UncoreECBFile
	if r.Session != nil {
		r.Session(&sc)
	}
	return sc
}

// Run executes one scenario on a fresh session and always closes it.
func (r *Runner) Run(ctx context.Context, sc Scenario) (res Result) {
	logger := log.With().Str("component", "scenario").Str("scenario", sc.Name).Logger()
	res = Result{Name: sc.Name}
	start := time.Now()
	defer func() {
		res.Elapsed = time.Since(start)
		switch res.Status {
		case StatusPass:
			logger.Info().Dur("elapsed", res.Elapsed).Msg("pass")
		case StatusSkip:
			logger.Info().Str("reason", res.Reason).Msg("skip")
		default:
			logger.Error().Err(res.Err).Dur("elapsed", res.Elapsed).Msg("fail")
		}
	}()

	if sc.SkipReason != nil {
		if reason := sc.SkipReason(r.Config); reason != "" {
			res.Status = StatusSkip
			res.Reason = reason
			return res
		}
	}

	s, err := session.New(r.SessionConfig())
	if err != nil {
		res.Status = StatusFail
		res.Err = err
		return res
	}
	logger.Info().Str("session", s.ID()).Msg("start")

	err = s.Init(ctx)
	if err == nil {
		env := &Env{Config: r.Config, Session: s, Log: logger, sleep: r.Sleep}
		err = sc.Run(ctx, env)
	}
	if cerr := s.Close(); cerr != nil {
		err = multierr.Append(err, fmt.Errorf("teardown: %w", cerr))
	}
	if err != nil {
		res.Status = StatusFail
		res.Err = err
		return res
	}
	res.Status = StatusPass
	return res
}

// RunAll runs scenarios in order. A cancelled context fails the remaining
// scenarios without contacting the target.
func (r *Runner) RunAll(ctx context.Context, scenarios []Scenario) []Result {
	out := make([]Result, 0, len(scenarios))
	for _, sc := range scenarios {
		if err := ctx.Err(); err != nil {
			out = append(out, Result{Name: sc.Name, Status: StatusFail, Err: err})
			continue
		}
		out = append(out, r.Run(ctx, sc))
	}
	return out
}

// Failed counts the failed results.
func Failed(results []Result) int {
	var n int
	for _, res := range results {
		if res.Status == StatusFail {
			n++
		}
	}
	return n
}
