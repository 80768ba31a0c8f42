package resilience

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	apperrors "github.com/GriffinCanCode/voicegate/internal/errors"
)

// Control calls retry while the daemon is starting or restarting. Speech
// sessions never use this: a failed connect ends the session.
const (
	ControlAttempts  = 6
	ControlBaseDelay = 250 * time.Millisecond
	ControlMaxDelay  = 4 * time.Second
	ControlJitter    = 0.2
)

// Policy retries an idempotent call with capped exponential backoff.
type Policy struct {
	Attempts  int // total calls, including the first
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    float64 // fraction of the delay, spread evenly around it
	Retryable func(error) bool

	sleep func(context.Context, time.Duration) error
}

// ControlPolicy returns the policy for control-plane calls.
func ControlPolicy() Policy {
	return Policy{
		Attempts:  ControlAttempts,
		BaseDelay: ControlBaseDelay,
		MaxDelay:  ControlMaxDelay,
		Jitter:    ControlJitter,
		Retryable: Unreachable,
	}
}

// Do calls fn until it succeeds, fails with a non-retryable error, runs out
// of attempts or ctx ends. It returns fn's last error, or ctx's.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	p = p.normalized()
	var err error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		if attempt > 0 {
			delay := p.Delay(attempt - 1)
			slog.Debug("retrying control call", "attempt", attempt+1, "of", p.Attempts, "delay", delay, "error", err)
			if serr := p.sleep(ctx, delay); serr != nil {
				return serr
			}
		}
		if err = fn(ctx); err == nil || !p.Retryable(err) {
			return err
		}
	}
	return err
}

// Delay returns the wait after the given zero-based failure, jittered.
func (p Policy) Delay(failure int) time.Duration {
	d := p.BaseDelay << min(failure, 16)
	if d <= 0 || d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter <= 0 {
		return d
	}
	return time.Duration(float64(d) * (1 + p.Jitter*(rand.Float64()-0.5)))
}

func (p Policy) normalized() Policy {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = ControlBaseDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Retryable == nil {
		p.Retryable = Unreachable
	}
	if p.sleep == nil {
		p.sleep = sleepCtx
	}
	return p
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Unreachable reports whether err means the daemon could not be reached, as
// opposed to an answer from it. Answers carry a voicegate ErrorInfo.
func Unreachable(err error) bool {
	s, ok := status.FromError(err)
	if err == nil || !ok {
		return false
	}
	for _, d := range s.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok && info.GetDomain() == apperrors.Domain {
			return false
		}
	}
	switch s.Code() {
	case codes.Unavailable, codes.ResourceExhausted, codes.Aborted:
		return true
	default:
		return false
	}
}
