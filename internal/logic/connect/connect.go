package connect

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/cjeanneret/SteerGo/internal/debug"
	"github.com/cjeanneret/SteerGo/internal/hw/claw"
)

// Defaults for the connection retry loop.
const (
	DefaultAttempts = 20
	DefaultDelay    = time.Second
)

// Opener opens one board. It fails with a transport error while the
// device is not present.
type Opener func(ctx context.Context) (claw.Driver, error)

// ExhaustedError reports that every attempt to connect a board failed.
type ExhaustedError struct {
	Name     string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("could not connect to %s after %d attempts: %v", e.Name, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Connector opens boards with a bounded number of attempts.
type Connector struct {
	Attempts int
	Delay    time.Duration

	// sleep waits between attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewConnector(attempts int, delay time.Duration) *Connector {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	if delay < 0 {
		delay = DefaultDelay
	}
	return &Connector{Attempts: attempts, Delay: delay, sleep: sleepCtx}
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

// Connect opens the board and resets its encoders. A failed reset closes
// the driver and counts as a failed attempt. An unsupported firmware ends
// the loop at once.
func (c *Connector) Connect(ctx context.Context, name string, open Opener) (claw.Driver, error) {
	sleep := c.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var last error
	for i := 1; i <= c.Attempts; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		d, err := c.attempt(ctx, open)
		if err == nil {
			debug.Info("Connected to %s", name)
			return d, nil
		}
		last = err
		if errors.Is(err, claw.ErrUnsupportedFirmware) {
			return nil, errors.Wrapf(err, "connect %s", name)
		}
		debug.Warn("Could not connect to %s (attempt %d/%d): %v, retrying...", name, i, c.Attempts, err)

		if i < c.Attempts {
			if err := sleep(ctx, c.Delay); err != nil {
				return nil, err
			}
		}
	}
	return nil, &ExhaustedError{Name: name, Attempts: c.Attempts, Last: last}
}

func (c *Connector) attempt(ctx context.Context, open Opener) (claw.Driver, error) {
	d, err := open(ctx)
	if err != nil {
		return nil, err
	}
	if err := d.ResetEncoders(); err != nil {
		d.Close()
		return nil, errors.Wrap(err, "reset encoders")
	}
	return d, nil
}
