// Package backoff implements exponential backoff with jitter, used by the
// UDP tracker client's datagram retransmission.
package backoff

import (
	"errors"
	"math/rand"
	"time"

	"github.com/andres-erbsen/clock"
)

// Config configures a Backoff.
type Config struct {
	Min          time.Duration `yaml:"min"`
	Max          time.Duration `yaml:"max"`
	Factor       float64       `yaml:"factor"`
	NoJitter     bool          `yaml:"no_jitter"`
	RetryTimeout time.Duration `yaml:"retry_timeout"`
}

func (c Config) applyDefaults() Config {
	if c.Min == 0 {
		c.Min = 250 * time.Millisecond
	}
	if c.Max == 0 {
		c.Max = 30 * time.Second
	}
	if c.Factor == 0 {
		c.Factor = 2
	}
	if c.RetryTimeout == 0 {
		c.RetryTimeout = time.Minute
	}
	return c
}

// Backoff produces a bounded sequence of exponentially increasing delays.
type Backoff struct {
	config Config
	clk    clock.Clock
}

// New creates a Backoff using the real clock.
func New(config Config) *Backoff {
	return newWithClock(config, clock.New())
}

func newWithClock(config Config, clk clock.Clock) *Backoff {
	return &Backoff{config: config.applyDefaults(), clk: clk}
}

// Attempts returns a fresh iterator over b's delay sequence.
func (b *Backoff) Attempts() *Attempts {
	return &Attempts{
		backoff: b,
		deadline: b.clk.Now().Add(b.config.RetryTimeout),
	}
}

// Attempts iterates over retry attempts, sleeping the appropriate backoff
// delay between each call to WaitForNext.
type Attempts struct {
	backoff  *Backoff
	deadline time.Time
	n        int
	err      error
}

// WaitForNext blocks for the next backoff delay (zero on the first call) and
// returns true if another attempt should be made. It returns false once the
// retry timeout has elapsed, in which case Err reports a timeout error. The
// first attempt is always permitted regardless of RetryTimeout.
func (a *Attempts) WaitForNext() bool {
	c := a.backoff.config
	if a.n == 0 {
		a.n++
		return true
	}

	delay := c.Min * time.Duration(pow(c.Factor, a.n-1))
	if delay > c.Max || delay <= 0 {
		delay = c.Max
	}
	if !c.NoJitter {
		delay = time.Duration(float64(delay) * (0.5 + rand.Float64()*0.5))
	}

	if a.backoff.clk.Now().Add(delay).After(a.deadline) {
		a.err = errors.New("backoff: retry timeout exceeded")
		return false
	}

	a.backoff.clk.Sleep(delay)
	a.n++
	return true
}

// Err returns the error that stopped iteration, if any.
func (a *Attempts) Err() error {
	return a.err
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}
