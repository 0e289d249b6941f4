package dingcrypto

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"time"
)

// TimestampUnit selects how Encrypt renders the outbound timeStamp field.
type TimestampUnit int

const (
	// Milliseconds is the DingTalk default and matches the inbound timestamp.
	Milliseconds TimestampUnit = iota
	Seconds
)

// ParseTimestampUnit accepts "ms", "milliseconds", "s" or "seconds". Empty
// input selects Milliseconds.
func ParseTimestampUnit(s string) (TimestampUnit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ms", "millis", "milliseconds":
		return Milliseconds, nil
	case "s", "sec", "seconds":
		return Seconds, nil
	default:
		return Milliseconds, fmt.Errorf("%w: unknown timestamp unit %q", ErrConfiguration, s)
	}
}

func (u TimestampUnit) String() string {
	if u == Seconds {
		return "seconds"
	}
	return "milliseconds"
}

func (u TimestampUnit) format(t time.Time) string {
	if u == Seconds {
		return fmt.Sprintf("%d", t.Unix())
	}
	return fmt.Sprintf("%d", t.UnixMilli())
}

// Option customises a Codec or RobotVerifier.
type Option func(*options)

type options struct {
	now    func() time.Time
	random io.Reader
	unit   TimestampUnit
}

func defaultOptions() options {
	return options{
		now:    time.Now,
		random: rand.Reader,
		unit:   Milliseconds,
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithRandom overrides the randomness source used by Encrypt. It must be safe
// for concurrent use if the Codec is shared.
func WithRandom(r io.Reader) Option {
	return func(o *options) {
		if r != nil {
			o.random = r
		}
	}
}

// WithTimestampUnit sets the unit of the outbound timeStamp field.
func WithTimestampUnit(u TimestampUnit) Option {
	return func(o *options) { o.unit = u }
}
