package dingcrypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// ReplayWindow is the maximum allowed skew between a robot request timestamp
// and the local clock.
const ReplayWindow = time.Hour

// RobotVerifier checks the timestamp/sign headers on robot message callbacks.
// It keeps no nonce history; replay protection is limited to ReplayWindow.
type RobotVerifier struct {
	secret []byte
	now    func() time.Time
}

// NewRobotVerifier builds a verifier for the robot's app secret (Client Secret).
func NewRobotVerifier(appSecret string, opts ...Option) (*RobotVerifier, error) {
	if appSecret == "" {
		return nil, fmt.Errorf("%w: app secret is empty", ErrConfiguration)
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &RobotVerifier{secret: []byte(appSecret), now: o.now}, nil
}

// Verify reports whether sign is valid for timestamp right now. Any malformed
// input yields false.
func (v *RobotVerifier) Verify(timestamp, sign string) bool {
	return v.Check(timestamp, sign) == nil
}

// Check is Verify with the rejection reason. The error never carries the
// expected signature.
func (v *RobotVerifier) Check(timestamp, sign string) error {
	if timestamp == "" || sign == "" {
		return ErrSignature
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrTimestampInvalid
	}

	now := v.now().UnixMilli()
	skew := now - ts
	if ts > now {
		skew = ts - now
	}
	// skew < 0 only on int64 overflow from absurd timestamps.
	if skew < 0 || skew > ReplayWindow.Milliseconds() {
		return ErrTimestampExpired
	}

	if !constantTimeEqual(v.Sign(timestamp), sign) {
		return ErrSignature
	}
	return nil
}

// Sign computes the header value DingTalk would send for timestamp.
func (v *RobotVerifier) Sign(timestamp string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(timestamp + "\n" + string(v.secret)))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
