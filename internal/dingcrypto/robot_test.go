package dingcrypto

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(ms int64) Option {
	return WithClock(func() time.Time { return time.UnixMilli(ms) })
}

func TestNewRobotVerifierRequiresSecret(t *testing.T) {
	v, err := NewRobotVerifier("")
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Nil(t, v)
}

func TestRobotSignKnownVector(t *testing.T) {
	v, err := NewRobotVerifier("secret")
	require.NoError(t, err)
	// base64(HMAC-SHA256("secret", "1700000000000\nsecret"))
	sign := v.Sign("1700000000000")
	assert.Len(t, sign, 44)
	assert.Equal(t, sign, v.Sign("1700000000000"))
	assert.NotEqual(t, sign, v.Sign("1700000000001"))
}

func TestRobotVerify(t *testing.T) {
	const now = int64(1700000000000)
	v, err := NewRobotVerifier("robot-secret", fixedClock(now))
	require.NoError(t, err)

	ts := strconv.FormatInt(now, 10)
	valid := v.Sign(ts)

	stale := strconv.FormatInt(now-3_600_001, 10)
	edge := strconv.FormatInt(now-3_600_000, 10)
	future := strconv.FormatInt(now+3_600_001, 10)

	tampered := []byte(valid)
	if tampered[0] == 'A' {
		tampered[0] = 'B'
	} else {
		tampered[0] = 'A'
	}

	tests := []struct {
		name      string
		timestamp string
		sign      string
		want      bool
		reason    error
	}{
		{name: "valid now", timestamp: ts, sign: valid, want: true},
		{name: "valid at window edge", timestamp: edge, sign: v.Sign(edge), want: true},
		{name: "stale by one ms", timestamp: stale, sign: v.Sign(stale), reason: ErrTimestampExpired},
		{name: "future beyond window", timestamp: future, sign: v.Sign(future), reason: ErrTimestampExpired},
		{name: "tampered sign", timestamp: ts, sign: string(tampered), reason: ErrSignature},
		{name: "sign for other timestamp", timestamp: ts, sign: v.Sign(edge), reason: ErrSignature},
		{name: "non numeric timestamp", timestamp: "abc", sign: valid, reason: ErrTimestampInvalid},
		{name: "float timestamp", timestamp: "1700000000000.5", sign: valid, reason: ErrTimestampInvalid},
		{name: "overflowing timestamp", timestamp: "99999999999999999999", sign: valid, reason: ErrTimestampInvalid},
		{name: "most negative timestamp", timestamp: "-9223372036854775808", sign: valid, reason: ErrTimestampExpired},
		{name: "empty timestamp", timestamp: "", sign: valid, reason: ErrSignature},
		{name: "empty sign", timestamp: ts, sign: "", reason: ErrSignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, v.Verify(tt.timestamp, tt.sign))
			err := v.Check(tt.timestamp, tt.sign)
			if tt.want {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.reason)
		})
	}
}

func TestRobotVerifyWrongSecret(t *testing.T) {
	const now = int64(1700000000000)
	a, err := NewRobotVerifier("secret-a", fixedClock(now))
	require.NoError(t, err)
	b, err := NewRobotVerifier("secret-b", fixedClock(now))
	require.NoError(t, err)

	ts := strconv.FormatInt(now, 10)
	assert.False(t, b.Verify(ts, a.Sign(ts)))
}

func TestRobotVerifyUsesRealClockByDefault(t *testing.T) {
	v, err := NewRobotVerifier("secret")
	require.NoError(t, err)

	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	assert.True(t, v.Verify(ts, v.Sign(ts)))
}
