package webhook

import (
	"context"

	"github.com/mattjoyce/dingtalk-gw/internal/dingcrypto"
	"github.com/mattjoyce/dingtalk-gw/internal/dispatch"
	"github.com/mattjoyce/dingtalk-gw/internal/events"
	"github.com/mattjoyce/dingtalk-gw/internal/robot"
)

//go:generate mockgen -destination=mocks/mock_webhook.go -package=mocks github.com/mattjoyce/dingtalk-gw/internal/webhook Dispatcher

// Dispatcher receives authenticated deliveries. *dispatch.Dispatcher implements it.
type Dispatcher interface {
	HandleCallbackEvent(ctx context.Context, plaintext string) (dispatch.Result, error)
	HandleRobotMessage(ctx context.Context, msg *robot.Message) (dispatch.Result, error)
}

// CallbackCodec decrypts callbacks and encrypts replies. *dingcrypto.Codec implements it.
type CallbackCodec interface {
	Decrypt(signature, timestamp, nonce, ciphertext string) (string, error)
	Encrypt(plaintext string) (dingcrypto.Envelope, error)
}

// RobotAuthenticator checks robot request headers. *dingcrypto.RobotVerifier implements it.
type RobotAuthenticator interface {
	Check(timestamp, sign string) error
}

// EventSource backs the admin events endpoints. *events.Hub implements it.
type EventSource interface {
	SnapshotSince(lastID int64) []events.Event
	Subscribe() (<-chan events.Event, func())
}

// CallbackRequest is the JSON body of POST /v1/callback.
type CallbackRequest struct {
	Encrypt string `json:"encrypt"`
}

// HealthResponse is the JSON response for GET /v1/health.
type HealthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// EventsResponse is the JSON response for GET /v1/events.
type EventsResponse struct {
	Events []events.Event `json:"events"`
}

// ErrorResponse is the JSON response for webhook errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Callback reply plaintext expected by DingTalk.
const CallbackAck = "success"
