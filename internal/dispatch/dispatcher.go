package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/mattjoyce/dingtalk-gw/internal/events"
	"github.com/mattjoyce/dingtalk-gw/internal/journal"
	"github.com/mattjoyce/dingtalk-gw/internal/log"
	"github.com/mattjoyce/dingtalk-gw/internal/robot"
)

// Callback event types with dedicated handling.
const (
	EventCheckURL            = "check_url"
	EventCheckCreateSuiteURL = "check_create_suite_url"
	EventCheckUpdateSuiteURL = "check_update_suite_url"
	EventUserAddOrg          = "user_add_org"

	// EventUnknown is recorded when a callback carries no EventType.
	EventUnknown = "unknown"
)

// ErrInvalidEvent is returned when a decrypted callback body is not a JSON object.
var ErrInvalidEvent = errors.New("invalid callback event")

//go:generate mockgen -destination=mocks/mock_dispatch.go -package=mocks github.com/mattjoyce/dingtalk-gw/internal/dispatch Publisher,Recorder

// Publisher receives every accepted delivery. *events.Hub implements it.
type Publisher interface {
	Publish(deliveryID, source, eventType string, data any) events.Event
}

// Recorder persists deliveries. *journal.Journal implements it.
type Recorder interface {
	Record(ctx context.Context, d journal.Delivery) (string, error)
}

// Result identifies a dispatched delivery.
type Result struct {
	DeliveryID string `json:"delivery_id"`
	Source     string `json:"source"`
	Type       string `json:"type"`
}

// Dispatcher logs, publishes and records deliveries.
type Dispatcher struct {
	hub     Publisher
	journal Recorder
	logger  *slog.Logger
	newID   func() string
}

// New creates a Dispatcher. Either dependency may be nil to disable it.
func New(hub Publisher, rec Recorder) *Dispatcher {
	return &Dispatcher{
		hub:     hub,
		journal: rec,
		logger:  log.WithComponent("dispatch"),
		newID:   uuid.NewString,
	}
}

// HandleCallbackEvent routes one decrypted callback body.
func (d *Dispatcher) HandleCallbackEvent(ctx context.Context, plaintext string) (Result, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(plaintext), &fields); err != nil || fields == nil {
		return Result{}, ErrInvalidEvent
	}

	eventType := EventUnknown
	if raw, ok := fields["EventType"]; ok {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Result{}, fmt.Errorf("%w: EventType is not a string", ErrInvalidEvent)
		}
		if s = strings.TrimSpace(s); s != "" {
			eventType = s
		}
	}

	res := Result{DeliveryID: d.newID(), Source: events.SourceCallback, Type: eventType}
	logger := d.loggerFor(ctx, res)

	switch eventType {
	case EventCheckURL:
		logger.Info("callback url verification")
	case EventCheckCreateSuiteURL, EventCheckUpdateSuiteURL:
		logger.Info("suite callback url verification")
	case EventUserAddOrg:
		logger.Info("user joined organization", "users", countJSONArray(fields["UserId"]))
	default:
		logger.Info("unhandled callback event")
	}
	logger.Debug("callback event body", "event", plaintext)

	d.deliver(ctx, logger, res, json.RawMessage(plaintext))
	return res, nil
}

// HandleRobotMessage routes one verified robot message.
func (d *Dispatcher) HandleRobotMessage(ctx context.Context, msg *robot.Message) (Result, error) {
	if msg == nil {
		return Result{}, fmt.Errorf("%w: nil message", robot.ErrInvalidMessage)
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return Result{}, fmt.Errorf("marshal robot message: %w", err)
	}

	res := Result{DeliveryID: d.newID(), Source: events.SourceRobot, Type: string(msg.MsgType)}
	logger := d.loggerFor(ctx, res).With(
		"conversation_type", msg.ConversationType,
		"msg_id", msg.MsgID,
	)

	switch c := msg.Content.(type) {
	case robot.TextContent:
		logger.Info("robot text message", "length", len(c.Content))
	case robot.RichTextContent:
		logger.Info("robot rich text message", "elements", len(c.RichText))
	case robot.AudioContent:
		logger.Info("robot audio message", "duration_ms", c.Duration)
	case robot.VideoContent:
		logger.Info("robot video message", "duration_ms", c.Duration)
	case robot.FileContent:
		logger.Info("robot file message", "file_type", c.FileType)
	default:
		logger.Info("robot message")
	}
	logger.Debug("robot message text", "text", msg.Text())

	d.deliver(ctx, logger, res, payload)
	return res, nil
}

func (d *Dispatcher) deliver(ctx context.Context, logger *slog.Logger, res Result, payload json.RawMessage) {
	if d.hub != nil {
		d.hub.Publish(res.DeliveryID, res.Source, res.Type, payload)
	}
	if d.journal == nil {
		return
	}
	_, err := d.journal.Record(ctx, journal.Delivery{
		ID:        res.DeliveryID,
		Source:    res.Source,
		Type:      res.Type,
		RequestID: middleware.GetReqID(ctx),
		Payload:   payload,
	})
	if err != nil {
		logger.Error("failed to journal delivery", "error", err)
	}
}

func (d *Dispatcher) loggerFor(ctx context.Context, res Result) *slog.Logger {
	logger := d.logger.With("delivery_id", res.DeliveryID, "source", res.Source, "type", res.Type)
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		logger = logger.With("request_id", reqID)
	}
	return logger
}

func countJSONArray(raw json.RawMessage) int {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return 0
	}
	return len(items)
}
