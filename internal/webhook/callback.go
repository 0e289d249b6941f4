package webhook

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/dingtalk-gw/internal/dingcrypto"
	"github.com/mattjoyce/dingtalk-gw/internal/dispatch"
)

// handleCallback handles POST /v1/callback.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := s.logger.With("request_id", middleware.GetReqID(ctx))

	q := r.URL.Query()
	signature := q.Get("msg_signature")
	if signature == "" {
		signature = q.Get("signature")
	}
	timestamp := q.Get("timestamp")
	nonce := q.Get("nonce")
	if signature == "" || timestamp == "" || nonce == "" {
		logger.Warn("callback missing query parameters")
		s.respondError(w, http.StatusBadRequest, "bad request")
		return
	}

	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	var req CallbackRequest
	if err := json.Unmarshal(body, &req); err != nil || strings.TrimSpace(req.Encrypt) == "" {
		logger.Warn("callback body invalid")
		s.respondError(w, http.StatusBadRequest, "bad request")
		return
	}

	plaintext, err := s.codec.Decrypt(signature, timestamp, nonce, req.Encrypt)
	if err != nil {
		status, msg := callbackStatus(err)
		// Sentinel text only; wrapped detail never carries secrets.
		logger.Warn("callback rejected", "status", status, "error", err)
		s.respondError(w, status, msg)
		return
	}

	res, err := s.dispatcher.HandleCallbackEvent(ctx, plaintext)
	if err != nil {
		status, msg := callbackStatus(err)
		logger.Warn("callback event not dispatched", "status", status, "error", err)
		s.respondError(w, status, msg)
		return
	}

	reply, err := s.codec.Encrypt(CallbackAck)
	if err != nil {
		logger.Error("failed to encrypt callback reply", "error", err, "delivery_id", res.DeliveryID)
		s.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.respondJSON(w, http.StatusOK, reply)
}

// callbackStatus maps codec and dispatch errors to an HTTP status and a
// generic message.
func callbackStatus(err error) (int, string) {
	switch {
	case errors.Is(err, dingcrypto.ErrSignature),
		errors.Is(err, dingcrypto.ErrIdentifierMismatch):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, dingcrypto.ErrDecode),
		errors.Is(err, dingcrypto.ErrPadding),
		errors.Is(err, dispatch.ErrInvalidEvent):
		return http.StatusBadRequest, "bad request"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
