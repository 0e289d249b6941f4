package webhook

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/dingtalk-gw/internal/robot"
)

// handleRobot handles POST / robot messages.
func (s *Server) handleRobot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := s.logger.With("request_id", middleware.GetReqID(ctx))

	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	if err := s.verifier.Check(r.Header.Get("timestamp"), r.Header.Get("sign")); err != nil {
		logger.Warn("robot signature verification failed", "error", err)
		s.respondError(w, http.StatusForbidden, "forbidden")
		return
	}

	msg, err := robot.Parse(body)
	if err != nil {
		logger.Warn("robot message rejected",
			"error", err,
			"unknown_msgtype", errors.Is(err, robot.ErrUnknownMsgType),
		)
		s.respondError(w, http.StatusBadRequest, "bad request")
		return
	}

	if _, err := s.dispatcher.HandleRobotMessage(ctx, msg); err != nil {
		logger.Error("robot message not dispatched", "error", err)
		s.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.respondJSON(w, http.StatusOK, struct{}{})
}
