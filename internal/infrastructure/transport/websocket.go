package transport

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"textgen/app/usecase"
	"textgen/internal/domain/entity"
	"textgen/internal/infrastructure/metrics"
)

// wsError is sent in place of a GenerationResponse when a frame fails.
type wsError struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// GET /ws/generate
//
// Every text frame carries one GenerationRequest and is answered with one
// GenerationResponse or wsError, in order.
func (h *GenerationHandler) handleGenerateWS(w http.ResponseWriter, r *http.Request) {
	requestID := RequestIDFromContext(r.Context())
	logger := h.logger.With("request_id", requestID, "transport", "websocket")

	// The handshake is written on the hijacked conn, so w's headers are lost.
	conn, err := h.upgrader.Upgrade(w, r, http.Header{RequestIDHeader: []string{requestID}})
	if err != nil {
		// Upgrade has already answered the client.
		logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	metrics.IncWSConnections()
	defer metrics.DecWSConnections()

	conn.SetReadLimit(h.maxBodyBytes)
	logger.Debug("websocket connected", "remote", r.RemoteAddr)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("websocket read failed", "err", err)
			}
			return
		}

		var reply interface{}
		if msgType != websocket.TextMessage {
			reply = wsError{
				Error:  fmt.Sprintf("%s: expected a text frame", usecase.ErrInvalidArgument),
				Status: http.StatusBadRequest,
			}
		} else {
			reply = h.generateFrame(r.Context(), data)
		}

		if err := conn.WriteJSON(reply); err != nil {
			logger.Warn("websocket write failed", "err", err)
			return
		}
	}
}

func (h *GenerationHandler) generateFrame(ctx context.Context, data []byte) interface{} {
	if h.limiter != nil && !h.limiter.Allow() {
		return h.frameError(usecase.ErrRateLimited)
	}

	req, err := entity.DecodeGenerationRequestBytes(data)
	if err != nil {
		return h.frameError(fmt.Errorf("%w: %w", usecase.ErrInvalidArgument, err))
	}

	resp, err := h.generation.Generate(ctx, req)
	if err != nil {
		return h.frameError(err)
	}
	return resp
}

func (h *GenerationHandler) frameError(err error) wsError {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error("websocket generate failed", "status", code, "err", err)
	}
	return wsError{Error: err.Error(), Status: code}
}
