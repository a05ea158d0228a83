package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/turnos-api/internal/service"
	appErrors "github.com/noah-isme/turnos-api/pkg/errors"
	"github.com/noah-isme/turnos-api/pkg/response"
)

const defaultKeepAlive = 25 * time.Second

// StreamHandler relays live updates to browsers as server-sent events. Each caller gets
// their personal topic; managers also get the manager queue topic.
type StreamHandler struct {
	subscriber service.Subscriber
	keepAlive  time.Duration
	logger     *zap.Logger
}

// NewStreamHandler constructs the handler.
func NewStreamHandler(subscriber service.Subscriber, keepAlive time.Duration, logger *zap.Logger) *StreamHandler {
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamHandler{subscriber: subscriber, keepAlive: keepAlive, logger: logger}
}

// Stream godoc
// @Summary Live updates
// @Description Server-sent events carrying change_request.updated, shift.updated and notification.created.
// @Tags Events
// @Produce text/event-stream
// @Param access_token query string false "Access token for EventSource clients"
// @Success 200 {string} string "event stream"
// @Router /events/stream [get]
func (h *StreamHandler) Stream(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	topics := []string{service.UserTopic(claims.UserID)}
	if claims.Role.IsManagement() {
		topics = append(topics, service.TopicManagers)
	}

	ctx := c.Request.Context()
	messages, err := h.subscriber.Subscribe(ctx, topics...)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, http.StatusServiceUnavailable, "live updates unavailable"))
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()
	h.logger.Debug("live stream opened", zap.String("user_id", claims.UserID), zap.Strings("topics", topics))

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case raw, ok := <-messages:
			if !ok {
				return false
			}
			c.SSEvent("message", string(raw))
			return true
		case <-ticker.C:
			_, _ = io.WriteString(w, ": keep-alive\n\n")
			return true
		}
	})
	h.logger.Debug("live stream closed", zap.String("user_id", claims.UserID))
}
