package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/turnos-api/internal/middleware"
	"github.com/noah-isme/turnos-api/internal/models"
	"github.com/noah-isme/turnos-api/internal/service"
)

type subscriberStub struct {
	topics   []string
	messages [][]byte
	err      error
}

func (s *subscriberStub) Subscribe(ctx context.Context, topics ...string) (<-chan []byte, error) {
	s.topics = topics
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan []byte, len(s.messages))
	for _, m := range s.messages {
		ch <- m
	}
	close(ch)
	return ch, nil
}

// closeNotifyRecorder satisfies http.CloseNotifier, which gin's Stream requires.
type closeNotifyRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func (r *closeNotifyRecorder) CloseNotify() <-chan bool { return r.closed }

func newStreamContext(claims *models.JWTClaims) (*gin.Context, *closeNotifyRecorder) {
	gin.SetMode(gin.TestMode)
	w := &closeNotifyRecorder{ResponseRecorder: httptest.NewRecorder(), closed: make(chan bool, 1)}
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/events/stream", nil)
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	return c, w
}

func TestStreamHandlerRelaysMessages(t *testing.T) {
	sub := &subscriberStub{messages: [][]byte{[]byte(`{"type":"notification.created"}`)}}
	handler := NewStreamHandler(sub, 0, nil)
	c, w := newStreamContext(employeeClaims)

	handler.Stream(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{service.UserTopic("e1")}, sub.topics)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "event:message")
	assert.Contains(t, w.Body.String(), `notification.created`)
}

func TestStreamHandlerManagersJoinQueueTopic(t *testing.T) {
	sub := &subscriberStub{}
	handler := NewStreamHandler(sub, 0, nil)
	c, _ := newStreamContext(managerClaims)

	handler.Stream(c)
	assert.Equal(t, []string{service.UserTopic("m1"), service.TopicManagers}, sub.topics)
}

func TestStreamHandlerSubscribeFailure(t *testing.T) {
	handler := NewStreamHandler(&subscriberStub{err: errors.New("redis down")}, 0, nil)
	c, w := newStreamContext(employeeClaims)

	handler.Stream(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestStreamHandlerRequiresClaims(t *testing.T) {
	handler := NewStreamHandler(&subscriberStub{}, 0, nil)
	c, w := newStreamContext(nil)

	handler.Stream(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
