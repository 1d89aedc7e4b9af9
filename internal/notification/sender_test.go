package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aegisshield/compliance-tracker/internal/config"
)

func TestWebhookSender(t *testing.T) {
	var received Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "secret", r.Header.Get("Authorization"))
		assert.Equal(t, "req-1", r.Header.Get("X-Request-ID"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	sender := NewWebhookSender(config.WebhookConfig{
		URL:     server.URL,
		Headers: map[string]string{"Authorization": "secret"},
	}, time.Second, zap.NewNop())

	err := sender.Send(context.Background(), Request{ID: "req-1", Kind: KindEscalation, EntityID: "bc-1", Recipients: []string{"a@example.com"}})
	require.NoError(t, err)
	assert.Equal(t, "bc-1", received.EntityID)
	assert.Equal(t, []string{"a@example.com"}, received.Recipients)
	assert.Equal(t, "webhook", sender.Name())
}

func TestWebhookSenderRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := NewWebhookSender(config.WebhookConfig{URL: server.URL, MaxRetries: 2, RetryDelay: time.Millisecond}, time.Second, zap.NewNop())
	require.NoError(t, sender.Send(context.Background(), Request{ID: "req-1"}))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestWebhookSenderClientError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad recipients", http.StatusBadRequest)
	}))
	defer server.Close()

	sender := NewWebhookSender(config.WebhookConfig{URL: server.URL, MaxRetries: 2, RetryDelay: time.Millisecond}, time.Second, zap.NewNop())
	err := sender.Send(context.Background(), Request{ID: "req-1"})

	var sendErr *SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, http.StatusBadRequest, sendErr.StatusCode)
}

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaSender(t *testing.T) {
	w := &fakeWriter{}
	sender := newKafkaSender(w, "compliance-notifications", zap.NewNop())

	require.NoError(t, sender.Send(context.Background(), Request{ID: "req-1", Kind: KindSLANotice, EntityID: "bc-3"}))
	require.Len(t, w.messages, 1)
	assert.Equal(t, []byte("bc-3"), w.messages[0].Key)

	var decoded Request
	require.NoError(t, json.Unmarshal(w.messages[0].Value, &decoded))
	assert.Equal(t, KindSLANotice, decoded.Kind)

	w.err = errors.New("broker down")
	assert.Error(t, sender.Send(context.Background(), Request{ID: "req-2"}))

	require.NoError(t, sender.Close())
	assert.True(t, w.closed)
}

func TestLogSender(t *testing.T) {
	sender := NewLogSender(zap.NewNop())
	assert.Equal(t, "log", sender.Name())
	assert.NoError(t, sender.Send(context.Background(), Request{ID: "req-1"}))
}
