package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fincasdesk/platform/internal/shared/config"
	"github.com/fincasdesk/platform/internal/shared/logger"
)

func testDispatcher(attempts uint) *Dispatcher {
	return NewDispatcher(DispatcherConfig{
		Attempts:        attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
		MessageIDDomain: "fincas-agent",
	}, logger.Discard())
}

func TestDeliver_RetriesTransientFailures(t *testing.T) {
	mock := NewMockSender()
	mock.FailNext(2)
	d := testDispatcher(3).Register(ChannelChat, mock)

	res := d.Deliver(context.Background(), &Notification{Channel: ChannelChat, To: "+34600111222", Body: "hola"})

	require.True(t, res.OK())
	assert.NotEmpty(t, res.DeliveryID)
	assert.Len(t, mock.GetSentNotifications(), 1)
	assert.Equal(t, 3, mock.Calls())
}

func TestDeliver_ReturnsFailureAfterAttempts(t *testing.T) {
	mock := NewMockSender()
	mock.SetFailOnSend(true)
	d := testDispatcher(2).Register(ChannelEmail, mock)

	res := d.Deliver(context.Background(), &Notification{Channel: ChannelEmail, To: "ana@example.com", Kind: KindClosure})

	require.False(t, res.OK())
	assert.Empty(t, res.DeliveryID)
	assert.Equal(t, 2, res.Failure.Attempts)
	assert.Equal(t, ChannelEmail, res.Failure.Channel)
	assert.Contains(t, res.Failure.Reason, "mock send failure")
	assert.Empty(t, mock.GetSentNotifications())
}

func TestDeliver_UnknownChannel(t *testing.T) {
	res := testDispatcher(3).Deliver(context.Background(), &Notification{Channel: ChannelChat, To: "+34600111222"})
	require.NotNil(t, res.Failure)
	assert.Equal(t, 0, res.Failure.Attempts)
}

func TestDeliver_EmailGetsStableMessageID(t *testing.T) {
	mock := NewMockSender()
	mock.FailNext(1)
	d := testDispatcher(3).Register(ChannelEmail, mock)

	n := &Notification{Channel: ChannelEmail, To: "ana@example.com"}
	res := d.Deliver(context.Background(), n)

	require.True(t, res.OK())
	assert.True(t, IsOwnMessageID(n.MessageID, "fincas-agent"))
	assert.Equal(t, n.MessageID, res.DeliveryID)
}

func TestIsOwnMessageID(t *testing.T) {
	id := NewMessageID("fincas-agent")
	assert.True(t, IsOwnMessageID(id, "fincas-agent"))
	assert.True(t, IsOwnMessageID("<ABC@Fincas-Agent>", "fincas-agent"))
	assert.False(t, IsOwnMessageID("<abc@mail.gmail.com>", "fincas-agent"))
	assert.False(t, IsOwnMessageID(id, ""))
}

func TestSMTPSender_ThreadingHeaders(t *testing.T) {
	s := NewSMTPSender(config.SMTPConfig{FromAddress: "incidencias@fincas.local", FromName: "Fincas", MessageIDDomain: "fincas-agent"})

	m := s.buildMessage(&Notification{
		To:         "ana@example.com",
		Subject:    "[INC-AB12CD] Necesitamos más información",
		Body:       "hola",
		MessageID:  "<1@fincas-agent>",
		InReplyTo:  "<orig@mail.example.com>",
		References: []string{"<root@mail.example.com>"},
	})

	assert.Equal(t, []string{"<1@fincas-agent>"}, m.GetHeader("Message-ID"))
	assert.Equal(t, []string{"<orig@mail.example.com>"}, m.GetHeader("In-Reply-To"))
	assert.Equal(t, []string{"<root@mail.example.com> <orig@mail.example.com>"}, m.GetHeader("References"))
}

func TestChatSender(t *testing.T) {
	var calls, status atomic.Int32
	status.Store(http.StatusOK)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "+34600111222", req.To)

		w.WriteHeader(int(status.Load()))
		_ = json.NewEncoder(w).Encode(chatResponse{ID: "wamid.1", Error: "boom"})
	}))
	defer srv.Close()

	sender := NewChatSender(config.ChatConfig{GatewayURL: srv.URL, Token: "secret", Timeout: time.Second})
	d := testDispatcher(3).Register(ChannelChat, sender)
	n := func() *Notification { return &Notification{Channel: ChannelChat, To: "+34600111222", Body: "hola"} }

	t.Run("ok", func(t *testing.T) {
		calls.Store(0)
		res := d.Deliver(context.Background(), n())
		require.True(t, res.OK())
		assert.Equal(t, "wamid.1", res.DeliveryID)
	})

	t.Run("client error is not retried", func(t *testing.T) {
		calls.Store(0)
		status.Store(http.StatusBadRequest)
		res := d.Deliver(context.Background(), n())
		require.False(t, res.OK())
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("server error is retried", func(t *testing.T) {
		calls.Store(0)
		status.Store(http.StatusBadGateway)
		res := d.Deliver(context.Background(), n())
		require.False(t, res.OK())
		assert.Equal(t, int32(3), calls.Load())
	})
}
