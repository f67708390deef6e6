package inbound_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/wadesk/internal/agents"
	"github.com/memohai/wadesk/internal/assignment"
	"github.com/memohai/wadesk/internal/config"
	"github.com/memohai/wadesk/internal/conversation"
	"github.com/memohai/wadesk/internal/inbound"
	"github.com/memohai/wadesk/internal/message"
	"github.com/memohai/wadesk/internal/message/event"
	"github.com/memohai/wadesk/internal/settings"
	"github.com/memohai/wadesk/internal/store"
	"github.com/memohai/wadesk/internal/store/storetest"
	"github.com/memohai/wadesk/internal/whatsapp"
)

const appSecret = "s3cret"

type harness struct {
	webhook       *whatsapp.WebhookHandler
	messages      *message.DBService
	conversations *conversation.Service
	hub           *event.Hub
}

func newHarness(t *testing.T, agentIDs ...string) *harness {
	t.Helper()
	ctx := context.Background()
	db := storetest.NewSQLite(t)
	for _, id := range agentIDs {
		_, err := db.CreateAgent(ctx, &store.Agent{ID: id, Username: id, Active: true})
		require.NoError(t, err)
	}
	hub := event.NewHub(nil)
	messages := message.NewService(nil, db, message.PolicyMonotonic, hub)
	conversations := conversation.NewService(nil, db, hub)
	engine := assignment.NewEngine(nil, settings.NewService(nil, db, true), agents.NewService(nil, db), conversations, assignment.NewCursor(db), nil)
	processor := inbound.NewProcessor(nil, messages, conversations, engine, nil)
	return &harness{
		webhook:       whatsapp.NewWebhookHandler(nil, config.WhatsAppConfig{AppSecret: appSecret}, processor, nil),
		messages:      messages,
		conversations: conversations,
		hub:           hub,
	}
}

func (h *harness) post(t *testing.T, body string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader(body))
	req.Header.Set(whatsapp.SignatureHeader, whatsapp.SignatureHeaderValue([]byte(body), appSecret))
	rec := httptest.NewRecorder()
	if err := h.webhook.Handle(echo.New().NewContext(req, rec)); err != nil {
		var he *echo.HTTPError
		require.True(t, errors.As(err, &he), "unexpected error %v", err)
		return he.Code
	}
	return rec.Code
}

func wrap(value string) string {
	return `{"object":"whatsapp_business_account","entry":[{"id":"waba","changes":[{"field":"messages","value":` + value + `}]}]}`
}

const helloPayload = `{"messaging_product":"whatsapp","metadata":{"phone_number_id":"123"},
"contacts":[{"profile":{"name":"Kerry"},"wa_id":"971501234567"}],
"messages":[{"from":"971501234567","id":"wamid.HELLO","timestamp":"1700000000","type":"text","text":{"body":"Hello"}}]}`

func TestInboundTextScenario(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, "agent-a", "agent-b")
	_, events, cancel := h.hub.Subscribe("", 16)
	defer cancel()

	require.Equal(t, http.StatusOK, h.post(t, wrap(helloPayload)))

	const conv = "971501234567@s.whatsapp.net"
	msg, err := h.messages.Get(ctx, conv, "wamid.HELLO")
	require.NoError(t, err)
	assert.Equal(t, message.Text{Body: "Hello"}, msg.Content)
	assert.Equal(t, int64(1700000000), msg.OccurredAt.Unix())
	assert.Equal(t, message.DirectionInbound, msg.Direction)
	assert.Equal(t, "Kerry", msg.SenderDisplayName)

	c, err := h.conversations.Get(ctx, conv)
	require.NoError(t, err)
	assert.Equal(t, 1, c.UnreadCount)
	assert.Equal(t, "agent-a", c.AssignedAgentID)

	select {
	case ev := <-events:
		assert.Equal(t, event.EventTypeMessageNew, ev.Type)
		assert.Equal(t, conv, ev.ConversationID)
		assert.Contains(t, string(ev.Data), `"body":"Hello"`)
	case <-time.After(time.Second):
		t.Fatal("expected message.new event")
	}

	// Provider redelivery.
	require.Equal(t, http.StatusOK, h.post(t, wrap(helloPayload)))
	c, err = h.conversations.Get(ctx, conv)
	require.NoError(t, err)
	assert.Equal(t, 1, c.UnreadCount, "duplicate delivery must not count twice")
	assert.Equal(t, "agent-a", c.AssignedAgentID)
	list, err := h.messages.ListBefore(ctx, conv, "", 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	select {
	case ev := <-events:
		t.Fatalf("unexpected event on redelivery: %s", ev.Type)
	default:
	}
}

func TestSecondConversationGoesToNextAgent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, "agent-a", "agent-b")

	require.Equal(t, http.StatusOK, h.post(t, wrap(helloPayload)))
	require.Equal(t, http.StatusOK, h.post(t, wrap(`{"messages":[{"from":"971509999999","id":"wamid.2","timestamp":"1700000100","type":"text","text":{"body":"Hi"}}]}`)))

	c, err := h.conversations.Get(ctx, "971509999999@s.whatsapp.net")
	require.NoError(t, err)
	assert.Equal(t, "agent-b", c.AssignedAgentID)
}

func TestStatusesAndReactionsFromWebhook(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	const conv = "971501234567@s.whatsapp.net"

	_, _, err := h.messages.RecordOutbound(ctx, message.OutboundInput{ConversationID: conv, ProviderMessageID: "wamid.OUT", Content: message.Text{Body: "Your order shipped"}})
	require.NoError(t, err)

	for _, status := range []string{"delivered", "read"} {
		body := wrap(`{"statuses":[{"id":"wamid.OUT","status":"` + status + `","timestamp":"1700000200","recipient_id":"971501234567"}]}`)
		require.Equal(t, http.StatusOK, h.post(t, body))
		msg, err := h.messages.Get(ctx, conv, "wamid.OUT")
		require.NoError(t, err)
		assert.Equal(t, message.DeliveryStatus(status), msg.DeliveryStatus)
	}

	require.Equal(t, http.StatusOK, h.post(t, wrap(`{"statuses":[{"id":"wamid.OUT","status":"failed","recipient_id":"971501234567","errors":[{"code":131026,"title":"undeliverable"}]}]}`)))
	msg, err := h.messages.Get(ctx, conv, "wamid.OUT")
	require.NoError(t, err)
	assert.Equal(t, message.StatusRead, msg.DeliveryStatus, "failed receipts are never stored")

	react := func(emoji string) {
		body := wrap(`{"messages":[{"from":"971501234567","id":"wamid.R` + emoji + `","timestamp":"1700000300","type":"reaction","reaction":{"message_id":"wamid.OUT","emoji":"` + emoji + `"}}]}`)
		require.Equal(t, http.StatusOK, h.post(t, body))
	}
	react("👍")
	react("❤️")
	msg, err = h.messages.Get(ctx, conv, "wamid.OUT")
	require.NoError(t, err)
	require.Len(t, msg.Reactions, 1)
	assert.Equal(t, "❤️", msg.Reactions[0].Emoji)
	react("")
	msg, err = h.messages.Get(ctx, conv, "wamid.OUT")
	require.NoError(t, err)
	assert.Empty(t, msg.Reactions)

	_, err = h.conversations.Get(ctx, conv)
	require.ErrorIs(t, err, conversation.ErrNotFound, "reactions and receipts do not create conversations")
}

type failingWriter struct {
	message.Writer
	failID string
	seen   []string
}

func (w *failingWriter) Ingest(ctx context.Context, in message.InboundInput) (message.Message, bool, error) {
	w.seen = append(w.seen, in.ProviderMessageID)
	if in.ProviderMessageID == w.failID {
		return message.Message{}, false, errors.New("boom")
	}
	return w.Writer.Ingest(ctx, in)
}

func TestOneBadMessageDoesNotBlockTheBatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := storetest.NewSQLite(t)
	messages := message.NewService(nil, db, message.PolicyMonotonic, nil)
	conversations := conversation.NewService(nil, db, nil)
	writer := &failingWriter{Writer: messages, failID: "m1"}
	p := inbound.NewProcessor(nil, writer, conversations, nil, nil)

	p.Process(ctx, whatsapp.Batch{Messages: []message.InboundInput{
		{ConversationID: "1111111@s.whatsapp.net", ProviderMessageID: "m1", Content: message.Text{Body: "a"}, OccurredAt: time.Now()},
		{ConversationID: "1111111@s.whatsapp.net", ProviderMessageID: "m2", Content: message.Text{Body: "b"}, OccurredAt: time.Now()},
	}})

	assert.Equal(t, []string{"m1", "m2"}, writer.seen)
	_, err := messages.Get(ctx, "1111111@s.whatsapp.net", "m2")
	require.NoError(t, err)
	c, err := conversations.Get(ctx, "1111111@s.whatsapp.net")
	require.NoError(t, err)
	assert.Equal(t, 1, c.UnreadCount)
}

type flakyConversations struct {
	*conversation.Service
	failures int
}

func (f *flakyConversations) TouchInbound(ctx context.Context, id, displayName string, at time.Time) (conversation.Conversation, error) {
	if f.failures > 0 {
		f.failures--
		return conversation.Conversation{}, errors.New("database is locked")
	}
	return f.Service.TouchInbound(ctx, id, displayName, at)
}

func TestRedeliveryRepairsFailedConversationTouch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := storetest.NewSQLite(t)
	_, err := db.CreateAgent(ctx, &store.Agent{ID: "agent-a", Username: "agent-a", Active: true})
	require.NoError(t, err)
	messages := message.NewService(nil, db, message.PolicyMonotonic, nil)
	conversations := conversation.NewService(nil, db, nil)
	engine := assignment.NewEngine(nil, settings.NewService(nil, db, true), agents.NewService(nil, db), conversations, assignment.NewCursor(db), nil)
	flaky := &flakyConversations{Service: conversations, failures: 1}
	p := inbound.NewProcessor(nil, messages, flaky, engine, nil)

	const conv = "971501234567@s.whatsapp.net"
	batch := whatsapp.Batch{Messages: []message.InboundInput{
		{ConversationID: conv, ProviderMessageID: "wamid.HELLO", Content: message.Text{Body: "Hello"}, OccurredAt: time.Unix(1700000000, 0)},
	}}

	p.Process(ctx, batch)
	_, err = messages.Get(ctx, conv, "wamid.HELLO")
	require.NoError(t, err)
	_, err = conversations.Get(ctx, conv)
	require.ErrorIs(t, err, conversation.ErrNotFound)

	p.Process(ctx, batch)
	c, err := conversations.Get(ctx, conv)
	require.NoError(t, err)
	assert.Equal(t, 1, c.UnreadCount)
	assert.Equal(t, "agent-a", c.AssignedAgentID)

	p.Process(ctx, batch)
	c, err = conversations.Get(ctx, conv)
	require.NoError(t, err)
	assert.Equal(t, 1, c.UnreadCount, "a third delivery must not count again")
}
