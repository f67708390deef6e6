package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/memohai/wadesk/internal/agents"
	"github.com/memohai/wadesk/internal/auth"
	"github.com/memohai/wadesk/internal/conversation"
	"github.com/memohai/wadesk/internal/media"
	"github.com/memohai/wadesk/internal/media/staging"
	"github.com/memohai/wadesk/internal/message"
	"github.com/memohai/wadesk/internal/message/event"
	"github.com/memohai/wadesk/internal/outbound"
	"github.com/memohai/wadesk/internal/whatsapp"
)

const testConv = "971501234567@s.whatsapp.net"

func newEcho() *echo.Echo {
	e := echo.New()
	e.Validator = NewRequestValidator()
	return e
}

func TestSendFailureMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantRetry  string
	}{
		{name: "not configured", err: whatsapp.ErrNotConfigured, wantStatus: http.StatusServiceUnavailable, wantCode: "not_configured"},
		{
			name:       "transient with retry after",
			err:        &whatsapp.SendError{Kind: whatsapp.ErrTransientSend, StatusCode: 429, RetryAfter: 1500 * time.Millisecond},
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "transient_send_failure",
			wantRetry:  "2",
		},
		{name: "permanent", err: &whatsapp.SendError{Kind: whatsapp.ErrPermanentSend, StatusCode: 400}, wantStatus: http.StatusUnprocessableEntity, wantCode: "permanent_send_failure"},
		{name: "missing id", err: &whatsapp.SendError{Kind: whatsapp.ErrMissingProviderID}, wantStatus: http.StatusBadGateway, wantCode: "missing_provider_id"},
		{name: "provider auth", err: &whatsapp.SendError{Kind: whatsapp.ErrProviderAuth, StatusCode: 401}, wantStatus: http.StatusBadGateway, wantCode: "provider_auth_failure"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			c := newEcho().NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)
			if err := sendFailure(c, tt.err); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var body apiError
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Code != tt.wantCode {
				t.Fatalf("code = %q, want %q", body.Code, tt.wantCode)
			}
			if got := rec.Header().Get("Retry-After"); got != tt.wantRetry {
				t.Fatalf("Retry-After = %q, want %q", got, tt.wantRetry)
			}
		})
	}
}

func TestHTTPErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{err: whatsapp.ErrInvalidAddress, want: http.StatusBadRequest},
		{err: outbound.ErrInvalidInput, want: http.StatusBadRequest},
		{err: conversation.ErrNotFound, want: http.StatusNotFound},
		{err: message.ErrNotFound, want: http.StatusNotFound},
		{err: media.ErrFileTooLarge, want: http.StatusRequestEntityTooLarge},
		{err: agents.ErrUsernameTaken, want: http.StatusConflict},
		{err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		var he *echo.HTTPError
		if !errors.As(httpError(tt.err), &he) || he.Code != tt.want {
			t.Fatalf("httpError(%v) = %v, want %d", tt.err, he, tt.want)
		}
	}
}

type fakeConversations struct {
	lastFilter conversation.ListFilter
	items      map[string]conversation.Conversation
}

func (f *fakeConversations) Get(_ context.Context, id string) (conversation.Conversation, error) {
	c, ok := f.items[id]
	if !ok {
		return conversation.Conversation{}, conversation.ErrNotFound
	}
	return c, nil
}

func (f *fakeConversations) List(_ context.Context, filter conversation.ListFilter) ([]conversation.Conversation, error) {
	f.lastFilter = filter
	return nil, nil
}

func (f *fakeConversations) MarkRead(ctx context.Context, id string) (conversation.Conversation, error) {
	return f.Get(ctx, id)
}
func (f *fakeConversations) Hide(ctx context.Context, id string) (conversation.Conversation, error) {
	return f.Get(ctx, id)
}
func (f *fakeConversations) Archive(ctx context.Context, id string) (conversation.Conversation, error) {
	return f.Get(ctx, id)
}
func (f *fakeConversations) Unarchive(ctx context.Context, id string) (conversation.Conversation, error) {
	return f.Get(ctx, id)
}
func (f *fakeConversations) Assign(ctx context.Context, id, agentID string) (conversation.Conversation, error) {
	c, err := f.Get(ctx, id)
	c.AssignedAgentID = agentID
	return c, err
}
func (f *fakeConversations) Delete(_ context.Context, id string) error {
	if _, ok := f.items[id]; !ok {
		return conversation.ErrNotFound
	}
	delete(f.items, id)
	return nil
}

func withAgent(t *testing.T, c echo.Context, agentID string) {
	t.Helper()
	signed, _, err := auth.GenerateToken(agentID, agentID, "secret", time.Minute)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	token, err := jwt.Parse(signed, func(*jwt.Token) (interface{}, error) { return []byte("secret"), nil })
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	c.Set("user", token)
}

func TestListConversationsAssignedFilter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		query      string
		wantAgent  string
		wantNone   bool
		wantHidden bool
	}{
		{query: "assigned=me", wantAgent: "agent-a"},
		{query: "assigned=agent-b&include_hidden=true", wantAgent: "agent-b", wantHidden: true},
		{query: "assigned=none", wantNone: true},
	}
	for _, tt := range tests {
		convs := &fakeConversations{}
		h := NewConversationsHandler(nil, convs)
		rec := httptest.NewRecorder()
		c := newEcho().NewContext(httptest.NewRequest(http.MethodGet, "/conversations?"+tt.query, nil), rec)
		withAgent(t, c, "agent-a")
		if err := h.List(c); err != nil {
			t.Fatalf("List(%s): %v", tt.query, err)
		}
		if convs.lastFilter.AssignedAgentID != tt.wantAgent || convs.lastFilter.Unassigned != tt.wantNone || convs.lastFilter.IncludeHidden != tt.wantHidden {
			t.Fatalf("List(%s) filter = %+v", tt.query, convs.lastFilter)
		}
		if !strings.Contains(rec.Body.String(), `"items":[]`) {
			t.Fatalf("expected empty items array, got %s", rec.Body.String())
		}
	}
}

func TestConversationPathIDIsUnescaped(t *testing.T) {
	t.Parallel()

	convs := &fakeConversations{items: map[string]conversation.Conversation{testConv: {ID: testConv}}}
	h := NewConversationsHandler(nil, convs)
	rec := httptest.NewRecorder()
	c := newEcho().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("conversation_id")
	c.SetParamValues("971501234567%40s.whatsapp.net")
	if err := h.Get(c); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"phone":"971501234567"`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

type fakeReader struct {
	messages []message.Message
	byID     map[string]message.Message
}

func (f *fakeReader) Get(_ context.Context, _ string, id string) (message.Message, error) {
	m, ok := f.byID[id]
	if !ok {
		return message.Message{}, message.ErrNotFound
	}
	return m, nil
}

func (f *fakeReader) ListBefore(_ context.Context, _ string, _ string, limit int) ([]message.Message, error) {
	if limit > len(f.messages) {
		limit = len(f.messages)
	}
	return f.messages[:limit], nil
}

type fakeSender struct {
	media     outbound.SendMediaInput
	stagedOK  bool
	reaction  outbound.SendReactionInput
	textErr   error
	textInput outbound.SendTextInput
}

func (f *fakeSender) SendText(_ context.Context, in outbound.SendTextInput) (message.Message, error) {
	f.textInput = in
	if f.textErr != nil {
		return message.Message{}, f.textErr
	}
	return message.Message{ConversationID: in.ConversationID, ProviderMessageID: "wamid.OUT", Direction: message.DirectionOutbound, Content: message.Text{Body: in.Text}, DeliveryStatus: message.StatusSent}, nil
}

func (f *fakeSender) SendMedia(_ context.Context, in outbound.SendMediaInput) ([]message.Message, error) {
	f.media = in
	f.stagedOK = true
	out := make([]message.Message, 0, len(in.Files))
	for _, file := range in.Files {
		if _, err := os.Stat(file.Path); err != nil {
			f.stagedOK = false
		}
		out = append(out, message.Message{ConversationID: in.ConversationID, ProviderMessageID: "wamid." + file.Name})
	}
	return out, nil
}

func (f *fakeSender) SendReaction(_ context.Context, in outbound.SendReactionInput) error {
	f.reaction = in
	return nil
}

type fakeProxy struct{}

func (fakeProxy) Open(_ context.Context, mediaID string) (*media.Payload, bool) {
	if mediaID != "m1" {
		return nil, false
	}
	return &media.Payload{Body: io.NopCloser(strings.NewReader("jpegbytes")), MimeType: "image/jpeg", Size: 9}, true
}

func (fakeProxy) Describe(_ context.Context, mediaID string) (media.Info, bool) {
	if mediaID != "m1" {
		return media.Info{}, false
	}
	return media.Info{MediaID: "m1", MimeType: "image/jpeg", Size: 9}, true
}

func newMessagesHandler(t *testing.T, reader *fakeReader, sender *fakeSender) *MessagesHandler {
	t.Helper()
	dir, err := staging.New(t.TempDir())
	if err != nil {
		t.Fatalf("staging: %v", err)
	}
	convs := &fakeConversations{items: map[string]conversation.Conversation{testConv: {ID: testConv}}}
	return NewMessagesHandler(nil, convs, reader, sender, fakeProxy{}, dir)
}

func convContext(e *echo.Echo, req *http.Request, rec *httptest.ResponseRecorder, extra ...string) echo.Context {
	c := e.NewContext(req, rec)
	names := []string{"conversation_id"}
	values := []string{testConv}
	for i := 0; i+1 < len(extra); i += 2 {
		names = append(names, extra[i])
		values = append(values, extra[i+1])
	}
	c.SetParamNames(names...)
	c.SetParamValues(values...)
	return c
}

func TestListMessagesOldestFirstWithCursor(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{messages: []message.Message{
		{ProviderMessageID: "m3", Content: message.Text{Body: "3"}},
		{ProviderMessageID: "m2", Content: message.Text{Body: "2"}},
		{ProviderMessageID: "m1", Content: message.Text{Body: "1"}},
	}}
	h := newMessagesHandler(t, reader, &fakeSender{})
	rec := httptest.NewRecorder()
	c := convContext(newEcho(), httptest.NewRequest(http.MethodGet, "/?limit=2", nil), rec)
	if err := h.List(c); err != nil {
		t.Fatalf("List: %v", err)
	}
	var resp struct {
		Items []struct {
			ID string `json:"id"`
		} `json:"items"`
		NextBefore string `json:"next_before"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Items) != 2 || resp.Items[0].ID != "m2" || resp.Items[1].ID != "m3" {
		t.Fatalf("unexpected order: %+v", resp.Items)
	}
	if resp.NextBefore != "m2" {
		t.Fatalf("next_before = %q, want m2", resp.NextBefore)
	}
}

func TestListMessagesUnknownConversation(t *testing.T) {
	t.Parallel()

	h := newMessagesHandler(t, &fakeReader{}, &fakeSender{})
	c := newEcho().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("conversation_id")
	c.SetParamValues("nobody@s.whatsapp.net")
	var he *echo.HTTPError
	if err := h.List(c); !errors.As(err, &he) || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestSendTextValidatesBody(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	h := newMessagesHandler(t, &fakeReader{}, sender)
	e := newEcho()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"quoted_id":"x"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	var he *echo.HTTPError
	if err := h.SendText(convContext(e, req, httptest.NewRecorder())); !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"text":"Hi","quoted_id":"wamid.IN"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	if err := h.SendText(convContext(e, req, rec)); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if rec.Code != http.StatusCreated || sender.textInput.QuotedID != "wamid.IN" || sender.textInput.ConversationID != testConv {
		t.Fatalf("unexpected result %d %+v", rec.Code, sender.textInput)
	}
	if !strings.Contains(rec.Body.String(), `"delivery_status":"sent"`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestSendMediaStagesFiles(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	h := newMessagesHandler(t, &fakeReader{}, sender)

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for _, name := range []string{"a.jpg", "a.jpg"} {
		part, err := w.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		_, _ = part.Write([]byte("data-" + name))
	}
	_ = w.WriteField("caption", "look")
	_ = w.WriteField("voice", "false")
	_ = w.Close()

	req := httptest.NewRequest(http.MethodPost, "/", &body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	rec := httptest.NewRecorder()
	if err := h.SendMedia(convContext(newEcho(), req, rec)); err != nil {
		t.Fatalf("SendMedia: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(sender.media.Files) != 2 || sender.media.Caption != "look" || !sender.stagedOK {
		t.Fatalf("unexpected media input %+v staged=%v", sender.media, sender.stagedOK)
	}
	if sender.media.Files[0].Path == sender.media.Files[1].Path {
		t.Fatal("files with the same name must not share a staging path")
	}
	for _, f := range sender.media.Files {
		if _, err := os.Stat(f.Path); !os.IsNotExist(err) {
			t.Fatalf("staged file %s should be released, stat err=%v", f.Path, err)
		}
	}
}

func TestReactPassesTarget(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	h := newMessagesHandler(t, &fakeReader{}, sender)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"emoji":"👍"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	if err := h.React(convContext(newEcho(), req, rec, "message_id", "wamid.IN")); err != nil {
		t.Fatalf("React: %v", err)
	}
	if rec.Code != http.StatusNoContent || sender.reaction.TargetID != "wamid.IN" || sender.reaction.Emoji != "👍" {
		t.Fatalf("unexpected reaction %d %+v", rec.Code, sender.reaction)
	}
}

func TestServeMediaAndMeta(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{byID: map[string]message.Message{
		"with":    {ProviderMessageID: "with", Content: message.Image{Media: message.Media{MediaID: "m1"}}},
		"expired": {ProviderMessageID: "expired", Content: message.Image{Media: message.Media{MediaID: "gone"}}},
		"text":    {ProviderMessageID: "text", Content: message.Text{Body: "hi"}},
	}}
	h := newMessagesHandler(t, reader, &fakeSender{})
	e := newEcho()

	rec := httptest.NewRecorder()
	if err := h.ServeMedia(convContext(e, httptest.NewRequest(http.MethodGet, "/", nil), rec, "message_id", "with")); err != nil {
		t.Fatalf("ServeMedia: %v", err)
	}
	if rec.Body.String() != "jpegbytes" || rec.Header().Get(echo.HeaderContentType) != "image/jpeg" {
		t.Fatalf("unexpected media response %q %v", rec.Body.String(), rec.Header())
	}

	var he *echo.HTTPError
	if err := h.ServeMedia(convContext(e, httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder(), "message_id", "text")); !errors.As(err, &he) || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for text message, got %v", err)
	}

	rec = httptest.NewRecorder()
	if err := h.MediaMeta(convContext(e, httptest.NewRequest(http.MethodGet, "/", nil), rec, "message_id", "expired")); err != nil {
		t.Fatalf("MediaMeta: %v", err)
	}
	if strings.TrimSpace(rec.Body.String()) != `{"available":false}` {
		t.Fatalf("unexpected meta %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	if err := h.MediaMeta(convContext(e, httptest.NewRequest(http.MethodGet, "/", nil), rec, "message_id", "with")); err != nil {
		t.Fatalf("MediaMeta: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"available":true`) || !strings.Contains(rec.Body.String(), `"media_id":"m1"`) {
		t.Fatalf("unexpected meta %s", rec.Body.String())
	}
}

type fakeAuthenticator struct{}

func (fakeAuthenticator) Authenticate(_ context.Context, username, password string) (agents.Agent, error) {
	if username == "alice" && password == "correct-horse" {
		return agents.Agent{ID: "agent-a", Username: "alice", Active: true}, nil
	}
	return agents.Agent{}, agents.ErrInvalidCredentials
}

func TestLogin(t *testing.T) {
	t.Parallel()

	h := NewAuthHandler(nil, fakeAuthenticator{}, "secret", time.Hour)
	e := newEcho()

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"username":"alice","password":"correct-horse"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	if err := h.Login(e.NewContext(req, rec)); err != nil {
		t.Fatalf("Login: %v", err)
	}
	var resp LoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.AccessToken == "" || resp.Agent == nil || resp.Agent.ID != "agent-a" {
		t.Fatalf("unexpected login response %+v", resp)
	}

	req = httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"username":"alice","password":"nope"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	var he *echo.HTTPError
	if err := h.Login(e.NewContext(req, httptest.NewRecorder())); !errors.As(err, &he) || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestEventsWebSocket(t *testing.T) {
	t.Parallel()

	hub := event.NewHub(nil)
	e := echo.New()
	NewEventsHandler(nil, hub, nil).Register(e)
	srv := httptest.NewServer(e)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events/ws?conversation_id=" + testConv
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription was not registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	hub.Publish(event.Event{Type: event.EventTypeChatRead, ConversationID: "other@s.whatsapp.net"})
	hub.Publish(event.Event{Type: event.EventTypeChatRead, ConversationID: testConv, Data: json.RawMessage(`{"conversation_id":"` + testConv + `"}`)})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got event.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Type != event.EventTypeChatRead || got.ConversationID != testConv {
		t.Fatalf("unexpected event %+v", got)
	}
}
