package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/memohai/wadesk/internal/config"
)

const (
	messagingProduct = "whatsapp"
	maxErrorBody     = 64 << 10
)

// Client talks to the WhatsApp Cloud API with the configured bearer token.
// Every call waits on a shared rate limiter first.
type Client struct {
	baseURL       string
	phoneNumberID string
	configured    bool
	http          *http.Client
	limiter       *rate.Limiter
	logger        *slog.Logger
	now           func() time.Time
}

func NewClient(log *slog.Logger, cfg config.WhatsAppConfig) *Client {
	if log == nil {
		log = slog.Default()
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RateLimitRPS > 0 {
		limit = rate.Limit(cfg.RateLimitRPS)
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 1
	}
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken, TokenType: "Bearer"})
	return &Client{
		baseURL:       strings.TrimRight(cfg.APIBaseURL, "/") + "/" + strings.Trim(cfg.APIVersion, "/"),
		phoneNumberID: strings.TrimSpace(cfg.PhoneNumberID),
		configured:    cfg.OutboundEnabled(),
		http: &http.Client{
			Timeout:   timeout,
			Transport: &oauth2.Transport{Source: source, Base: http.DefaultTransport},
		},
		limiter: rate.NewLimiter(limit, burst),
		logger:  log.With(slog.String("adapter", "whatsapp")),
		now:     time.Now,
	}
}

// Configured reports whether outbound calls can be made at all.
func (c *Client) Configured() bool {
	return c.configured
}

// PhoneNumberID is the business number this client sends from.
func (c *Client) PhoneNumberID() string {
	return c.phoneNumberID
}

// OutgoingMessage is the body of POST /{phone-number-id}/messages.
type OutgoingMessage struct {
	MessagingProduct string            `json:"messaging_product"`
	RecipientType    string            `json:"recipient_type,omitempty"`
	To               string            `json:"to"`
	Type             string            `json:"type"`
	Context          *OutgoingContext  `json:"context,omitempty"`
	Text             *OutgoingText     `json:"text,omitempty"`
	Image            *OutgoingMedia    `json:"image,omitempty"`
	Video            *OutgoingMedia    `json:"video,omitempty"`
	Audio            *OutgoingMedia    `json:"audio,omitempty"`
	Document         *OutgoingMedia    `json:"document,omitempty"`
	Sticker          *OutgoingMedia    `json:"sticker,omitempty"`
	Reaction         *OutgoingReaction `json:"reaction,omitempty"`
}

type OutgoingContext struct {
	MessageID string `json:"message_id"`
}

type OutgoingText struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url,omitempty"`
}

type OutgoingMedia struct {
	ID       string `json:"id"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type OutgoingReaction struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

// TextMessage builds a text send, replying to replyTo when set.
func TextMessage(to, body, replyTo string) OutgoingMessage {
	m := OutgoingMessage{To: to, Type: "text", Text: &OutgoingText{Body: body}}
	return withReply(m, replyTo)
}

// MediaMessage builds a media send for kind image, video, audio, document or
// sticker. Captions are dropped for audio and stickers, which the provider
// does not caption.
func MediaMessage(to, kind string, media OutgoingMedia, replyTo string) OutgoingMessage {
	m := OutgoingMessage{To: to, Type: kind}
	if kind != "document" {
		media.Filename = ""
	}
	switch kind {
	case "image":
		m.Image = &media
	case "video":
		m.Video = &media
	case "audio":
		media.Caption = ""
		m.Audio = &media
	case "sticker":
		media.Caption = ""
		m.Sticker = &media
	default:
		m.Type = "document"
		m.Document = &media
	}
	return withReply(m, replyTo)
}

// ReactionMessage reacts to messageID. An empty emoji removes our reaction.
func ReactionMessage(to, messageID, emoji string) OutgoingMessage {
	return OutgoingMessage{To: to, Type: "reaction", Reaction: &OutgoingReaction{MessageID: messageID, Emoji: emoji}}
}

func withReply(m OutgoingMessage, replyTo string) OutgoingMessage {
	if replyTo = strings.TrimSpace(replyTo); replyTo != "" {
		m.Context = &OutgoingContext{MessageID: replyTo}
	}
	return m
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// SendMessage posts msg and returns the provider message id. Failures are
// *SendError values.
func (c *Client) SendMessage(ctx context.Context, msg OutgoingMessage) (string, error) {
	if !c.configured {
		return "", ErrNotConfigured
	}
	msg.MessagingProduct = messagingProduct
	if msg.RecipientType == "" {
		msg.RecipientType = "individual"
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("encode message: %w", err)
	}
	var out sendResponse
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/"+c.phoneNumberID+"/messages", "application/json", bytes.NewReader(body), &out); err != nil {
		return "", err
	}
	if len(out.Messages) == 0 || strings.TrimSpace(out.Messages[0].ID) == "" {
		return "", &SendError{Kind: ErrMissingProviderID, StatusCode: http.StatusOK}
	}
	return out.Messages[0].ID, nil
}

// UploadMedia streams r to POST /{phone-number-id}/media and returns the
// media id.
func (c *Client) UploadMedia(ctx context.Context, r io.Reader, filename, mimeType string) (string, error) {
	if !c.configured {
		return "", ErrNotConfigured
	}
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("messaging_product", messagingProduct); err != nil {
		return "", err
	}
	if err := w.WriteField("type", mimeType); err != nil {
		return "", err
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", mimeType)
	part, err := w.CreatePart(header)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/"+c.phoneNumberID+"/media", w.FormDataContentType(), &buf, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.ID) == "" {
		return "", &SendError{Kind: ErrMissingProviderID, StatusCode: http.StatusOK, Message: "upload returned no media id"}
	}
	return out.ID, nil
}

// MediaInfo is the provider's metadata for a media id. URL is short lived.
type MediaInfo struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
	FileSize int64  `json:"file_size"`
}

func (c *Client) GetMedia(ctx context.Context, mediaID string) (MediaInfo, error) {
	if !c.configured {
		return MediaInfo{}, ErrNotConfigured
	}
	var info MediaInfo
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/"+url.PathEscape(mediaID), "", nil, &info); err != nil {
		return MediaInfo{}, err
	}
	if info.URL == "" {
		return MediaInfo{}, fmt.Errorf("media %s has no download url", mediaID)
	}
	return info, nil
}

// Download opens a media URL returned by GetMedia. The caller closes the
// body.
func (c *Client) Download(ctx context.Context, mediaURL string) (*http.Response, error) {
	if !c.configured {
		return nil, ErrNotConfigured
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &SendError{Kind: ErrTransientSend, Err: err}
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		return nil, c.responseError(resp)
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, method, endpoint, contentType string, body io.Reader, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &SendError{Kind: ErrTransientSend, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return c.responseError(resp)
	}
	if out == nil {
		return nil
	}
	// A 2xx body we cannot read carries no usable id.
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &SendError{Kind: ErrMissingProviderID, StatusCode: resp.StatusCode, Message: "decode response", Err: err}
	}
	return nil
}

type graphError struct {
	Error struct {
		Message      string `json:"message"`
		Type         string `json:"type"`
		Code         int    `json:"code"`
		ErrorSubcode int    `json:"error_subcode"`
		FBTraceID    string `json:"fbtrace_id"`
	} `json:"error"`
}

func (c *Client) responseError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	sendErr := &SendError{
		Kind:       classifyStatus(resp.StatusCode),
		StatusCode: resp.StatusCode,
	}
	var ge graphError
	if json.Unmarshal(raw, &ge) == nil && ge.Error.Message != "" {
		sendErr.Code = ge.Error.Code
		sendErr.Message = ge.Error.Message
	} else {
		sendErr.Message = strings.TrimSpace(string(raw))
	}
	if sendErr.Retryable() {
		sendErr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), c.now())
	}
	c.logger.Warn("provider call failed",
		slog.String("url", resp.Request.URL.Path),
		slog.Int("status", resp.StatusCode),
		slog.Int("code", sendErr.Code),
		slog.String("message", sendErr.Message),
	)
	return sendErr
}
