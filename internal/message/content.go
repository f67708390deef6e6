package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ContentType tags a Content variant on the wire and in storage.
type ContentType string

const (
	ContentText        ContentType = "text"
	ContentImage       ContentType = "image"
	ContentVideo       ContentType = "video"
	ContentAudio       ContentType = "audio"
	ContentDocument    ContentType = "document"
	ContentLocation    ContentType = "location"
	ContentInteractive ContentType = "interactive"
	ContentUnsupported ContentType = "unsupported"
)

// Content is the closed set of message bodies. Only types in this package
// implement it.
type Content interface {
	Type() ContentType
	content()
}

// Media references bytes held by the provider. Bytes are never stored here.
type Media struct {
	MediaID  string `json:"media_id"`
	MimeType string `json:"mime_type,omitempty"`
	SHA256   string `json:"sha256,omitempty"`
}

type Text struct {
	Body string `json:"body"`
}

type Image struct {
	Media
	Caption string `json:"caption,omitempty"`
	Sticker bool   `json:"sticker,omitempty"`
}

type Video struct {
	Media
	Caption string `json:"caption,omitempty"`
}

type Audio struct {
	Media
	Voice bool `json:"voice,omitempty"`
}

type Document struct {
	Media
	Filename string `json:"filename,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
	URL       string  `json:"url,omitempty"`
}

// Interactive is a button or list reply chosen by the contact.
type Interactive struct {
	Kind        string `json:"kind"`
	ReplyID     string `json:"reply_id,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// Unsupported keeps a timeline slot for provider types we cannot render.
type Unsupported struct {
	Kind   string `json:"kind"`
	Reason string `json:"reason,omitempty"`
}

func (Text) Type() ContentType        { return ContentText }
func (Image) Type() ContentType       { return ContentImage }
func (Video) Type() ContentType       { return ContentVideo }
func (Audio) Type() ContentType       { return ContentAudio }
func (Document) Type() ContentType    { return ContentDocument }
func (Location) Type() ContentType    { return ContentLocation }
func (Interactive) Type() ContentType { return ContentInteractive }
func (Unsupported) Type() ContentType { return ContentUnsupported }

func (Text) content()        {}
func (Image) content()       {}
func (Video) content()       {}
func (Audio) content()       {}
func (Document) content()    {}
func (Location) content()    {}
func (Interactive) content() {}
func (Unsupported) content() {}

// MediaOf returns the provider media reference carried by c, if any.
func MediaOf(c Content) (Media, bool) {
	switch v := c.(type) {
	case Image:
		return v.Media, v.MediaID != ""
	case Video:
		return v.Media, v.MediaID != ""
	case Audio:
		return v.Media, v.MediaID != ""
	case Document:
		return v.Media, v.MediaID != ""
	default:
		return Media{}, false
	}
}

// EncodeContent renders c as a flat JSON object with a "type" field.
func EncodeContent(c Content) ([]byte, error) {
	if c == nil {
		return nil, errors.New("content is nil")
	}
	body, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	typ, err := json.Marshal(c.Type())
	if err != nil {
		return nil, err
	}
	fields["type"] = typ
	return json.Marshal(fields)
}

// DecodeContent parses EncodeContent output. Unknown types decode to
// Unsupported; empty input decodes to nil.
func DecodeContent(raw []byte) (Content, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var head struct {
		Type ContentType `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err
	}
	switch head.Type {
	case ContentText:
		return decodeAs[Text](raw)
	case ContentImage:
		return decodeAs[Image](raw)
	case ContentVideo:
		return decodeAs[Video](raw)
	case ContentAudio:
		return decodeAs[Audio](raw)
	case ContentDocument:
		return decodeAs[Document](raw)
	case ContentLocation:
		return decodeAs[Location](raw)
	case ContentInteractive:
		return decodeAs[Interactive](raw)
	case ContentUnsupported:
		return decodeAs[Unsupported](raw)
	default:
		return Unsupported{Kind: string(head.Type), Reason: "unknown content type"}, nil
	}
}

func decodeAs[T Content](raw []byte) (Content, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode %T: %w", v, err)
	}
	return v, nil
}

const previewMaxRunes = 100

// Preview is a short, type-aware summary used for quoted replies.
func Preview(c Content) string {
	switch v := c.(type) {
	case Text:
		return truncateRunes(strings.TrimSpace(v.Body), previewMaxRunes)
	case Image:
		if v.Sticker {
			return "[sticker]"
		}
		return "[image]"
	case Video:
		return "[video]"
	case Audio:
		if v.Voice {
			return "[voice]"
		}
		return "[audio]"
	case Document:
		return "[document]"
	case Location:
		return "[location]"
	case Interactive:
		if v.Title != "" {
			return truncateRunes(v.Title, previewMaxRunes)
		}
		return "[interactive]"
	case Unsupported:
		return "[unsupported]"
	default:
		return ""
	}
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "…"
}
