package whatsapp

// ObjectBusinessAccount is the only webhook object this service consumes.
const ObjectBusinessAccount = "whatsapp_business_account"

// WebhookPayload is the body the provider POSTs to the webhook.
type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

type ChangeValue struct {
	MessagingProduct string        `json:"messaging_product"`
	Metadata         Metadata      `json:"metadata"`
	Contacts         []Contact     `json:"contacts,omitempty"`
	Messages         []WireMessage `json:"messages,omitempty"`
	Statuses         []WireStatus  `json:"statuses,omitempty"`
}

type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type Contact struct {
	WaID    string  `json:"wa_id"`
	Profile Profile `json:"profile"`
}

type Profile struct {
	Name string `json:"name"`
}

// WireMessage is one inbound message. Exactly one of the typed payloads is
// set, named by Type.
type WireMessage struct {
	From        string           `json:"from"`
	ID          string           `json:"id"`
	Timestamp   string           `json:"timestamp"`
	Type        string           `json:"type"`
	Context     *WireContext     `json:"context,omitempty"`
	Text        *WireText        `json:"text,omitempty"`
	Image       *WireMedia       `json:"image,omitempty"`
	Sticker     *WireMedia       `json:"sticker,omitempty"`
	Video       *WireMedia       `json:"video,omitempty"`
	Audio       *WireMedia       `json:"audio,omitempty"`
	Document    *WireMedia       `json:"document,omitempty"`
	Location    *WireLocation    `json:"location,omitempty"`
	Interactive *WireInteractive `json:"interactive,omitempty"`
	Button      *WireButton      `json:"button,omitempty"`
	Reaction    *WireReaction    `json:"reaction,omitempty"`
	Errors      []WireError      `json:"errors,omitempty"`
}

type WireContext struct {
	From string `json:"from,omitempty"`
	ID   string `json:"id"`
}

type WireText struct {
	Body string `json:"body"`
}

type WireMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type,omitempty"`
	SHA256   string `json:"sha256,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
	Voice    bool   `json:"voice,omitempty"`
	Animated bool   `json:"animated,omitempty"`
}

type WireLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
	URL       string  `json:"url,omitempty"`
}

type WireInteractive struct {
	Type        string         `json:"type"`
	ButtonReply *WireReply     `json:"button_reply,omitempty"`
	ListReply   *WireReply     `json:"list_reply,omitempty"`
	NfmReply    *WireFlowReply `json:"nfm_reply,omitempty"`
}

type WireReply struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type WireFlowReply struct {
	Name         string `json:"name,omitempty"`
	Body         string `json:"body,omitempty"`
	ResponseJSON string `json:"response_json,omitempty"`
}

type WireButton struct {
	Payload string `json:"payload"`
	Text    string `json:"text"`
}

type WireReaction struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type WireError struct {
	Code    int    `json:"code"`
	Title   string `json:"title"`
	Message string `json:"message,omitempty"`
}

// WireStatus is a delivery receipt for a message we sent.
type WireStatus struct {
	ID          string      `json:"id"`
	Status      string      `json:"status"`
	Timestamp   string      `json:"timestamp"`
	RecipientID string      `json:"recipient_id"`
	Errors      []WireError `json:"errors,omitempty"`
}
