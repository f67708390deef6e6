package whatsapp

import (
	"fmt"
	"strings"
)

// AddressSuffix is appended to a phone number to form a conversation id.
const AddressSuffix = "@s.whatsapp.net"

const (
	minPhoneDigits = 7
	maxPhoneDigits = 15
)

// ConversationID maps a provider wa_id to the internal conversation id.
func ConversationID(phone string) string {
	return normalizePhone(phone) + AddressSuffix
}

// PhoneFromConversationID extracts the sendable phone number from a
// conversation id. Anything that is not 7 to 15 digits followed by the
// address suffix is rejected.
func PhoneFromConversationID(conversationID string) (string, error) {
	id := strings.TrimSpace(conversationID)
	phone, ok := strings.CutSuffix(id, AddressSuffix)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, conversationID)
	}
	if err := validatePhone(phone); err != nil {
		return "", fmt.Errorf("%w: %q", err, conversationID)
	}
	return phone, nil
}

func normalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	return strings.TrimPrefix(phone, "+")
}

func validatePhone(phone string) error {
	if len(phone) < minPhoneDigits || len(phone) > maxPhoneDigits {
		return ErrInvalidAddress
	}
	for _, r := range phone {
		if r < '0' || r > '9' {
			return ErrInvalidAddress
		}
	}
	return nil
}
