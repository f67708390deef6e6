package whatsapp

import (
	"errors"
	"testing"
)

func TestVerifySignature(t *testing.T) {
	t.Parallel()

	body := []byte(`{"object":"whatsapp_business_account"}`)
	secret := "app-secret"
	valid := SignatureHeaderValue(body, secret)

	tests := []struct {
		name    string
		body    []byte
		secret  string
		header  string
		wantErr error
	}{
		{name: "valid", body: body, secret: secret, header: valid},
		{name: "no secret configured", body: body, secret: "", header: ""},
		{name: "missing header", body: body, secret: secret, header: "", wantErr: ErrSignatureMissing},
		{name: "wrong prefix", body: body, secret: secret, header: "sha1=abcd", wantErr: ErrSignatureMalformed},
		{name: "bad hex", body: body, secret: secret, header: "sha256=zz", wantErr: ErrSignatureMalformed},
		{name: "tampered body", body: []byte(`{"object":"whatsapp_business_account" }`), secret: secret, header: valid, wantErr: ErrSignatureMismatch},
		{name: "wrong secret", body: body, secret: "other", header: valid, wantErr: ErrSignatureMismatch},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := VerifySignature(tt.body, tt.secret, tt.header)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if !errors.Is(err, ErrAuthentication) {
				t.Fatalf("signature errors must wrap ErrAuthentication")
			}
		})
	}
}
