package strata

import (
	"errors"
	"strings"
	"testing"
)

func TestCodecRoundTrip(t *testing.T) {
	codec := NewCodec(false)
	secret := "correct horse battery staple"
	plaintext := []byte(`{"token":"nsec1-sensitive"}`)

	payload, err := codec.Encrypt(plaintext, secret)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if strings.Contains(payload, "nsec1-sensitive") {
		t.Error("payload contains plaintext")
	}

	got, err := codec.Decrypt(payload, secret)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Errorf("round trip mismatch: %q", got)
	}
}

func TestCodecFreshSaltPerWrite(t *testing.T) {
	codec := NewCodec(false)

	a, _ := codec.Encrypt([]byte("same"), "secret")
	b, _ := codec.Encrypt([]byte("same"), "secret")
	if a == b {
		t.Error("two encryptions of the same plaintext are identical")
	}
}

func TestCodecStrictFailures(t *testing.T) {
	codec := NewCodec(true)

	payload, err := codec.Encrypt([]byte("data"), "secret")
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name    string
		payload string
		secret  string
	}{
		{"WrongSecret", payload, "other"},
		{"NotBase64", "%%%not-base64%%%", "secret"},
		{"TooShort", "c2hvcnQ=", "secret"},
		{"Tampered", payload[:len(payload)-8] + "AAAAAAA=", "secret"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := codec.Decrypt(tc.payload, tc.secret)
			var derr *DecryptionError
			if !errors.As(err, &derr) {
				t.Errorf("error = %v, want *DecryptionError", err)
			}
		})
	}
}

func TestCodecLenientPassthrough(t *testing.T) {
	codec := NewCodec(false)

	// A payload that was never encrypted comes back unchanged so callers
	// can try it as plain data.
	got, err := codec.Decrypt(`{"plain":"json"}`, "secret")
	if err != nil {
		t.Fatalf("lenient decrypt errored: %v", err)
	}
	if string(got) != `{"plain":"json"}` {
		t.Errorf("passthrough altered the payload: %q", got)
	}
}

func TestCodecFallbackSecret(t *testing.T) {
	codec := NewCodec(false)

	payload, err := codec.Encrypt([]byte("obfuscated"), "")
	if err != nil {
		t.Fatalf("Encrypt with empty secret failed: %v", err)
	}
	got, err := codec.Decrypt(payload, "")
	if err != nil || string(got) != "obfuscated" {
		t.Errorf("fallback round trip: %q, %v", got, err)
	}
}
