package crypto

import (
	"errors"
	"testing"
)

func TestEncryptor_RoundTrip(t *testing.T) {
	enc, err := NewEncryptor("short-secret")
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}

	ct, err := enc.Encrypt("ya29.access-token")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if !IsEncrypted(ct) {
		t.Fatalf("ciphertext %q missing prefix", ct)
	}

	pt, err := enc.Decrypt(ct)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if pt != "ya29.access-token" {
		t.Errorf("Decrypt = %q", pt)
	}
}

func TestEncryptor_PlaintextPassthrough(t *testing.T) {
	enc, _ := NewEncryptor("k")

	got, err := enc.Decrypt("legacy-token")
	if err != nil || got != "legacy-token" {
		t.Errorf("Decrypt(plaintext) = %q, %v", got, err)
	}

	empty, _ := enc.Encrypt("")
	if empty != "" {
		t.Errorf("Encrypt(\"\") = %q", empty)
	}
}

func TestEncryptor_WrongKey(t *testing.T) {
	a, _ := NewEncryptor("key-a")
	b, _ := NewEncryptor("key-b")

	ct, _ := a.Encrypt("secret")
	if _, err := b.Decrypt(ct); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestNewEncryptor_EmptyKey(t *testing.T) {
	if _, err := NewEncryptor(""); !errors.Is(err, ErrMissingKey) {
		t.Errorf("expected ErrMissingKey, got %v", err)
	}
}
