package transport

import (
	"bytes"
	"errors"
	"testing"
)

func TestCipherSealOpen(t *testing.T) {
	c, err := NewCipher("shared-secret")
	if err != nil {
		t.Fatalf("NewCipher failed: %v", err)
	}

	plain := []byte(`{"state":"ON"}`)
	sealed, err := c.Seal(plain)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if bytes.Contains(sealed, plain) {
		t.Error("Expected sealed frame not to contain plaintext")
	}

	opened, err := c.Open(sealed)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !bytes.Equal(opened, plain) {
		t.Errorf("Expected %q, got %q", plain, opened)
	}
}

func TestCipherWrongKey(t *testing.T) {
	a, _ := NewCipher("one")
	b, _ := NewCipher("two")

	sealed, _ := a.Seal([]byte("frame"))
	if _, err := b.Open(sealed); !errors.Is(err, ErrSealed) {
		t.Errorf("Expected ErrSealed, got %v", err)
	}
	if _, err := a.Open([]byte("tiny")); !errors.Is(err, ErrSealed) {
		t.Errorf("Expected ErrSealed for truncated frame, got %v", err)
	}
}

func TestNilCipherPassThrough(t *testing.T) {
	c, err := NewCipher("")
	if err != nil || c != nil {
		t.Fatalf("Expected nil cipher for empty secret, got %v, %v", c, err)
	}

	data := []byte("plain")
	sealed, _ := c.Seal(data)
	opened, _ := c.Open(sealed)
	if !bytes.Equal(opened, data) {
		t.Errorf("Expected pass-through, got %q", opened)
	}
}
