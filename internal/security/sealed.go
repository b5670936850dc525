package security

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"
)

var (
	// ErrSecretStoreSealed is returned by Open when no age identity is configured.
	ErrSecretStoreSealed = errors.New("secret store is sealed: no identity configured")
	// ErrNoRecipient is returned by NewSealer when neither a recipient nor an identity is given.
	ErrNoRecipient = errors.New("secret store: recipient is required")
)

// Sealer encrypts secrets to an age X25519 recipient. Only a Sealer built with the matching
// identity can open them again; the serving path is normally configured with the recipient alone.
type Sealer struct {
	recipient *age.X25519Recipient
	identity  *age.X25519Identity
}

// NewSealer parses recipientKey (age1...) and the optional identityKey (AGE-SECRET-KEY-1... or a
// path to a file holding one). With only an identity, the recipient is derived from it.
func NewSealer(recipientKey, identityKey string) (*Sealer, error) {
	s := &Sealer{}
	if identityKey = strings.TrimSpace(identityKey); identityKey != "" {
		id, err := parseIdentity(identityKey)
		if err != nil {
			return nil, err
		}
		s.identity = id
	}
	if recipientKey = strings.TrimSpace(recipientKey); recipientKey != "" {
		r, err := age.ParseX25519Recipient(recipientKey)
		if err != nil {
			return nil, fmt.Errorf("parsing age recipient: %w", err)
		}
		s.recipient = r
	} else if s.identity != nil {
		s.recipient = s.identity.Recipient()
	} else {
		return nil, ErrNoRecipient
	}
	if s.identity != nil && s.identity.Recipient().String() != s.recipient.String() {
		return nil, errors.New("secret store: identity does not match recipient")
	}
	return s, nil
}

func parseIdentity(key string) (*age.X25519Identity, error) {
	if !strings.HasPrefix(key, "AGE-SECRET-KEY-") {
		raw, err := os.ReadFile(key)
		if err != nil {
			return nil, fmt.Errorf("reading age identity: %w", err)
		}
		key = firstKeyLine(string(raw))
	}
	id, err := age.ParseX25519Identity(key)
	if err != nil {
		return nil, fmt.Errorf("parsing age identity: %w", err)
	}
	return id, nil
}

// firstKeyLine skips the comment lines age-keygen writes above the key.
func firstKeyLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "#") {
			return line
		}
	}
	return ""
}

// CanOpen reports whether the Sealer holds an identity.
func (s *Sealer) CanOpen() bool {
	return s != nil && s.identity != nil
}

// Seal encrypts plaintext and returns base64 ciphertext suitable for a text column.
func (s *Sealer) Seal(plaintext string) (string, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, s.recipient)
	if err != nil {
		return "", fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		return "", fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalizing age encryption: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Open decrypts a value produced by Seal.
func (s *Sealer) Open(sealed string) (string, error) {
	if !s.CanOpen() {
		return "", ErrSecretStoreSealed
	}
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("decoding base64 ciphertext: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(raw), s.identity)
	if err != nil {
		return "", fmt.Errorf("decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading decrypted plaintext: %w", err)
	}
	return string(plaintext), nil
}
