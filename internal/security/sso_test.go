package security

import (
	"encoding/base64"
	"encoding/json"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestSSOSigner_ClaimShape(t *testing.T) {
	s, err := NewSSOSigner("shared-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewSSOSigner: %v", err)
	}
	token, exp, err := s.Issue("jane.doe.1a2b3c4d", "jane.doe@example.com", "Jane", "Doe")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("token has %d parts", len(parts))
	}
	header, _ := base64.RawURLEncoding.DecodeString(parts[0])
	if !strings.Contains(string(header), `"alg":"HS256"`) {
		t.Errorf("header = %s", header)
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	want := []string{"email", "exp", "firstname", "iat", "lastname", "username"}
	if strings.Join(keys, ",") != strings.Join(want, ",") {
		t.Errorf("claims = %v, want %v", keys, want)
	}
	if m["username"] != "jane.doe.1a2b3c4d" || m["firstname"] != "Jane" {
		t.Errorf("claim values = %v", m)
	}
	if int64(m["exp"].(float64)) != exp.Unix() {
		t.Errorf("exp = %v, want %d", m["exp"], exp.Unix())
	}

	claims, err := s.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Email != "jane.doe@example.com" || claims.LastName != "Doe" {
		t.Errorf("Verify claims = %+v", claims)
	}
}

func TestSSOSigner_Expiry(t *testing.T) {
	s, _ := NewSSOSigner("shared-secret", time.Hour)
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return start }
	token, _, err := s.Issue("u", "u@example.com", "U", "Ser")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	s.now = func() time.Time { return start.Add(59 * time.Minute) }
	if _, err := s.Verify(token); err != nil {
		t.Errorf("Verify before expiry: %v", err)
	}
	s.now = func() time.Time { return start.Add(time.Hour + time.Second) }
	if _, err := s.Verify(token); err != ErrInvalidToken {
		t.Errorf("Verify after expiry: want ErrInvalidToken, got %v", err)
	}
}

func TestSSOSigner_RejectsForeignTokens(t *testing.T) {
	s, _ := NewSSOSigner("shared-secret", time.Hour)
	other, _ := NewSSOSigner("other-secret", time.Hour)
	token, _, _ := other.Issue("u", "u@example.com", "U", "Ser")
	if _, err := s.Verify(token); err != ErrInvalidToken {
		t.Errorf("wrong secret: want ErrInvalidToken, got %v", err)
	}

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"username": "u"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := s.Verify(none); err != ErrInvalidToken {
		t.Errorf("alg none: want ErrInvalidToken, got %v", err)
	}
}

func TestNewSSOSigner_Validation(t *testing.T) {
	if _, err := NewSSOSigner("", time.Hour); err != ErrNoSSOSecret {
		t.Errorf("empty secret: want ErrNoSSOSecret, got %v", err)
	}
	if _, err := NewSSOSigner("s", 0); err == nil {
		t.Error("zero ttl: want error")
	}
}
