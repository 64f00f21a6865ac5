package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func TestCheckAPIKey(t *testing.T) {
	a := NewAuth("sekrit", "signing-key", time.Hour)
	if !a.CheckAPIKey("sekrit") {
		t.Error("matching key rejected")
	}
	if a.CheckAPIKey("wrong") {
		t.Error("wrong key accepted")
	}
	if a.CheckAPIKey("") {
		t.Error("empty key accepted")
	}

	empty := NewAuth("", "signing-key", time.Hour)
	if empty.CheckAPIKey("anything") {
		t.Error("unset API key must reject every caller")
	}
}

func TestCheckAPIKeyBcryptHash(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("sekrit"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	a := NewAuth(string(hash), "signing-key", time.Hour)
	if !a.CheckAPIKey("sekrit") {
		t.Error("key rejected against its bcrypt hash")
	}
	if a.CheckAPIKey("wrong") {
		t.Error("wrong key accepted against bcrypt hash")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	a := NewAuth("k", "signing-key", time.Hour)
	token := a.IssueToken("user-1")

	subject, err := a.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if subject != "user-1" {
		t.Errorf("subject = %q", subject)
	}
}

func TestTokenTamperAndExpiry(t *testing.T) {
	a := NewAuth("k", "signing-key", time.Hour)

	token := a.IssueToken("user-1")
	tampered := strings.Replace(token, "user-1", "user-2", 1)
	if _, err := a.VerifyToken(tampered); err == nil {
		t.Error("tampered subject accepted")
	}

	other := NewAuth("k", "different-key", time.Hour)
	if _, err := other.VerifyToken(token); err == nil {
		t.Error("token accepted under a different signing key")
	}

	expired := NewAuth("k", "signing-key", -time.Minute)
	if _, err := expired.VerifyToken(expired.IssueToken("user-1")); err == nil {
		t.Error("expired token accepted")
	}

	if _, err := a.VerifyToken("junk"); err == nil {
		t.Error("malformed token accepted")
	}
}

func TestRequireAPIKeyMiddleware(t *testing.T) {
	a := NewAuth("sekrit", "signing-key", time.Hour)
	handler := a.RequireAPIKey(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/verify/kyc", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing key status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/verify/kyc", nil)
	req.Header.Set("X-API-Key", "sekrit")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("valid key status = %d", rec.Code)
	}
}

func TestRequireTokenMiddleware(t *testing.T) {
	a := NewAuth("k", "signing-key", time.Hour)
	handler := a.RequireToken(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/verify/kyc/list", nil)
	req.Header.Set("Authorization", "Bearer "+a.IssueToken("user-1"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("valid token status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/verify/kyc/list", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token status = %d", rec.Code)
	}
}

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MaxCallsPerMinute: 3, BurstSize: 3})
	for i := 0; i < 3; i++ {
		if !rl.Allow("caller") {
			t.Fatalf("call %d rejected within limit", i+1)
		}
	}
	if rl.Allow("caller") {
		t.Error("call over the burst must be rejected")
	}
	if !rl.Allow("other-caller") {
		t.Error("independent keys must not share windows")
	}
}
