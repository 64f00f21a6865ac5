// Package middleware holds the HTTP cross-cutting layers: API-key and
// bearer-token authentication plus per-key rate limiting.
package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Auth validates inbound credentials. Submission endpoints take an
// X-API-Key header; read endpoints take a signed bearer token.
type Auth struct {
	apiKey    string
	secretKey []byte
	tokenTTL  time.Duration
}

// NewAuth builds the authenticator. apiKey may be either the raw key
// or a bcrypt hash of it (a "$2" prefix marks the hashed form).
func NewAuth(apiKey, secretKey string, tokenTTL time.Duration) *Auth {
	return &Auth{apiKey: apiKey, secretKey: []byte(secretKey), tokenTTL: tokenTTL}
}

// CheckAPIKey reports whether the presented key matches the configured
// one. Comparison is constant-time; an empty configured key rejects
// everything.
func (a *Auth) CheckAPIKey(presented string) bool {
	if a.apiKey == "" || presented == "" {
		return false
	}
	if strings.HasPrefix(a.apiKey, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(a.apiKey), []byte(presented)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(a.apiKey), []byte(presented)) == 1
}

// IssueToken mints a bearer token for a subject: subject.expiry.signature,
// with the signature an HMAC-SHA256 over "subject.expiry".
func (a *Auth) IssueToken(subject string) string {
	expiry := time.Now().Add(a.tokenTTL).Unix()
	payload := fmt.Sprintf("%s.%d", subject, expiry)
	return payload + "." + a.sign(payload)
}

// VerifyToken checks the token's signature and expiry and returns the
// subject.
func (a *Auth) VerifyToken(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("malformed token")
	}
	subject, expiryPart, sig := parts[0], parts[1], parts[2]

	payload := subject + "." + expiryPart
	if subtle.ConstantTimeCompare([]byte(a.sign(payload)), []byte(sig)) != 1 {
		return "", fmt.Errorf("invalid token signature")
	}

	expiry, err := strconv.ParseInt(expiryPart, 10, 64)
	if err != nil {
		return "", fmt.Errorf("malformed token expiry")
	}
	if time.Now().Unix() >= expiry {
		return "", fmt.Errorf("token expired")
	}
	return subject, nil
}

func (a *Auth) sign(payload string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// RequireAPIKey gates a handler behind the X-API-Key header.
func (a *Auth) RequireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.CheckAPIKey(r.Header.Get("X-API-Key")) {
			unauthorized(w, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireToken gates a handler behind an Authorization: Bearer token.
func (a *Auth) RequireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			unauthorized(w, "missing bearer token")
			return
		}
		if _, err := a.VerifyToken(strings.TrimSpace(token)); err != nil {
			unauthorized(w, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func unauthorized(w http.ResponseWriter, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}
