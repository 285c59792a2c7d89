package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignedToken is the decoded content of a download token.
type SignedToken struct {
	ReportID  string
	Key       string
	ExpiresAt time.Time
}

// SignedURLSigner creates and validates HMAC signed download tokens.
type SignedURLSigner struct {
	secret []byte
	ttl    time.Duration
}

// NewSignedURLSigner constructs a signer with the provided secret and TTL.
func NewSignedURLSigner(secret string, ttl time.Duration) *SignedURLSigner {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SignedURLSigner{secret: []byte(secret), ttl: ttl}
}

// Generate returns a token granting access to key for the report.
func (s *SignedURLSigner) Generate(reportID, key string) (string, time.Time, error) {
	if reportID == "" || key == "" {
		return "", time.Time{}, fmt.Errorf("report id and key required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := time.Now().Add(s.ttl)
	exp := strconv.FormatInt(expiresAt.Unix(), 10)
	encodedKey := base64.RawURLEncoding.EncodeToString([]byte(key))
	token := strings.Join([]string{reportID, exp, encodedKey, s.sign(reportID, exp, encodedKey)}, ".")
	return token, expiresAt, nil
}

// Parse validates token. allowExpired skips the expiry check for cleanup routines.
func (s *SignedURLSigner) Parse(token string, allowExpired bool) (SignedToken, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 {
		return SignedToken{}, fmt.Errorf("invalid token format")
	}
	reportID, exp, encodedKey, signature := parts[0], parts[1], parts[2], parts[3]

	if !hmac.Equal([]byte(s.sign(reportID, exp, encodedKey)), []byte(signature)) {
		return SignedToken{}, fmt.Errorf("invalid token signature")
	}
	rawKey, err := base64.RawURLEncoding.DecodeString(encodedKey)
	if err != nil {
		return SignedToken{}, fmt.Errorf("decode key: %w", err)
	}
	expUnix, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return SignedToken{}, fmt.Errorf("invalid timestamp")
	}
	out := SignedToken{ReportID: reportID, Key: string(rawKey), ExpiresAt: time.Unix(expUnix, 0)}
	if !allowExpired && time.Now().After(out.ExpiresAt) {
		return SignedToken{}, fmt.Errorf("token expired")
	}
	return out, nil
}

func (s *SignedURLSigner) sign(reportID, exp, encodedKey string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(reportID + "|" + exp + "|" + encodedKey))
	return hex.EncodeToString(mac.Sum(nil))
}
