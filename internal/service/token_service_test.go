package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/credential-eval-api/internal/models"
	appErrors "github.com/noah-isme/credential-eval-api/pkg/errors"
)

func TestTokenServiceRoundTrip(t *testing.T) {
	svc := NewTokenService(TokenConfig{Secret: "secret", Issuer: "idp", Audience: []string{"credential-eval"}})
	token, expiresAt, err := svc.IssueToken("reviewer-1", models.RoleReviewer, time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "reviewer-1", claims.UserID)
	assert.Equal(t, models.RoleReviewer, claims.Role)
}

func TestTokenServiceRejects(t *testing.T) {
	issuer := NewTokenService(TokenConfig{Secret: "secret", Issuer: "idp", Audience: []string{"credential-eval"}})
	valid, _, err := issuer.IssueToken("u1", models.RoleAdmin, time.Hour)
	require.NoError(t, err)
	expired, _, err := issuer.IssueToken("u1", models.RoleAdmin, -time.Minute)
	require.NoError(t, err)
	unknownRole, _, err := issuer.IssueToken("u1", "JANITOR", time.Hour)
	require.NoError(t, err)
	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, &models.JWTClaims{UserID: "u1", Role: models.RoleAdmin}).SignedString([]byte("secret"))
	require.NoError(t, err)

	cases := map[string]struct {
		svc   *TokenService
		token string
	}{
		"wrong secret":   {NewTokenService(TokenConfig{Secret: "other", Issuer: "idp"}), valid},
		"wrong issuer":   {NewTokenService(TokenConfig{Secret: "secret", Issuer: "elsewhere"}), valid},
		"wrong audience": {NewTokenService(TokenConfig{Secret: "secret", Audience: []string{"billing"}}), valid},
		"expired":        {issuer, expired},
		"unknown role":   {issuer, unknownRole},
		"signing method": {issuer, hs512},
		"garbage":        {issuer, "not-a-token"},
		"no secret set":  {NewTokenService(TokenConfig{}), valid},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := tc.svc.ValidateToken(tc.token)
			require.Error(t, err)
			assert.True(t, appErrors.HasCode(err, appErrors.ErrUnauthorized.Code))
		})
	}
}
