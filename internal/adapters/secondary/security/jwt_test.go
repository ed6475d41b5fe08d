package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKeyPair(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	return key, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

func sign(t *testing.T, key *rsa.PrivateKey, claims UserClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func claimsFor(subject, issuer string, ttl time.Duration) UserClaims {
	return UserClaims{
		UserID: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
}

func TestJWTValidator_Valid(t *testing.T) {
	key, pub := newKeyPair(t)
	v, err := NewJWTValidator(pub, DefaultIssuer)
	require.NoError(t, err)

	userID, err := v.Validate(sign(t, key, claimsFor("alice", DefaultIssuer, time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, "alice", userID)
}

func TestJWTValidator_Rejects(t *testing.T) {
	key, pub := newKeyPair(t)
	other, _ := newKeyPair(t)
	v, err := NewJWTValidator(pub, DefaultIssuer)
	require.NoError(t, err)

	hs, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claimsFor("alice", DefaultIssuer, time.Minute)).SignedString([]byte("secret"))
	require.NoError(t, err)

	cases := map[string]string{
		"expired":         sign(t, key, claimsFor("alice", DefaultIssuer, -time.Minute)),
		"wrong issuer":    sign(t, key, claimsFor("alice", "someone-else", time.Minute)),
		"wrong key":       sign(t, other, claimsFor("alice", DefaultIssuer, time.Minute)),
		"hmac":            hs,
		"garbage":         "not-a-token",
		"missing subject": sign(t, key, claimsFor("", DefaultIssuer, time.Minute)),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Validate(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestNewJWTValidator_BadPEM(t *testing.T) {
	_, err := NewJWTValidator([]byte("nope"), "")
	assert.Error(t, err)
}
