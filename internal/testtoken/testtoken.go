// Package testtoken issues signed bearer tokens for tests.
package testtoken

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer signs RS256 tokens with a throwaway key.
type Issuer struct {
	Key *rsa.PrivateKey
}

// NewIssuer generates a fresh 2048-bit key.
func NewIssuer(t testing.TB) *Issuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating rsa key: %v", err)
	}
	return &Issuer{Key: key}
}

// PublicKeyPEM returns the PKIX PEM encoding of the public half.
func (i *Issuer) PublicKeyPEM(t testing.TB) []byte {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(&i.Key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

// Sign signs arbitrary claims with RS256.
func (i *Issuer) Sign(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(i.Key)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return s
}

// User signs a token for subject carrying the given roles in a groups
// claim, valid for one hour.
func (i *Issuer) User(t testing.TB, subject string, roles ...string) string {
	t.Helper()
	return i.Sign(t, Claims(subject, time.Hour, roles...))
}

// Claims builds a groups-style claim set expiring after ttl. A negative ttl
// yields an already expired token.
func Claims(subject string, ttl time.Duration, roles ...string) jwt.MapClaims {
	groups := make([]any, len(roles))
	for n, r := range roles {
		groups[n] = r
	}
	return jwt.MapClaims{
		"sub":    subject,
		"groups": groups,
		"iat":    time.Now().Unix(),
		"exp":    time.Now().Add(ttl).Unix(),
	}
}

// Unsigned returns an HS256 token signed with a dummy secret, for code
// paths that decode without verifying.
func Unsigned(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("not-a-real-secret"))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return s
}
