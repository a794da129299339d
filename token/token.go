package token

import (
	"crypto/rsa"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMalformed is returned when a token cannot be parsed at all.
	ErrMalformed = errors.New("malformed token")
	// ErrInvalidSignature is returned when signature verification fails or
	// the token uses an unexpected algorithm.
	ErrInvalidSignature = errors.New("invalid token signature")
	// ErrExpired is returned when the token's exp claim is in the past.
	ErrExpired = errors.New("token expired")
	// ErrNoSubject is returned when a token names no subject at all.
	ErrNoSubject = errors.New("token has no subject")
)

//go:embed default_public_key.pem
var defaultPublicKeyPEM []byte

// Extractor turns a raw bearer token into a Principal.
type Extractor interface {
	Principal(raw string) (Principal, error)
}

// Decode parses the token payload without checking its signature. The
// result is suitable as a UI hint only.
func Decode(raw string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return claims, nil
}

// Decoder is an Extractor that trusts the payload without verification but
// still honours the exp claim.
type Decoder struct {
	// Now defaults to time.Now.
	Now func() time.Time
}

var _ Extractor = Decoder{}

func (d Decoder) Principal(raw string) (Principal, error) {
	claims, err := Decode(raw)
	if err != nil {
		return Principal{}, err
	}
	p := claims.Principal()
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	if p.Expired(now()) {
		return Principal{}, ErrExpired
	}
	if p.Subject == "" {
		return Principal{}, ErrNoSubject
	}
	return p, nil
}

// Verifier checks RS256 signatures against a fixed public key.
type Verifier struct {
	key    *rsa.PublicKey
	leeway time.Duration
}

var _ Extractor = (*Verifier)(nil)

// NewVerifier returns a Verifier for the given key. leeway tolerates clock
// skew when checking exp/nbf/iat.
func NewVerifier(key *rsa.PublicKey, leeway time.Duration) *Verifier {
	return &Verifier{key: key, leeway: leeway}
}

// NewVerifierFromPEM parses a PEM-encoded RSA public key.
func NewVerifierFromPEM(pemBytes []byte, leeway time.Duration) (*Verifier, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	return NewVerifier(key, leeway), nil
}

// NewVerifierFromFile reads a PEM public key from path. An empty path
// selects the built-in upstream key.
func NewVerifierFromFile(path string, leeway time.Duration) (*Verifier, error) {
	if path == "" {
		return NewVerifierFromPEM(defaultPublicKeyPEM, leeway)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}
	return NewVerifierFromPEM(data, leeway)
}

// Verify parses raw and checks its signature and time-based claims.
func (v *Verifier) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}), jwt.WithLeeway(v.leeway))
	switch {
	case err == nil:
		return claims, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpired
	case errors.Is(err, jwt.ErrTokenMalformed):
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	default:
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
}

func (v *Verifier) Principal(raw string) (Principal, error) {
	claims, err := v.Verify(raw)
	if err != nil {
		return Principal{}, err
	}
	p := claims.Principal()
	if p.Subject == "" {
		return Principal{}, ErrNoSubject
	}
	return p, nil
}
