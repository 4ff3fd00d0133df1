package tokens

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenTTL is the fixed validity window of every generated token.
const TokenTTL = 60 * time.Second

var (
	ErrSignerUnusable = errors.New("token signer is unusable")
	ErrEmptyAudience  = errors.New("token audience is required")
)

// Config holds what the Signer needs to build assertions for this node.
type Config struct {
	NodeID         string           // Issuer claim.
	PrivateKeyPath string           // PEM encoded RSA private key (PKCS#1 or PKCS#8).
	Now            func() time.Time // Optional, defaults to time.Now.
}

// Signer produces short-lived RS256 assertions for calls to the control plane.
// The private key is loaded once in NewSigner. A Signer whose key failed to
// load stays unusable and fails every Generate call.
type Signer struct {
	nodeID  string
	key     *rsa.PrivateKey
	loadErr error
	now     func() time.Time
}

// NewSigner never returns nil. Load failures are kept and reported by Err and
// by every Generate call, so a broken key never yields an unsigned request.
func NewSigner(config Config) *Signer {
	now := config.Now
	if now == nil {
		now = time.Now
	}
	s := &Signer{nodeID: config.NodeID, now: now}

	if config.NodeID == "" {
		s.loadErr = fmt.Errorf("node id is required")
		return s
	}
	key, err := LoadPrivateKey(config.PrivateKeyPath)
	if err != nil {
		s.loadErr = err
		return s
	}
	s.key = key
	return s
}

// NewSignerFromKey builds a Signer around an already parsed key.
func NewSignerFromKey(nodeID string, key *rsa.PrivateKey, now func() time.Time) *Signer {
	if now == nil {
		now = time.Now
	}
	s := &Signer{nodeID: nodeID, key: key, now: now}
	if key == nil {
		s.loadErr = fmt.Errorf("private key is nil")
	}
	return s
}

// LoadPrivateKey reads a PEM encoded RSA private key from path.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	if path == "" {
		return nil, fmt.Errorf("private key path is required")
	}
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key %q: %w", path, err)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key %q: %w", path, err)
	}
	return key, nil
}

// Err returns the key loading error, or nil if the signer is usable.
func (s *Signer) Err() error {
	if s.loadErr == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrSignerUnusable, s.loadErr)
}

// Generate signs {iss, aud, iat, exp=iat+TokenTTL} for the given audience.
func (s *Signer) Generate(audience string) (string, error) {
	if err := s.Err(); err != nil {
		return "", err
	}
	if audience == "" {
		return "", ErrEmptyAudience
	}

	iat := s.now().UTC().Unix()
	claims := jwt.MapClaims{
		"iss": s.nodeID,
		"aud": audience,
		"iat": iat,
		"exp": iat + int64(TokenTTL/time.Second),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
