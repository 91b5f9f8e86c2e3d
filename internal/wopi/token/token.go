// Package token issues and validates WOPI access tokens.
//
// A token is an HS256 JWT binding a user to one document in one container,
// sealed with NaCl secretbox so that its claims are opaque to the editor. Both
// the signing and the sealing keys are derived from one long-lived secret.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"

	"wopihost/internal/clock"
)

// Lifetime is how long an issued token stays valid.
const Lifetime = time.Hour

const nonceSize = 24

var (
	ErrSecretRequired = errors.New("token secret is required")
	ErrMalformed      = errors.New("malformed access token")
)

// Claims carried by an access token.
type Claims struct {
	jwt.RegisteredClaims
	Name      string `json:"name"`
	Container string `json:"container"`
	DocID     string `json:"docid"`
}

type Service struct {
	signKey []byte
	sealKey [32]byte
	issuer  string
	clock   clock.Clock
	parser  *jwt.Parser
}

// New derives the signing and sealing keys from secret. The issuer doubles as
// the audience, since the host is the only consumer of its own tokens.
func New(secret, issuer string, clk clock.Clock) (*Service, error) {
	if secret == "" {
		return nil, ErrSecretRequired
	}
	if clk == nil {
		clk = clock.Real{}
	}

	signKey, err := derive(secret, "wopihost access token signing")
	if err != nil {
		return nil, err
	}
	sealKey, err := derive(secret, "wopihost access token sealing")
	if err != nil {
		return nil, err
	}

	s := &Service{signKey: signKey, issuer: issuer, clock: clk}
	copy(s.sealKey[:], sealKey)
	s.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(clk.Now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(issuer),
	)
	return s, nil
}

func derive(secret, info string) ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// Issue returns a token for (user, container, docID) and its expiry.
func (s *Service) Issue(user, container, docID string) (string, time.Time, error) {
	now := s.clock.Now()
	exp := now.Add(Lifetime)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.issuer},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Name:      user,
		Container: container,
		DocID:     docID,
	})

	signed, err := token.SignedString(s.signKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", time.Time{}, fmt.Errorf("token nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(signed), &nonce, &s.sealKey)
	return base64.RawURLEncoding.EncodeToString(sealed), jwt.NewNumericDate(exp).Time, nil
}

// Validate reports whether tokenString is a live token for container and docID.
func (s *Service) Validate(tokenString, container, docID string) bool {
	claims, err := s.parse(tokenString)
	if err != nil {
		return false
	}
	return claims.Container == container && claims.DocID == docID
}

// ExtractUser returns the user a valid token was issued to, or "" when the
// token does not verify.
func (s *Service) ExtractUser(tokenString string) string {
	claims, err := s.parse(tokenString)
	if err != nil {
		return ""
	}
	return claims.Name
}

func (s *Service) parse(tokenString string) (*Claims, error) {
	raw, err := base64.RawURLEncoding.DecodeString(tokenString)
	if err != nil || len(raw) <= nonceSize {
		return nil, ErrMalformed
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	signed, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &s.sealKey)
	if !ok {
		return nil, ErrMalformed
	}

	claims := &Claims{}
	token, err := s.parser.ParseWithClaims(string(signed), claims, func(*jwt.Token) (any, error) {
		return s.signKey, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, ErrMalformed
	}
	return claims, nil
}
