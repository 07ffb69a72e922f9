package utils // package utils provides helper functions for token creation and hashing

import (
	"crypto/rand"   // secure random number generation
	"crypto/sha256" // SHA‑256 hashing for reset tokens
	"encoding/hex"  // hex encoding and decoding functions
	"errors"
	"fmt"
	"time" // time utilities for iat and reset expirations

	"github.com/golang-jwt/jwt/v5" // JWT library for creating signed tokens
)

// ErrInvalidSession is returned by ParseSessionToken for any token that is
// malformed, signed with another key or algorithm, or lacks the user id.
var ErrInvalidSession = errors.New("invalid session token")

// SessionClaims are the values carried by a session token.
type SessionClaims struct {
	ID    uint64
	Email string
	Name  string
}

// NewSessionToken builds and signs an HS256 JWT for a user. The token
// carries {email, id, name, iat} and has no expiry: it lives until the
// browser drops the cookie or the user logs out.
func NewSessionToken(secret string, claims SessionClaims) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":    claims.ID,
		"email": claims.Email,
		"name":  claims.Name,
		"iat":   time.Now().UTC().Unix(),
	})
	return t.SignedString([]byte(secret))
}

// ParseSessionToken verifies the signature (HMAC only) and returns the
// claims. The user still has to be resolved against the store.
func ParseSessionToken(secret, raw string) (SessionClaims, error) {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		// Reject anything that is not HMAC, e.g. alg=none or RS256 confusion.
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !tok.Valid {
		return SessionClaims{}, ErrInvalidSession
	}
	mc, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return SessionClaims{}, ErrInvalidSession
	}
	// JSON numbers decode as float64.
	id, ok := mc["id"].(float64)
	if !ok || id <= 0 {
		return SessionClaims{}, ErrInvalidSession
	}
	email, _ := mc["email"].(string)
	name, _ := mc["name"].(string)
	return SessionClaims{ID: uint64(id), Email: email, Name: name}, nil
}

// ResetToken is a single-use password reset secret. Raw is mailed to the
// user; only Hash is stored.
type ResetToken struct {
	Raw  string
	Hash string
	Exp  time.Time
}

// NewResetToken returns a random 32-byte token valid for ttl.
func NewResetToken(ttl time.Duration) (ResetToken, error) {
	raw, err := RandomHex(32)
	if err != nil {
		return ResetToken{}, err
	}
	return ResetToken{Raw: raw, Hash: HashToken(raw), Exp: time.Now().UTC().Add(ttl)}, nil
}

// HashToken returns the SHA‑256 hash of a raw token as a hex string.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// RandomHex returns a hex‑encoded string generated from n bytes of
// cryptographically secure random data.
func RandomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
