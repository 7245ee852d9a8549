// Package token encodes the identity carried by a booking link. Tokens are
// HMAC-signed (and by default encrypted) with keys derived from one server
// secret, and carry their own expiry.
package token

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/securecookie"
	"golang.org/x/crypto/hkdf"
)

// DefaultTTL is how long an issued booking link stays usable.
const DefaultTTL = 7 * 24 * time.Hour

// name is bound into the MAC so tokens cannot be swapped with other
// securecookie values signed by the same keys.
const name = "booking-link"

// ErrInvalid covers every way a token can be unusable: malformed, forged,
// incomplete or expired. Callers must not distinguish further.
var ErrInvalid = errors.New("invalid booking token")

type Claims struct {
	LeadID    string `json:"leadId"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Company   string `json:"company,omitempty"`
	ExpiresAt int64  `json:"expiresAt"` // epoch milliseconds
}

func (c Claims) Expiry() time.Time { return time.UnixMilli(c.ExpiresAt) }

func (c Claims) complete() error {
	switch {
	case strings.TrimSpace(c.LeadID) == "":
		return fmt.Errorf("leadId missing")
	case strings.TrimSpace(c.Email) == "":
		return fmt.Errorf("email missing")
	case c.ExpiresAt <= 0:
		return fmt.Errorf("expiresAt missing")
	}
	return nil
}

// Valid reports whether the claims may be used at now.
func (c Claims) Valid(now time.Time) error {
	if err := c.complete(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.ExpiresAt <= now.UnixMilli() {
		return fmt.Errorf("%w: expired at %s", ErrInvalid, c.Expiry().UTC().Format(time.RFC3339))
	}
	return nil
}

type Codec struct {
	sc  *securecookie.SecureCookie
	Now func() time.Time
}

// NewCodec derives the signing key (and, with encrypt, the AES key) from
// secret. Rotating the secret invalidates every outstanding link.
func NewCodec(secret []byte, encrypt bool) (*Codec, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("token secret must be at least 32 bytes")
	}
	hashKey, blockKey, err := deriveKeys(secret)
	if err != nil {
		return nil, err
	}
	if !encrypt {
		blockKey = nil
	}
	sc := securecookie.New(hashKey, blockKey)
	sc.SetSerializer(securecookie.JSONEncoder{})
	// expiry lives in the claims, not in the securecookie timestamp
	sc.MaxAge(0)
	return &Codec{sc: sc, Now: time.Now}, nil
}

func deriveKeys(secret []byte) (hashKey, blockKey []byte, err error) {
	r := hkdf.New(sha256.New, secret, nil, []byte("bookingd booking-link v1"))
	hashKey = make([]byte, 32)
	blockKey = make([]byte, 32)
	if _, err := io.ReadFull(r, hashKey); err != nil {
		return nil, nil, err
	}
	if _, err := io.ReadFull(r, blockKey); err != nil {
		return nil, nil, err
	}
	return hashKey, blockKey, nil
}

// Encode signs claims into URL-safe text. Expiry is not checked here so that
// links can be minted with any validity window.
func (c *Codec) Encode(claims Claims) (string, error) {
	if err := claims.complete(); err != nil {
		return "", err
	}
	return c.sc.Encode(name, claims)
}

// Issue stamps claims with an expiry ttl from now and encodes them.
func (c *Codec) Issue(claims Claims, ttl time.Duration) (string, Claims, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	claims.ExpiresAt = c.now().Add(ttl).UnixMilli()
	s, err := c.Encode(claims)
	if err != nil {
		return "", Claims{}, err
	}
	return s, claims, nil
}

// Decode verifies and parses a token. Any failure yields ErrInvalid and zero
// claims, never a partially populated value.
func (c *Codec) Decode(s string) (Claims, error) {
	if s == "" {
		return Claims{}, fmt.Errorf("%w: empty", ErrInvalid)
	}
	var claims Claims
	if err := c.sc.Decode(name, s, &claims); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := claims.Valid(c.now()); err != nil {
		return Claims{}, err
	}
	return claims, nil
}

func (c *Codec) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

// LinkURL is the public booking page for a token.
func LinkURL(baseURL, tok string) string {
	return strings.TrimRight(baseURL, "/") + "/book/" + url.PathEscape(tok)
}
