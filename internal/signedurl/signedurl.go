// Package signedurl issues and checks capability URLs for image delivery.
//
// A signed URL carries the photo id, variant, an expiry timestamp and an
// HMAC-SHA256 signature over "id:variant:expiry". Nothing is stored server-side:
// any instance holding the secret can verify a URL, and a URL cannot be revoked
// before it expires. Because every URL is unique per expiry and signature, the
// delivery response can be cached as immutable.
package signedurl

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// MinSecretLength is the shortest accepted signing secret, in bytes.
const MinSecretLength = 32

// Signer signs and verifies image URLs.
type Signer struct {
	secret     []byte
	defaultTTL time.Duration
	now        func() time.Time
}

// New builds a Signer. defaultTTL applies when Sign is called with ttl <= 0.
func New(secret string, defaultTTL time.Duration) (*Signer, error) {
	if len(secret) < MinSecretLength {
		return nil, errors.New("signed URL secret must be at least 32 bytes")
	}
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &Signer{secret: []byte(secret), defaultTTL: defaultTTL, now: time.Now}, nil
}

// WithClock returns a copy of s using now as its time source.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	cp := *s
	cp.now = now
	return &cp
}

func (s *Signer) signature(photoID, variant string, expiry int64) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(photoID))
	mac.Write([]byte{':'})
	mac.Write([]byte(variant))
	mac.Write([]byte{':'})
	mac.Write([]byte(strconv.FormatInt(expiry, 10)))
	return mac.Sum(nil)
}

// Params are the signed components of an image URL.
type Params struct {
	PhotoID string
	Variant string
	Expiry  int64
	Sig     string
}

// Issue computes the parameters for a URL valid for ttl.
func (s *Signer) Issue(photoID, variant string, ttl time.Duration) Params {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	exp := s.now().Add(ttl).Unix()
	return Params{
		PhotoID: photoID,
		Variant: variant,
		Expiry:  exp,
		Sig:     hex.EncodeToString(s.signature(photoID, variant, exp)),
	}
}

// Sign returns a relative URL of the form /image/{id}?type=&exp=&sig=.
func (s *Signer) Sign(photoID, variant string, ttl time.Duration) string {
	p := s.Issue(photoID, variant, ttl)
	q := url.Values{}
	q.Set("type", p.Variant)
	q.Set("exp", strconv.FormatInt(p.Expiry, 10))
	q.Set("sig", p.Sig)
	return "/image/" + url.PathEscape(p.PhotoID) + "?" + q.Encode()
}

// SignAbsolute is Sign prefixed with baseURL, for links handed out of band.
func (s *Signer) SignAbsolute(baseURL, photoID, variant string, ttl time.Duration) string {
	return strings.TrimRight(baseURL, "/") + s.Sign(photoID, variant, ttl)
}

// Verify reports whether sig is a valid, unexpired signature for the other
// parameters. Comparison is constant time.
func (s *Signer) Verify(photoID, variant string, expiry int64, sig string) bool {
	if expiry < s.now().Unix() {
		return false
	}
	provided, err := hex.DecodeString(sig)
	if err != nil || len(provided) != sha256.Size {
		return false
	}
	return hmac.Equal(provided, s.signature(photoID, variant, expiry))
}

// VerifyQuery parses the exp and sig query values and verifies them.
func (s *Signer) VerifyQuery(photoID, variant, exp, sig string) bool {
	if exp == "" || sig == "" {
		return false
	}
	expiry, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return false
	}
	return s.Verify(photoID, variant, expiry, sig)
}
