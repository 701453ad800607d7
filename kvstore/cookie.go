package kvstore

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrCookieFormat   = errors.New("invalid cookie format")
	ErrCookieInvalid  = errors.New("invalid cookie")
	ErrCookieConfig   = errors.New("invalid secure cookie configuration")
	ErrCookieTooLarge = errors.New("sealed cookie value exceeds size limit")
)

// maxCookieLen bounds the amount of attacker-controlled data we will
// decode/allocate for a cookie value.
const maxCookieLen = 8192

// MaxCookieValueLen is the largest sealed value a CookieStore will write.
// Browsers drop cookies above roughly 4KB including name and attributes.
const MaxCookieValueLen = 4000

// DefaultAEADKeysize is the key size (in bytes) for the default AEAD,
// XChaCha20-Poly1305.
const DefaultAEADKeysize = chacha20poly1305.KeySize

// Codec seals and opens values with an AEAD.
//
// Format: [keyId] "." base64url(nonce || ciphertext)
// Keys holds every accepted key; KeyID selects the key used for sealing, so
// keys can be rotated by adding a new one and switching KeyID.
type Codec struct {
	KeyID   string
	Keys    map[string][]byte
	NewAEAD func(key []byte) (cipher.AEAD, error)
}

// NewCodec validates the key set and returns a Codec.
func NewCodec(keyID string, keys map[string][]byte, newAEAD func(key []byte) (cipher.AEAD, error)) (*Codec, error) {
	if keys == nil {
		return nil, fmt.Errorf("%w: keys must not be nil", ErrCookieConfig)
	}
	if _, ok := keys[keyID]; !ok {
		return nil, fmt.Errorf("%w: key id %q not found in keys", ErrCookieConfig, keyID)
	}
	if newAEAD == nil {
		return nil, fmt.Errorf("%w: newAEAD must not be nil", ErrCookieConfig)
	}
	for id, k := range keys {
		if _, err := newAEAD(k); err != nil {
			return nil, fmt.Errorf("invalid key %s: %w", id, err)
		}
	}
	return &Codec{KeyID: keyID, Keys: keys, NewAEAD: newAEAD}, nil
}

// Seal encrypts plain, binding it to aad.
func (c *Codec) Seal(plain, aad []byte) (string, error) {
	if c == nil {
		return "", ErrCookieConfig
	}
	key, ok := c.Keys[c.KeyID]
	if !ok {
		return "", ErrCookieConfig
	}
	aead, err := c.NewAEAD(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, plain, aad)
	return c.KeyID + "." + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Any tampering, unknown key id or aad mismatch yields
// ErrCookieInvalid; malformed input yields ErrCookieFormat.
func (c *Codec) Open(value string, aad []byte) ([]byte, error) {
	if c == nil {
		return nil, ErrCookieConfig
	}
	if len(value) == 0 || len(value) > maxCookieLen {
		return nil, ErrCookieFormat
	}
	keyID, encB64, ok := strings.Cut(value, ".")
	if !ok || keyID == "" || encB64 == "" {
		return nil, ErrCookieFormat
	}
	key, ok := c.Keys[keyID]
	if !ok {
		return nil, ErrCookieInvalid
	}
	sealed, err := base64.RawURLEncoding.DecodeString(encB64)
	if err != nil {
		return nil, ErrCookieFormat
	}
	aead, err := c.NewAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrCookieFormat
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrCookieInvalid
	}
	return plain, nil
}

// CookieStore holds the sealing keys and cookie attributes. Bind it to a
// request to obtain a Store.
//
// Cookies are always HttpOnly. Defaults: Path "/", Secure, SameSite=Lax.
type CookieStore struct {
	codec    *Codec
	path     string
	domain   string
	secure   bool
	sameSite http.SameSite
	newAEAD  func([]byte) (cipher.AEAD, error)
}

// CookieOption configures a CookieStore.
type CookieOption func(*CookieStore)

// WithAEAD configures a custom AEAD factory (e.g. AES-GCM).
func WithAEAD(f func([]byte) (cipher.AEAD, error)) CookieOption {
	return func(cs *CookieStore) {
		cs.newAEAD = f
	}
}

// WithPath configures the cookie path.
func WithPath(path string) CookieOption {
	return func(cs *CookieStore) {
		cs.path = path
	}
}

// WithDomain configures the cookie domain.
func WithDomain(domain string) CookieOption {
	return func(cs *CookieStore) {
		cs.domain = domain
	}
}

// WithSecure configures the cookie Secure flag. Disable it only for plain
// http development servers.
func WithSecure(secure bool) CookieOption {
	return func(cs *CookieStore) {
		cs.secure = secure
	}
}

// WithSameSite configures the SameSite attribute.
func WithSameSite(sameSite http.SameSite) CookieOption {
	return func(cs *CookieStore) {
		cs.sameSite = sameSite
	}
}

// NewCookieStore creates a CookieStore sealing with the key keys[keyID].
func NewCookieStore(keyID string, keys map[string][]byte, opts ...CookieOption) (*CookieStore, error) {
	cs := &CookieStore{
		path:     "/",
		secure:   true,
		sameSite: http.SameSiteLaxMode,
		newAEAD:  chacha20poly1305.NewX,
	}
	for _, opt := range opts {
		opt(cs)
	}
	codec, err := NewCodec(keyID, keys, cs.newAEAD)
	if err != nil {
		return nil, err
	}
	cs.codec = codec
	if cs.path == "" {
		cs.path = "/"
	}
	return cs, nil
}

// aad binds the cookie name, domain, path and secure flag to the sealed
// value, so a value cannot be replayed under another cookie.
func (cs *CookieStore) aad(name string) []byte {
	secureStr := "f"
	if cs.secure {
		secureStr = "t"
	}
	return []byte(name + ":" + cs.domain + ":" + cs.path + ":" + secureStr)
}

// Bind returns a Store whose keys are cookie names on r, with writes going
// to w as Set-Cookie headers. Writes are visible to later reads on the same
// Jar, so read-modify-write sequences within one request behave.
func (cs *CookieStore) Bind(w http.ResponseWriter, r *http.Request) *Jar {
	return &Jar{cs: cs, w: w, r: r, pending: map[string]*string{}}
}

// Jar is a request-scoped cookie Store.
type Jar struct {
	cs *CookieStore
	w  http.ResponseWriter
	r  *http.Request
	// pending records writes made during this request; a nil value is a delete.
	pending map[string]*string
}

var _ Store = (*Jar)(nil)

func (j *Jar) Get(_ context.Context, key string) ([]byte, error) {
	value, ok := j.pending[key]
	if ok {
		if value == nil {
			return nil, ErrNotFound
		}
	} else {
		c, err := j.r.Cookie(key)
		if err != nil {
			return nil, ErrNotFound
		}
		value = &c.Value
	}
	plain, err := j.cs.codec.Open(*value, j.cs.aad(key))
	if err != nil {
		return nil, fmt.Errorf("cookie %s: %w", key, err)
	}
	return plain, nil
}

func (j *Jar) Set(_ context.Context, key string, value []byte, maxAge time.Duration) error {
	seconds := int(maxAge / time.Second)
	if seconds <= 0 {
		return ErrInvalidMaxAge
	}
	sealed, err := j.cs.codec.Seal(value, j.cs.aad(key))
	if err != nil {
		return err
	}
	if len(sealed) > MaxCookieValueLen {
		return fmt.Errorf("cookie %s: %w (%d bytes)", key, ErrCookieTooLarge, len(sealed))
	}
	j.setCookie(&http.Cookie{
		Name:     key,
		Value:    sealed,
		Path:     j.cs.path,
		Domain:   j.cs.domain,
		MaxAge:   seconds,
		Secure:   j.cs.secure,
		HttpOnly: true,
		SameSite: j.cs.sameSite,
		Expires:  time.Now().Add(time.Duration(seconds) * time.Second),
	})
	j.pending[key] = &sealed
	return nil
}

func (j *Jar) Delete(_ context.Context, key string) error {
	j.setCookie(&http.Cookie{
		Name:     key,
		Domain:   j.cs.domain,
		Path:     j.cs.path,
		HttpOnly: true,
		Secure:   j.cs.secure,
		SameSite: j.cs.sameSite,
		Value:    "",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	})
	j.pending[key] = nil
	return nil
}

// setCookie replaces any Set-Cookie header already written for the same
// cookie name during this request.
func (j *Jar) setCookie(c *http.Cookie) {
	h := j.w.Header()
	prefix := c.Name + "="
	kept := h.Values("Set-Cookie")[:0:0]
	for _, v := range h.Values("Set-Cookie") {
		if !strings.HasPrefix(v, prefix) {
			kept = append(kept, v)
		}
	}
	h.Del("Set-Cookie")
	for _, v := range kept {
		h.Add("Set-Cookie", v)
	}
	http.SetCookie(j.w, c)
}
