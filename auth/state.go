package auth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
)

// FlowState represents an in-flight login. It is produced by
// GenerateAuthURL, echoed back by the provider in the state parameter and
// kept by the caller (usually in a short-lived cookie) for the callback.
type FlowState struct {
	Provider   string `json:"provider"`
	RedirectTo string `json:"redirectTo,omitempty"`

	// CodeVerifier is the PKCE verifier. It is never part of the encoded
	// state parameter; it only travels in the stored copy.
	CodeVerifier string `json:"codeVerifier,omitempty"`

	// Nonce binds the URL state to the stored state, and is the OIDC nonce
	// for OIDC providers.
	Nonce string `json:"nonce"`

	// Timestamp is the creation time in unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// stateLength is the number of random bytes used to generate the nonce.
// 32 bytes gives 256 bits of entropy.
const stateLength = 32

// generateState creates a random, URL-safe string.
func generateState() (string, error) {
	b := make([]byte, stateLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// EncodeState returns the state query parameter for s: base64url JSON with
// the code verifier removed.
func EncodeState(s FlowState) (string, error) {
	s.CodeVerifier = ""
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// DecodeState reverses EncodeState. Padded and standard base64 are accepted
// since some providers re-encode the echoed value.
func DecodeState(param string) (*FlowState, error) {
	if param == "" {
		return nil, errors.New("empty state")
	}
	raw := strings.TrimRight(param, "=")
	b, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		b, err = base64.RawStdEncoding.DecodeString(raw)
		if err != nil {
			return nil, err
		}
	}
	var s FlowState
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// MarshalStored serializes the full state, verifier included, for the
// caller's side channel.
func MarshalStored(s *FlowState) ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalStored reverses MarshalStored.
func UnmarshalStored(b []byte) (*FlowState, error) {
	var s FlowState
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
