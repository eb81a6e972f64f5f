package integration

import "time"

// Credentials is the plaintext credential set for one connection.
// It only ever exists in memory; at rest it is a vault envelope.
type Credentials struct {
	AccessToken  string            `json:"accessToken,omitempty"`
	RefreshToken string            `json:"refreshToken,omitempty"`
	APIKey       string            `json:"apiKey,omitempty"`
	ExpiresAt    *time.Time        `json:"expiresAt,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// IsEmpty reports whether no usable secret is present
func (c Credentials) IsEmpty() bool {
	return c.AccessToken == "" && c.APIKey == "" && c.RefreshToken == ""
}

// BearerToken returns the token sent on API calls. Private-app keys are
// bearer tokens too, so an access token wins when both are set.
func (c Credentials) BearerToken() string {
	if c.AccessToken != "" {
		return c.AccessToken
	}
	return c.APIKey
}

// CredentialCipher seals and opens credential envelopes.
type CredentialCipher interface {
	Encrypt(creds Credentials) (string, error)
	Decrypt(envelope string) (Credentials, error)
}
