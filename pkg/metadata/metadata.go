// Package metadata parses and validates the JSON metadata stored next to a
// provider credential.
package metadata

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// CredentialMetadata holds provider extras that are not part of the token
// itself: Square location and merchant, granted scopes, optional proxy.
type CredentialMetadata struct {
	LocationID   string   `json:"location_id,omitempty"`
	MerchantName string   `json:"merchant_name,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
	ProxyURL     string   `json:"proxy_url,omitempty"`
	ProxyEnabled bool     `json:"proxy_enabled,omitempty"`
}

// Parse returns empty metadata for an empty string.
func Parse(jsonStr string) (*CredentialMetadata, error) {
	if jsonStr == "" {
		return &CredentialMetadata{}, nil
	}

	var meta CredentialMetadata
	if err := json.Unmarshal([]byte(jsonStr), &meta); err != nil {
		return nil, fmt.Errorf("failed to parse metadata JSON: %w", err)
	}

	return &meta, nil
}

// String returns "" for empty metadata so the column can stay NULL.
func (m *CredentialMetadata) String() string {
	if m.IsEmpty() {
		return ""
	}

	data, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(data)
}

func (m *CredentialMetadata) IsEmpty() bool {
	return m.LocationID == "" &&
		m.MerchantName == "" &&
		len(m.Scopes) == 0 &&
		m.ProxyURL == "" &&
		!m.ProxyEnabled
}

// Validate checks the proxy scheme and the merchant name length.
func (m *CredentialMetadata) Validate() error {
	if m.ProxyURL != "" {
		if err := validateProxyURL(m.ProxyURL); err != nil {
			return fmt.Errorf("invalid proxy_url: %w", err)
		}
	}
	if m.ProxyEnabled && m.ProxyURL == "" {
		return fmt.Errorf("proxy_enabled requires proxy_url")
	}
	if len(m.MerchantName) > 255 {
		return fmt.Errorf("merchant_name too long: max 255 characters, got %d", len(m.MerchantName))
	}
	return nil
}

// MaskSensitive returns a copy with the proxy password replaced by ***.
func (m *CredentialMetadata) MaskSensitive() *CredentialMetadata {
	masked := *m
	if masked.ProxyURL != "" {
		masked.ProxyURL = maskProxyPassword(masked.ProxyURL)
	}
	return &masked
}

func validateProxyURL(proxyURL string) error {
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return err
	}

	switch scheme := strings.ToLower(parsed.Scheme); scheme {
	case "socks5", "socks5h", "http", "https":
		return nil
	default:
		return fmt.Errorf("unsupported proxy scheme: %s (supported: socks5, socks5h, http, https)", scheme)
	}
}

func maskProxyPassword(proxyURL string) string {
	parsed, err := url.Parse(proxyURL)
	if err != nil || parsed.User == nil {
		return proxyURL
	}

	password, ok := parsed.User.Password()
	if !ok || password == "" {
		return proxyURL
	}

	// Built by hand so "***" is not percent-encoded.
	rest := parsed.Path
	if parsed.RawQuery != "" {
		rest += "?" + parsed.RawQuery
	}
	return fmt.Sprintf("%s://%s:***@%s%s", parsed.Scheme, parsed.User.Username(), parsed.Host, rest)
}
