// Package oauth defines the calendar provider adapter contract, the shared
// slot and token types, and the Manager that tracks pending authorizations.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"Corva/pkg/metadata"
)

// ProviderType tags a calendar provider.
type ProviderType string

const (
	ProviderAcuity ProviderType = "acuity"
	ProviderSquare ProviderType = "square"
)

// ParseProviderType validates a provider tag coming from a route or query.
func ParseProviderType(s string) (ProviderType, error) {
	switch p := ProviderType(s); p {
	case ProviderAcuity, ProviderSquare:
		return p, nil
	default:
		return "", fmt.Errorf("unknown provider %q", s)
	}
}

func (p ProviderType) String() string { return string(p) }

// SlotStatus is the normalized state of a booking.
type SlotStatus string

const (
	SlotBooked    SlotStatus = "booked"
	SlotCancelled SlotStatus = "cancelled"
)

// Slot is one booking as reported by a provider, after
// normalization.
type Slot struct {
	Provider    ProviderType `json:"provider"`
	ExternalID  string       `json:"externalId"`
	StartTime   time.Time    `json:"startTime"`
	EndTime     time.Time    `json:"endTime"`
	Status      SlotStatus   `json:"status"`
	ServiceName string       `json:"serviceName"`
}

// DateRange is the half-open interval [Start, End).
type DateRange struct {
	Start time.Time
	End   time.Time
}

var ErrInvalidRange = errors.New("invalid date range")

// Validate checks Start <= End and that the span does not exceed max.
// A zero max disables the span check.
func (r DateRange) Validate(max time.Duration) error {
	if r.Start.IsZero() || r.End.IsZero() {
		return fmt.Errorf("%w: start and end are required", ErrInvalidRange)
	}
	if r.End.Before(r.Start) {
		return fmt.Errorf("%w: end %s is before start %s", ErrInvalidRange, r.End.Format(time.RFC3339), r.Start.Format(time.RFC3339))
	}
	if max > 0 && r.End.Sub(r.Start) > max {
		return fmt.Errorf("%w: span %s exceeds maximum %s", ErrInvalidRange, r.End.Sub(r.Start), max)
	}
	return nil
}

// Contains reports whether t falls inside [Start, End).
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// Token is the result of a code exchange or refresh.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	AccountID    string
	Metadata     *metadata.CredentialMetadata
}

var (
	// ErrInvalidGrant means the provider rejected the refresh token; retrying
	// will not help and the user must reconnect.
	ErrInvalidGrant = errors.New("provider rejected grant")
	// ErrRevokeUnsupported is returned by adapters without a revoke endpoint.
	ErrRevokeUnsupported = errors.New("provider does not support token revocation")
)

// Provider is implemented by each calendar integration.
type Provider interface {
	Type() ProviderType
	// AuthCodeURL builds the consent URL carrying state.
	AuthCodeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*Token, error)
	// RefreshToken returns a new token; RefreshToken on the result is empty
	// when the provider did not rotate it.
	RefreshToken(ctx context.Context, refreshToken string) (*Token, error)
	Revoke(ctx context.Context, accessToken string) error
	FetchSlots(ctx context.Context, r DateRange, accessToken string) ([]Slot, error)
}
