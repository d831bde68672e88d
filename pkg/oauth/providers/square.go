package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"Corva/internal/conf"
	"Corva/pkg/metadata"
	"Corva/pkg/oauth"

	"github.com/go-kratos/kratos/v2/log"
)

const (
	squareVersion  = "2024-07-17"
	squarePageSize = 100
	squareMaxSpan  = 31 * 24 * time.Hour // ListBookings rejects longer start_at ranges
)

type squareTokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	GrantType    string `json:"grant_type"`
	Code         string `json:"code,omitempty"`
	RedirectURI  string `json:"redirect_uri,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

type squareTokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresAt    string `json:"expires_at"`
	MerchantID   string `json:"merchant_id"`
	RefreshToken string `json:"refresh_token"`
}

type squareRevokeRequest struct {
	ClientID    string `json:"client_id"`
	AccessToken string `json:"access_token"`
}

type squareSegment struct {
	DurationMinutes    int    `json:"duration_minutes"`
	ServiceVariationID string `json:"service_variation_id"`
}

type squareBooking struct {
	ID                  string          `json:"id"`
	Status              string          `json:"status"`
	StartAt             string          `json:"start_at"`
	LocationID          string          `json:"location_id"`
	AppointmentSegments []squareSegment `json:"appointment_segments"`
}

type squareListBookingsResponse struct {
	Bookings []squareBooking `json:"bookings"`
	Cursor   string          `json:"cursor"`
}

type squareItemData struct {
	Name string `json:"name"`
}

type squareItemVariationData struct {
	ItemID string `json:"item_id"`
	Name   string `json:"name"`
}

type squareCatalogObject struct {
	ID                string                   `json:"id"`
	Type              string                   `json:"type"`
	ItemData          *squareItemData          `json:"item_data,omitempty"`
	ItemVariationData *squareItemVariationData `json:"item_variation_data,omitempty"`
}

type squareBatchRetrieveRequest struct {
	ObjectIDs             []string `json:"object_ids"`
	IncludeRelatedObjects bool     `json:"include_related_objects"`
}

type squareBatchRetrieveResponse struct {
	Objects        []squareCatalogObject `json:"objects"`
	RelatedObjects []squareCatalogObject `json:"related_objects"`
}

type squareLocation struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	BusinessName string `json:"business_name"`
}

type squareListLocationsResponse struct {
	Locations []squareLocation `json:"locations"`
}

// SquareProvider talks to the Square OAuth and Bookings APIs.
type SquareProvider struct {
	*BaseProvider
	cfg *conf.Provider
}

func NewSquareProvider(cfg *conf.Provider, logger log.Logger) (*SquareProvider, error) {
	base, err := NewBaseProvider(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("square: %w", err)
	}
	return &SquareProvider{BaseProvider: base, cfg: cfg}, nil
}

func (p *SquareProvider) Type() oauth.ProviderType {
	return oauth.ProviderSquare
}

func (p *SquareProvider) AuthCodeURL(state string) string {
	q := url.Values{
		"client_id": {p.cfg.ClientId},
		"scope":     {strings.Join(p.cfg.Scopes, " ")},
		"session":   {"false"},
		"state":     {state},
	}
	if p.cfg.RedirectUrl != "" {
		q.Set("redirect_uri", p.cfg.RedirectUrl)
	}
	return p.cfg.AuthUrl + "?" + q.Encode()
}

func (p *SquareProvider) ExchangeCode(ctx context.Context, code string) (*oauth.Token, error) {
	if code == "" {
		return nil, fmt.Errorf("square: authorization code is empty")
	}

	tok, err := p.token(ctx, &squareTokenRequest{
		ClientID:     p.cfg.ClientId,
		ClientSecret: p.cfg.ClientSecret,
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  p.cfg.RedirectUrl,
	})
	if err != nil {
		return nil, err
	}

	if loc, err := p.mainLocation(ctx, tok.AccessToken); err != nil {
		p.logger.Warnw("msg", "square location lookup failed", "merchant_id", tok.AccountID, "error", err)
	} else if loc != nil {
		tok.Metadata = &metadata.CredentialMetadata{
			LocationID:   loc.ID,
			MerchantName: loc.BusinessName,
			Scopes:       p.cfg.Scopes,
		}
	}

	return tok, nil
}

func (p *SquareProvider) RefreshToken(ctx context.Context, refreshToken string) (*oauth.Token, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: square credential has no refresh token", oauth.ErrInvalidGrant)
	}

	tok, err := p.token(ctx, &squareTokenRequest{
		ClientID:     p.cfg.ClientId,
		ClientSecret: p.cfg.ClientSecret,
		GrantType:    "refresh_token",
		RefreshToken: refreshToken,
	})
	if err != nil {
		return nil, err
	}
	if tok.RefreshToken == refreshToken {
		tok.RefreshToken = ""
	}
	return tok, nil
}

func (p *SquareProvider) token(ctx context.Context, req *squareTokenRequest) (*oauth.Token, error) {
	var resp squareTokenResponse
	err := p.DoJSONRequest(ctx, http.MethodPost, p.cfg.TokenUrl, p.headers(""), req, &resp)
	if err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && (httpErr.Status == http.StatusBadRequest || httpErr.Status == http.StatusUnauthorized) {
			return nil, fmt.Errorf("%w: square %s: %v", oauth.ErrInvalidGrant, req.GrantType, err)
		}
		return nil, fmt.Errorf("square %s: %w", req.GrantType, err)
	}

	if resp.AccessToken == "" {
		return nil, fmt.Errorf("square %s: response has no access_token", req.GrantType)
	}

	expiresAt, err := time.Parse(time.RFC3339, resp.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("square %s: bad expires_at %q: %w", req.GrantType, resp.ExpiresAt, err)
	}

	return &oauth.Token{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    expiresAt.UTC(),
		AccountID:    resp.MerchantID,
	}, nil
}

// Revoke revokes every token the app holds for the merchant behind
// accessToken. Square authenticates this call with the application secret.
func (p *SquareProvider) Revoke(ctx context.Context, accessToken string) error {
	headers := p.headers("")
	headers["Authorization"] = "Client " + p.cfg.ClientSecret

	err := p.DoJSONRequest(ctx, http.MethodPost, p.baseURL+"/oauth2/revoke", headers,
		&squareRevokeRequest{ClientID: p.cfg.ClientId, AccessToken: accessToken}, nil)
	if err != nil {
		return fmt.Errorf("square revoke: %w", err)
	}
	return nil
}

// FetchSlots lists bookings starting in r. The range is split into windows
// Square accepts and each window is paged with the returned cursor.
func (p *SquareProvider) FetchSlots(ctx context.Context, r oauth.DateRange, accessToken string) ([]oauth.Slot, error) {
	var bookings []squareBooking

	for winStart := r.Start; winStart.Before(r.End); winStart = winStart.Add(squareMaxSpan) {
		winEnd := winStart.Add(squareMaxSpan)
		if winEnd.After(r.End) {
			winEnd = r.End
		}

		cursor := ""
		for {
			q := url.Values{
				"start_at_min": {winStart.UTC().Format(time.RFC3339)},
				"start_at_max": {winEnd.UTC().Format(time.RFC3339)},
				"limit":        {fmt.Sprint(squarePageSize)},
			}
			if cursor != "" {
				q.Set("cursor", cursor)
			}

			var page squareListBookingsResponse
			if err := p.GetJSON(ctx, p.baseURL+"/v2/bookings?"+q.Encode(), p.headers(accessToken), &page); err != nil {
				return nil, fmt.Errorf("square: list bookings: %w", err)
			}
			bookings = append(bookings, page.Bookings...)

			if page.Cursor == "" {
				break
			}
			cursor = page.Cursor
		}
	}

	names := p.serviceNames(ctx, bookings, accessToken)

	seen := make(map[string]bool, len(bookings))
	slots := make([]oauth.Slot, 0, len(bookings))
	for _, b := range bookings {
		if seen[b.ID] {
			continue
		}
		slot, err := b.toSlot(names)
		if err != nil {
			p.logger.Warnw("msg", "skipping malformed square booking", "id", b.ID, "error", err)
			continue
		}
		if !r.Contains(slot.StartTime) {
			continue
		}
		seen[b.ID] = true
		slots = append(slots, slot)
	}
	return slots, nil
}

// serviceNames resolves service variation ids to item names with one
// catalog call. A failed lookup leaves names empty.
func (p *SquareProvider) serviceNames(ctx context.Context, bookings []squareBooking, accessToken string) map[string]string {
	names := make(map[string]string)

	var ids []string
	seen := make(map[string]bool)
	for _, b := range bookings {
		for _, seg := range b.AppointmentSegments {
			if seg.ServiceVariationID != "" && !seen[seg.ServiceVariationID] {
				seen[seg.ServiceVariationID] = true
				ids = append(ids, seg.ServiceVariationID)
			}
		}
	}
	if len(ids) == 0 {
		return names
	}

	var resp squareBatchRetrieveResponse
	err := p.DoJSONRequest(ctx, http.MethodPost, p.baseURL+"/v2/catalog/batch-retrieve", p.headers(accessToken),
		&squareBatchRetrieveRequest{ObjectIDs: ids, IncludeRelatedObjects: true}, &resp)
	if err != nil {
		p.logger.Warnw("msg", "square catalog lookup failed", "variations", len(ids), "error", err)
		return names
	}

	items := make(map[string]string)
	for _, obj := range resp.RelatedObjects {
		if obj.Type == "ITEM" && obj.ItemData != nil {
			items[obj.ID] = obj.ItemData.Name
		}
	}
	for _, obj := range resp.Objects {
		if obj.ItemVariationData == nil {
			continue
		}
		if name, ok := items[obj.ItemVariationData.ItemID]; ok && name != "" {
			names[obj.ID] = name
		} else {
			names[obj.ID] = obj.ItemVariationData.Name
		}
	}
	return names
}

func (p *SquareProvider) mainLocation(ctx context.Context, accessToken string) (*squareLocation, error) {
	var resp squareListLocationsResponse
	if err := p.GetJSON(ctx, p.baseURL+"/v2/locations", p.headers(accessToken), &resp); err != nil {
		return nil, err
	}
	for i := range resp.Locations {
		if resp.Locations[i].Status == "ACTIVE" {
			return &resp.Locations[i], nil
		}
	}
	return nil, nil
}

func (p *SquareProvider) headers(accessToken string) map[string]string {
	h := map[string]string{"Square-Version": squareVersion}
	if accessToken != "" {
		h["Authorization"] = "Bearer " + accessToken
	}
	return h
}

func (b squareBooking) toSlot(names map[string]string) (oauth.Slot, error) {
	if b.ID == "" {
		return oauth.Slot{}, errors.New("missing id")
	}
	start, err := time.Parse(time.RFC3339, b.StartAt)
	if err != nil {
		return oauth.Slot{}, fmt.Errorf("bad start_at %q: %w", b.StartAt, err)
	}

	var minutes int
	var service string
	for _, seg := range b.AppointmentSegments {
		minutes += seg.DurationMinutes
		if service == "" {
			service = names[seg.ServiceVariationID]
		}
	}

	return oauth.Slot{
		Provider:    oauth.ProviderSquare,
		ExternalID:  b.ID,
		StartTime:   start.UTC(),
		EndTime:     start.Add(time.Duration(minutes) * time.Minute).UTC(),
		Status:      squareStatus(b.Status),
		ServiceName: service,
	}, nil
}

func squareStatus(s string) oauth.SlotStatus {
	if strings.HasPrefix(s, "CANCELLED") || s == "DECLINED" {
		return oauth.SlotCancelled
	}
	return oauth.SlotBooked
}
