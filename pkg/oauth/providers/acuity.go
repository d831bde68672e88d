package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"Corva/internal/conf"
	"Corva/pkg/oauth"

	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/oauth2"
)

const (
	acuityPageSize   = 500
	acuityMaxPages   = 20 // bounds the date-advancing pagination loop
	acuityTimeLayout = "2006-01-02T15:04:05-0700"
	acuityDateLayout = "2006-01-02"
)

// acuityAppointment is the subset of the Acuity appointment resource the
// adapter reads.
type acuityAppointment struct {
	ID       int64  `json:"id"`
	Datetime string `json:"datetime"`
	Duration string `json:"duration"`
	Type     string `json:"type"`
	Canceled bool   `json:"canceled"`
}

// AcuityProvider talks to the Acuity Scheduling API. OAuth goes through
// golang.org/x/oauth2 with the adapter's HTTP client.
type AcuityProvider struct {
	*BaseProvider
	oauthCfg *oauth2.Config
}

func NewAcuityProvider(cfg *conf.Provider, logger log.Logger) (*AcuityProvider, error) {
	base, err := NewBaseProvider(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("acuity: %w", err)
	}

	return &AcuityProvider{
		BaseProvider: base,
		oauthCfg: &oauth2.Config{
			ClientID:     cfg.ClientId,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectUrl,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthUrl,
				TokenURL:  cfg.TokenUrl,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
	}, nil
}

func (p *AcuityProvider) Type() oauth.ProviderType {
	return oauth.ProviderAcuity
}

func (p *AcuityProvider) AuthCodeURL(state string) string {
	return p.oauthCfg.AuthCodeURL(state)
}

func (p *AcuityProvider) ExchangeCode(ctx context.Context, code string) (*oauth.Token, error) {
	if code == "" {
		return nil, fmt.Errorf("acuity: authorization code is empty")
	}

	tok, err := p.oauthCfg.Exchange(p.clientContext(ctx), code)
	if err != nil {
		return nil, mapOAuth2Error(err)
	}
	return fromOAuth2Token(tok), nil
}

func (p *AcuityProvider) RefreshToken(ctx context.Context, refreshToken string) (*oauth.Token, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: acuity credential has no refresh token", oauth.ErrInvalidGrant)
	}

	src := p.oauthCfg.TokenSource(p.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, mapOAuth2Error(err)
	}

	out := fromOAuth2Token(tok)
	if out.RefreshToken == refreshToken {
		out.RefreshToken = ""
	}
	return out, nil
}

// Revoke is not offered by Acuity; tokens are invalidated when the user
// removes the app from their Acuity integrations page.
func (p *AcuityProvider) Revoke(ctx context.Context, accessToken string) error {
	return oauth.ErrRevokeUnsupported
}

// FetchSlots lists appointments whose start falls in r. Acuity filters by
// whole days and caps page size, so pages are walked by advancing minDate to
// the last start seen and de-duplicating by id. A day with more than a page
// of appointments is an error.
func (p *AcuityProvider) FetchSlots(ctx context.Context, r oauth.DateRange, accessToken string) ([]oauth.Slot, error) {
	seen := make(map[int64]bool)
	var slots []oauth.Slot

	minDate := r.Start
	for page := 0; page < acuityMaxPages; page++ {
		q := url.Values{
			"minDate":   {minDate.Format(acuityDateLayout)},
			"maxDate":   {r.End.Format(acuityDateLayout)},
			"max":       {strconv.Itoa(acuityPageSize)},
			"direction": {"ASC"},
			"showall":   {"true"},
		}

		var appts []acuityAppointment
		if err := p.GetJSON(ctx, p.baseURL+"/api/v1/appointments?"+q.Encode(), bearer(accessToken), &appts); err != nil {
			return nil, fmt.Errorf("acuity: list appointments: %w", err)
		}

		var last time.Time
		for _, a := range appts {
			slot, err := a.toSlot()
			if err != nil {
				p.logger.Warnw("msg", "skipping malformed acuity appointment", "id", a.ID, "error", err)
				continue
			}
			if slot.StartTime.After(last) {
				last = slot.StartTime
			}
			if seen[a.ID] || !r.Contains(slot.StartTime) {
				continue
			}
			seen[a.ID] = true
			slots = append(slots, slot)
		}

		if len(appts) < acuityPageSize || last.IsZero() {
			return slots, nil
		}
		next := time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, last.Location())
		if !next.After(minDate) {
			// Acuity filters by whole days; the rest of this day is unreachable.
			return nil, fmt.Errorf("acuity: more than %d appointments on %s", acuityPageSize, minDate.Format(acuityDateLayout))
		}
		minDate = next
		if minDate.After(r.End) {
			return slots, nil
		}
	}

	return slots, fmt.Errorf("acuity: more than %d pages of appointments", acuityMaxPages)
}

func (a acuityAppointment) toSlot() (oauth.Slot, error) {
	if a.ID == 0 {
		return oauth.Slot{}, errors.New("missing id")
	}

	start, err := time.Parse(acuityTimeLayout, a.Datetime)
	if err != nil {
		start, err = time.Parse(time.RFC3339, a.Datetime)
		if err != nil {
			return oauth.Slot{}, fmt.Errorf("bad datetime %q: %w", a.Datetime, err)
		}
	}

	minutes, err := strconv.Atoi(a.Duration)
	if err != nil || minutes < 0 {
		return oauth.Slot{}, fmt.Errorf("bad duration %q", a.Duration)
	}

	status := oauth.SlotBooked
	if a.Canceled {
		status = oauth.SlotCancelled
	}

	return oauth.Slot{
		Provider:    oauth.ProviderAcuity,
		ExternalID:  strconv.FormatInt(a.ID, 10),
		StartTime:   start.UTC(),
		EndTime:     start.Add(time.Duration(minutes) * time.Minute).UTC(),
		Status:      status,
		ServiceName: a.Type,
	}, nil
}

func (p *AcuityProvider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.HTTPClient())
}

func fromOAuth2Token(tok *oauth2.Token) *oauth.Token {
	return &oauth.Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
}

// mapOAuth2Error turns a rejected grant into oauth.ErrInvalidGrant so the
// caller can tell it apart from a transient failure.
func mapOAuth2Error(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		switch {
		case re.ErrorCode == "invalid_grant",
			re.Response.StatusCode == http.StatusBadRequest,
			re.Response.StatusCode == http.StatusUnauthorized:
			return fmt.Errorf("%w: %v", oauth.ErrInvalidGrant, err)
		}
	}
	return err
}
