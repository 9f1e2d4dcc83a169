package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/alanyoungcy/chainbot/internal/crypto"
	"github.com/alanyoungcy/chainbot/internal/domain"
)

// Venue names accepted by NewVenue.
const (
	VenueRaydium = "raydium"
	VenueOrca    = "orca"
	VenuePaper   = "paper"
)

const swapPath = "/swap"

// VenueConfig holds the swap API endpoint and credentials of a live venue.
type VenueConfig struct {
	BaseURL   string
	APIKey    string
	APISecret string
}

// NewVenue resolves a venue by name. Live venues need a signer; the paper
// venue ignores it. Unknown names wrap domain.ErrUnsupportedVenue.
func NewVenue(name string, cfg VenueConfig, signer *crypto.Signer) (Venue, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case VenueRaydium:
		return newHTTPVenue(VenueRaydium, cfg, signer)
	case VenueOrca:
		return newHTTPVenue(VenueOrca, cfg, signer)
	case VenuePaper:
		return NewPaperVenue(), nil
	default:
		return nil, fmt.Errorf("executor: venue %q: %w", name, domain.ErrUnsupportedVenue)
	}
}

// HTTPVenue posts signed swap requests to a venue's swap API.
type HTTPVenue struct {
	name   string
	client *resty.Client
	auth   *crypto.HMACAuth
	signer *crypto.Signer
}

type swapResponse struct {
	Signature string `json:"signature"`
	Error     string `json:"error"`
}

func newHTTPVenue(name string, cfg VenueConfig, signer *crypto.Signer) (*HTTPVenue, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("executor: venue %s: base_url is required", name)
	}
	if signer == nil {
		return nil, fmt.Errorf("executor: venue %s: wallet signer is required: %w", name, domain.ErrSigningFailed)
	}

	client := resty.New()
	client.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/"))
	client.SetTimeout(30 * time.Second)
	client.SetHeader("Content-Type", "application/json")

	return &HTTPVenue{
		name:   name,
		client: client,
		auth:   &crypto.HMACAuth{Key: cfg.APIKey, Secret: cfg.APISecret},
		signer: signer,
	}, nil
}

// Name implements Venue.
func (v *HTTPVenue) Name() string { return v.name }

// Swap implements Venue. The body is marshalled once so the signed bytes
// are exactly the bytes sent.
func (v *HTTPVenue) Swap(ctx context.Context, req SwapRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("%s: marshal swap: %w", v.name, err)
	}

	var out swapResponse
	resp, err := v.client.R().
		SetContext(ctx).
		SetHeaders(v.auth.Headers(http.MethodPost, swapPath, string(body))).
		SetHeaders(v.signer.RequestHeaders(http.MethodPost, swapPath, body)).
		SetBody(body).
		SetResult(&out).
		SetError(&out).
		Post(swapPath)
	if err != nil {
		return "", fmt.Errorf("%s: swap: %w: %w", v.name, domain.ErrConnection, err)
	}
	if resp.StatusCode() != http.StatusOK {
		msg := out.Error
		if msg == "" {
			msg = resp.String()
		}
		return "", fmt.Errorf("%s: swap: status %d: %s", v.name, resp.StatusCode(), msg)
	}
	if out.Signature == "" {
		return "", fmt.Errorf("%s: swap: empty signature in response", v.name)
	}
	return out.Signature, nil
}

// PaperVenue accepts every swap without submitting anything.
type PaperVenue struct{}

// NewPaperVenue creates a PaperVenue.
func NewPaperVenue() *PaperVenue { return &PaperVenue{} }

// Name implements Venue.
func (PaperVenue) Name() string { return VenuePaper }

// Swap implements Venue and returns a synthetic signature.
func (PaperVenue) Swap(ctx context.Context, _ SwapRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "paper-" + uuid.NewString(), nil
}
