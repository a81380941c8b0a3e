package travel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/clientcredentials"

	"slotkeeper/internal/config"
)

const estimatePath = "/v1/travel-time"

// Client asks an external routing service for the driving time between two
// addresses. Bounding the call is left to the caller's context.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zerolog.Logger
}

type estimateResponse struct {
	DurationSeconds *float64 `json:"duration_seconds"`
	Error           string   `json:"error,omitempty"`
}

// NewClient builds a client from config. With a token URL the underlying
// transport fetches and refreshes OAuth2 client-credentials tokens.
func NewClient(ctx context.Context, cfg config.TravelConfig, logger *zerolog.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("travel base url is required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid travel base url: %w", err)
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	httpClient := &http.Client{Timeout: 10 * time.Second}
	if cfg.TokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		httpClient = cc.Client(ctx)
		httpClient.Timeout = 10 * time.Second
	}

	return &Client{
		baseURL:    base,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// EstimateMinutes returns the travel time rounded up to whole minutes.
func (c *Client) EstimateMinutes(ctx context.Context, origin, destination string) (int, error) {
	q := url.Values{}
	q.Set("origin", origin)
	q.Set("destination", destination)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+estimatePath+"?"+q.Encode(), http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("build travel request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("travel request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return 0, fmt.Errorf("read travel response: %w", err)
	}

	var payload estimateResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("decode travel response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := payload.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return 0, fmt.Errorf("travel service returned %d: %s", resp.StatusCode, msg)
	}
	if payload.DurationSeconds == nil || *payload.DurationSeconds < 0 {
		return 0, errors.New("travel response has no usable duration")
	}

	minutes := int(math.Ceil(*payload.DurationSeconds / 60))
	c.logger.Debug().
		Str("destination", destination).
		Int("minutes", minutes).
		Msg("Travel time estimated")
	return minutes, nil
}
