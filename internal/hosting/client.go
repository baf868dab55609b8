package hosting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"
)

// APIError is a non-2xx response from the hosting service.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("hosting API returned %d: %s", e.Status, e.Body)
}

// Config controls the hosting service client.
type Config struct {
	BaseURL        string
	WebsocketURL   string
	TokenPath      string // appended to BaseURL, e.g. "/o/token"
	RoomsPerMinute int
	Timeout        time.Duration
}

// Service talks to the hosting service on behalf of organizations. It
// implements Resolver; the per-org clients it returns share one HTTP client
// and one outbound room-create budget.
type Service struct {
	cfg     Config
	creds   CredentialLookup
	logger  *slog.Logger
	http    *http.Client
	limiter *rate.Limiter

	mu      sync.Mutex
	clients map[uuid.UUID]*orgClient
}

func NewService(cfg Config, creds CredentialLookup, logger *slog.Logger) *Service {
	if cfg.TokenPath == "" {
		cfg.TokenPath = "/o/token"
	}
	if cfg.RoomsPerMinute <= 0 {
		cfg.RoomsPerMinute = 30
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.WebsocketURL = strings.TrimRight(cfg.WebsocketURL, "/")

	return &Service{
		cfg:    cfg,
		creds:  creds,
		logger: logger,
		http:   &http.Client{Timeout: cfg.Timeout},
		// Token bucket with a small burst so a sweep opening several rooms
		// doesn't hammer the hosting service.
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RoomsPerMinute)), 3),
		clients: make(map[uuid.UUID]*orgClient),
	}
}

// For returns the org-scoped client, building and caching it on first use.
func (s *Service) For(ctx context.Context, orgID uuid.UUID) (Client, error) {
	s.mu.Lock()
	if c, ok := s.clients[orgID]; ok {
		s.mu.Unlock()
		return c, nil
	}
	s.mu.Unlock()

	cred, err := s.creds.For(ctx, orgID)
	if err != nil {
		return nil, err
	}

	cc := &clientcredentials.Config{
		ClientID:     cred.ClientID,
		ClientSecret: cred.ClientSecret,
		TokenURL:     s.cfg.BaseURL + s.cfg.TokenPath,
	}
	// Route token fetches through our HTTP client so its timeout applies.
	baseCtx := context.WithValue(context.Background(), oauth2.HTTPClient, s.http)
	tokens := cc.TokenSource(baseCtx)

	c := &orgClient{
		svc:      s,
		orgID:    orgID,
		category: cred.Category,
		http:     oauth2.NewClient(baseCtx, tokens),
		tokens:   tokens,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.clients[orgID]; ok {
		return existing, nil
	}
	s.clients[orgID] = c
	return c, nil
}

// orgClient implements Client for one organization's credential.
type orgClient struct {
	svc      *Service
	orgID    uuid.UUID
	category string
	http     *http.Client
	tokens   oauth2.TokenSource
}

func (c *orgClient) Category() string {
	return c.category
}

func (c *orgClient) CreateRoom(ctx context.Context, req RoomRequest) (RoomSummary, error) {
	if err := c.svc.limiter.Wait(ctx); err != nil {
		return RoomSummary{}, fmt.Errorf("waiting for room-create budget: %w", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return RoomSummary{}, fmt.Errorf("encoding room request: %w", err)
	}

	url := fmt.Sprintf("%s/o/%s/races", c.svc.cfg.BaseURL, c.category)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return RoomSummary{}, fmt.Errorf("building room request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return RoomSummary{}, fmt.Errorf("creating room: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return RoomSummary{}, readAPIError(resp)
	}

	var summary RoomSummary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		return RoomSummary{}, fmt.Errorf("decoding room response: %w", err)
	}
	if summary.Slug == "" {
		return RoomSummary{}, fmt.Errorf("hosting service returned a room without a slug")
	}

	c.svc.logger.Info("created race room",
		"room", summary.Slug,
		"category", c.category,
		"org_id", c.orgID,
	)
	return summary, nil
}

func (c *orgClient) ListOpenRooms(ctx context.Context) ([]RoomSummary, error) {
	url := fmt.Sprintf("%s/o/%s/races/open", c.svc.cfg.BaseURL, c.category)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building list request: %w", err)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("listing open rooms: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readAPIError(resp)
	}

	var envelope struct {
		Races []RoomSummary `json:"races"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decoding open rooms: %w", err)
	}
	return envelope.Races, nil
}

func (c *orgClient) Connect(ctx context.Context, slug string) (Session, error) {
	tok, err := c.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("fetching hosting token: %w", err)
	}

	url := fmt.Sprintf("%s/ws/o/%s", c.svc.cfg.WebsocketURL, slug)
	header := http.Header{}
	tok.SetAuthHeader(&http.Request{Header: header})

	return dialSession(ctx, url, header, slug, c.svc.logger)
}

func readAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
