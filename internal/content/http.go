package content

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxCatalogSize = 4 << 20

// HTTPSource reads the catalog a relay serves at /api/titles
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSource creates a source for the relay at baseURL. client may be nil.
func NewHTTPSource(baseURL string, client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

type listResponse struct {
	Titles []Title `json:"titles"`
}

func (s *HTTPSource) List(ctx context.Context) ([]Title, error) {
	var resp listResponse
	if err := s.get(ctx, "/api/titles", &resp); err != nil {
		return nil, err
	}
	return resp.Titles, nil
}

func (s *HTTPSource) Get(ctx context.Context, id string) (Title, error) {
	if id == "" {
		return Title{}, ErrTitleNotFound
	}
	var t Title
	if err := s.get(ctx, "/api/titles/"+url.PathEscape(id), &t); err != nil {
		return Title{}, err
	}
	return t, nil
}

func (s *HTTPSource) get(ctx context.Context, path string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach catalog: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return ErrTitleNotFound
	default:
		return fmt.Errorf("catalog returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxCatalogSize)).Decode(target); err != nil {
		return fmt.Errorf("failed to decode catalog response: %w", err)
	}
	return nil
}
