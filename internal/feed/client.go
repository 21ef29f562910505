package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"chainlens/internal/domain"
)

// Client is a Source backed by the HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("api base url is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: baseURL, httpClient: httpClient}, nil
}

func (c *Client) FetchPage(ctx context.Context, mode Mode, limit, offset int) ([]domain.Transaction, error) {
	endpoint := c.baseURL + "/transactions/latest"
	params := url.Values{}
	if query, ok := mode.Query(); ok {
		endpoint = c.baseURL + "/transactions/search"
		params.Set("q", query)
	} else if category, ok := mode.Category(); ok {
		endpoint = c.baseURL + "/transactions/filter"
		params.Set("category", string(category))
	}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		var payload struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(res.Body).Decode(&payload); err == nil && payload.Error != "" {
			return nil, fmt.Errorf("feed request rejected: %s (status %d)", payload.Error, res.StatusCode)
		}
		return nil, fmt.Errorf("feed request rejected with status %d", res.StatusCode)
	}

	var transactions []domain.Transaction
	if err := json.NewDecoder(res.Body).Decode(&transactions); err != nil {
		return nil, fmt.Errorf("decode feed page: %w", err)
	}
	return transactions, nil
}
