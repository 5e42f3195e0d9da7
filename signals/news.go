package signals

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"negotiatex/config"
)

// NewsUnavailable is the single headline substituted when news cannot be fetched.
const NewsUnavailable = "No recent logistics news available"

type NewsClient struct {
	config     *config.NewsConfig
	httpClient *http.Client
}

type newsResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Articles []struct {
		Title       string `json:"title"`
		PublishedAt string `json:"publishedAt"`
	} `json:"articles"`
}

func NewNewsClient(cfg *config.NewsConfig) *NewsClient {
	return &NewsClient{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Headlines returns recent headlines, most recent first.
func (c *NewsClient) Headlines(ctx context.Context) ([]string, error) {
	if c == nil || c.config.APIKey == "" {
		return nil, ErrDisabled
	}

	q := url.Values{}
	q.Set("q", c.config.Query)
	q.Set("sortBy", "publishedAt")
	q.Set("language", "en")
	q.Set("pageSize", strconv.Itoa(c.config.PageSize))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/everything?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("signals: news: create request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.config.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("signals: news: send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("signals: news: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("signals: news: status %d", resp.StatusCode)
	}

	var result newsResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("signals: news: parse response: %w", err)
	}
	if result.Status != "" && result.Status != "ok" {
		return nil, fmt.Errorf("signals: news: api error: %s", result.Message)
	}

	articles := result.Articles
	// RFC 3339 timestamps in UTC sort lexically.
	sort.SliceStable(articles, func(i, j int) bool {
		return articles[i].PublishedAt > articles[j].PublishedAt
	})

	headlines := make([]string, 0, len(articles))
	for _, a := range articles {
		if title := strings.TrimSpace(a.Title); title != "" {
			headlines = append(headlines, title)
		}
	}
	return headlines, nil
}
