package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hyperjump/newsrag/internal/models"
)

// relatedMarker must match the prefix the server writes before the chat trailer.
const relatedMarker = "[[related]]"

// Client talks to a running `newsrag serve`.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
}

// Search runs a query through POST /api/v1/search.
func (c *Client) Search(ctx context.Context, query string) (*models.SearchResponse, error) {
	resp, err := c.post(ctx, "/api/v1/search", models.SearchRequest{Query: query})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out models.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

// Status fetches GET /api/v1/status.
func (c *Client) Status(ctx context.Context) (*models.StatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/status", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var out models.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

// Chat streams the answer to message into w as it arrives and returns the related articles
// sent after the answer.
func (c *Client) Chat(ctx context.Context, message string, w io.Writer) ([]models.GroupMatches, error) {
	resp, err := c.post(ctx, "/api/v1/chat", models.SearchRequest{Message: message})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// hold back a newline until the next line shows it is not the trailer separator
	var related []models.GroupMatches
	pendingNewline := false
	rd := bufio.NewReader(resp.Body)
	for {
		line, err := rd.ReadString('\n')
		if strings.HasPrefix(line, relatedMarker) {
			payload := strings.TrimSpace(strings.TrimPrefix(line, relatedMarker))
			if jerr := json.Unmarshal([]byte(payload), &related); jerr != nil {
				return nil, fmt.Errorf("decode related articles: %w", jerr)
			}
			pendingNewline = false
		} else if line != "" {
			if pendingNewline {
				if _, werr := io.WriteString(w, "\n"); werr != nil {
					return nil, werr
				}
			}
			text := strings.TrimSuffix(line, "\n")
			pendingNewline = len(text) < len(line)
			if _, werr := io.WriteString(w, text); werr != nil {
				return nil, werr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read stream: %w", err)
		}
	}
	return related, nil
}

func (c *Client) post(ctx context.Context, path string, body interface{}) (*http.Response, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	b, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
}
