package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// maxPageBytes bounds how much of an article page is read.
const maxPageBytes = 8 << 20

// article fetches link and returns the text of the paragraphs in its main content.
func (e *Extractor) article(ctx context.Context, link string) (string, error) {
	pageURL, err := url.Parse(link)
	if err != nil || pageURL.Host == "" {
		return "", reject(ReasonFetch, link, fmt.Errorf("invalid url"))
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.ArticleTimeout)
	defer cancel()

	if err := e.limiter.Wait(ctx, pageURL.Host); err != nil {
		return "", reject(ReasonFetch, link, err)
	}

	body, err := e.fetch(ctx, link, pageURL.Host)
	if err != nil {
		return "", reject(ReasonFetch, link, err)
	}

	content, err := MainText(strings.NewReader(body), pageURL)
	if err != nil {
		return "", reject(ReasonParse, link, err)
	}
	if utf8.RuneCountInString(content) < e.cfg.MinLength {
		return "", reject(ReasonTooShort, link, nil)
	}
	return content, nil
}

func (e *Extractor) fetch(ctx context.Context, link, host string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	SetBrowserHeaders(req, e.cfg.UserAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("timeout after %s: %w", e.cfg.ArticleTimeout, err)
		}
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		e.limiter.Backoff(host, resp.Header.Get("Retry-After"))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return toValidUTF8(data), nil
}

// MainText runs readability over an HTML page and joins the text of every paragraph in the
// extracted content with single spaces.
func MainText(page io.Reader, pageURL *url.URL) (string, error) {
	art, err := readability.FromReader(page, pageURL)
	if err != nil {
		return "", fmt.Errorf("readability: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(art.Content))
	if err != nil {
		return "", fmt.Errorf("parse content: %w", err)
	}
	var parts []string
	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		parts = append(parts, s.Text())
	})
	return strings.TrimSpace(strings.Join(parts, " ")), nil
}

// toValidUTF8 replaces invalid byte sequences in a page body with U+FFFD.
func toValidUTF8(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), "�")
}
