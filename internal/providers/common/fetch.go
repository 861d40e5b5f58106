package common

import (
	"context"
	"io"
	"net/http"
	"strings"

	"trackmeta/searchservice/internal/domain"
)

const maxBodyBytes = 4 * 1024 * 1024

// DefaultUserAgent is sent when the caller configures none. Several catalogs
// serve stripped-down or blocked pages to obvious bot agents, so it mimics a
// desktop browser.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// FetchHTML issues a GET for pageURL and returns the body as a string. Non-2xx
// responses come back as *domain.StatusError so callers can distinguish
// blocking statuses from transport failures. Bodies are capped at 4 MiB.
func FetchHTML(ctx context.Context, client *http.Client, source domain.Source, pageURL, userAgent string, headers map[string]string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(userAgent) == "" {
		userAgent = DefaultUserAgent
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 2048))
		return "", &domain.StatusError{Source: source, Code: resp.StatusCode}
	}
	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", err
	}
	return string(payload), nil
}
