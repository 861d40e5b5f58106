package apihttp

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	maxProxyImageBytes = 20 * 1024 * 1024
	proxyFetchTimeout  = 20 * time.Second
)

// Hosts on the internal network that must never be reachable through the
// proxy, plus plain loopback names.
var blockedProxyHosts = map[string]struct{}{
	"localhost":    {},
	"127.0.0.1":    {},
	"::1":          {},
	"flaresolverr": {},
	"redis":        {},
	"metasearch":   {},
	"trackmeta":    {},
}

// handleImageProxy fetches a catalog artwork URL server-side so the browser
// never talks to the catalogs directly. Some catalogs refuse hotlinked images
// without a matching Referer, so the proxy re-requests them with browser-like
// headers.
func (s *Server) handleImageProxy(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search/image" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	rawURL := strings.TrimSpace(r.URL.Query().Get("url"))
	if rawURL == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "url parameter is required")
		return
	}
	target, err := validateProxyURL(rawURL)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target.String(), nil)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid image url")
		return
	}
	req.Header.Set("User-Agent", "trackmeta-search/1.0")
	req.Header.Set("Accept", "image/avif,image/webp,image/*,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Referer", target.Scheme+"://"+target.Host+"/")

	resp, err := newImageProxyClient().Do(req)
	if err != nil {
		writeError(w, http.StatusBadGateway, "upstream_error", "failed to fetch image")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		writeError(w, http.StatusBadGateway, "upstream_error",
			fmt.Sprintf("upstream returned status %d", resp.StatusCode))
		return
	}

	// Sniff the first bytes; Content-Type headers from scraped CDNs lie.
	head := make([]byte, 512)
	n, _ := io.ReadFull(resp.Body, head)
	head = head[:n]
	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		contentType = http.DetectContentType(head)
	}
	if !strings.HasPrefix(contentType, "image/") {
		writeError(w, http.StatusBadGateway, "upstream_error", "upstream did not return an image")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(head); err != nil {
		return
	}
	_, _ = io.Copy(w, io.LimitReader(resp.Body, maxProxyImageBytes-int64(n)))
}

func validateProxyURL(rawURL string) (*url.URL, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url")
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, fmt.Errorf("only http and https urls are allowed")
	}
	host := strings.ToLower(target.Hostname())
	if host == "" {
		return nil, fmt.Errorf("url has no host")
	}
	if _, blocked := blockedProxyHosts[host]; blocked {
		return nil, fmt.Errorf("host is not allowed")
	}
	if strings.HasSuffix(host, ".local") || strings.HasSuffix(host, ".localhost") {
		return nil, fmt.Errorf("host is not allowed")
	}
	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return nil, fmt.Errorf("ip address is not allowed")
		}
		return target, nil
	}
	addrs, err := net.LookupIP(host)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve host")
	}
	for _, addr := range addrs {
		if isBlockedIP(addr) {
			return nil, fmt.Errorf("host resolves to a blocked address")
		}
	}
	return target, nil
}

func isBlockedIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsMulticast() ||
		ip.IsUnspecified()
}

// newImageProxyClient re-validates every redirect hop; a public image URL may
// redirect into the internal network otherwise.
func newImageProxyClient() *http.Client {
	return &http.Client{
		Timeout: proxyFetchTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("too many redirects")
			}
			if _, err := validateProxyURL(req.URL.String()); err != nil {
				return fmt.Errorf("redirect target rejected: %w", err)
			}
			return nil
		},
	}
}
