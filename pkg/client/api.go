package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/abracadabra-mc/abracadabra/pkg/protocol"
)

// ListServers fetches the agents currently registered with the hub. base may
// use an http(s) or ws(s) scheme.
func ListServers(ctx context.Context, base string, tlsSkipVerify bool) ([]protocol.ServerSummary, error) {
	u, err := HTTPURL(base, "/api/servers")
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	hc := &http.Client{Timeout: 10 * time.Second}
	if tlsSkipVerify {
		hc.Transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list servers: unexpected status %s", resp.Status)
	}

	var body struct {
		Servers []protocol.ServerSummary `json:"servers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode servers: %w", err)
	}
	return body.Servers, nil
}

// HTTPURL is the inverse of WebSocketURL: it maps ws(s) to http(s), drops any
// /ws/ path and appends path.
func HTTPURL(base, path string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse hub url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported hub url scheme %q", u.Scheme)
	}
	if i := strings.Index(u.Path, "/ws/"); i >= 0 {
		u.Path = u.Path[:i]
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	return u.String(), nil
}
