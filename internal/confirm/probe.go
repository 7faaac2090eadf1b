package confirm

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

// HTTPProbe reads confirmation state from a running server, as the
// checkout return page does.
type HTTPProbe struct {
	client *http.Client
	url    string
}

var _ Probe = (*HTTPProbe)(nil)

// NewStoreHTTPProbe probes GET {baseURL}/v1/confirm/stores/{id}.
func NewStoreHTTPProbe(baseURL string, q StoreQuery) *HTTPProbe {
	v := url.Values{}
	if q.Plan != "" {
		v.Set("plan", string(q.Plan))
	}
	if q.Token != "" {
		v.Set("token", q.Token)
	}
	u := strings.TrimRight(baseURL, "/") + "/v1/confirm/stores/" + url.PathEscape(q.StoreID)
	if len(v) > 0 {
		u += "?" + v.Encode()
	}
	return newHTTPProbe(u)
}

// NewOrderHTTPProbe probes GET {baseURL}/v1/confirm/orders/{number}.
func NewOrderHTTPProbe(baseURL, orderNumber string) *HTTPProbe {
	return newHTTPProbe(strings.TrimRight(baseURL, "/") + "/v1/confirm/orders/" + url.PathEscape(orderNumber))
}

func newHTTPProbe(u string) *HTTPProbe {
	return &HTTPProbe{client: &http.Client{Timeout: 10 * time.Second}, url: u}
}

// URL returns the probed address.
func (p *HTTPProbe) URL() string { return p.url }

// Probe implements Probe.
func (p *HTTPProbe) Probe(ctx context.Context) (*State, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, false, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, false, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("confirm: status %d", resp.StatusCode)
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, false, fmt.Errorf("confirm: decode response: %w", err)
	}
	return out.State, out.Confirmed, nil
}
