package steam

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/skinarb/internal/clock"
	"github.com/alanyoungcy/skinarb/internal/domain"
)

const (
	DefaultCommunityURL = "https://steamcommunity.com"
	DefaultAPIURL       = "https://api.steampowered.com"

	mobileUserAgent = "Mozilla/5.0 (Linux; Android 9; Valve Steam App Version/3) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Mobile Safari/537.36"
)

// request describes one call to a Steam endpoint.
type request struct {
	method  string
	url     string
	query   url.Values
	form    url.Values
	cookies []*http.Cookie
	header  http.Header
}

// response is the raw result of a successful call.
type response struct {
	body    []byte
	cookies []*http.Cookie
}

// transport performs Steam HTTP calls with a single retry on 429.
type transport struct {
	client     *http.Client
	clock      clock.Clock
	retryPause time.Duration
}

func newTransport(hc *http.Client, clk clock.Clock, retryPause time.Duration) *transport {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &transport{client: hc, clock: clk, retryPause: retryPause}
}

func (t *transport) do(ctx context.Context, r request) (response, error) {
	for attempt := 0; ; attempt++ {
		resp, status, err := t.once(ctx, r)
		if err != nil {
			return response{}, err
		}
		if status == http.StatusTooManyRequests && attempt == 0 {
			if err := t.clock.Sleep(ctx, t.retryPause); err != nil {
				return response{}, err
			}
			continue
		}
		if err := checkStatus(status, resp.body); err != nil {
			return response{}, err
		}
		return resp, nil
	}
}

func (t *transport) once(ctx context.Context, r request) (response, int, error) {
	target := r.url
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}

	var body io.Reader
	if r.form != nil {
		body = strings.NewReader(r.form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, r.method, target, body)
	if err != nil {
		return response{}, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", mobileUserAgent)
	req.Header.Set("Accept", "application/json, text/javascript, text/html, */*")
	if r.form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	}
	for k, vs := range r.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	for _, c := range r.cookies {
		req.AddCookie(c)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return response{}, 0, ctx.Err()
		}
		return response{}, 0, fmt.Errorf("http request: %v: %w", err, domain.ErrTransientNetwork)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return response{}, 0, fmt.Errorf("read response: %v: %w", err, domain.ErrTransientNetwork)
	}

	return response{body: respBody, cookies: resp.Cookies()}, resp.StatusCode, nil
}

// checkStatus maps non-2xx HTTP status codes to domain errors.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	msg := string(bytes.TrimSpace(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}

	switch {
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		return fmt.Errorf("steam: HTTP %d: %w", statusCode, domain.ErrUnauthorized)
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("steam: HTTP 429: %w: %w", domain.ErrRateLimited, domain.ErrTransientNetwork)
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("steam: HTTP 404: %w", domain.ErrNotFound)
	case statusCode >= 500:
		return fmt.Errorf("steam: HTTP %d: %s: %w", statusCode, msg, domain.ErrTransientNetwork)
	default:
		return fmt.Errorf("steam: HTTP %d: %s", statusCode, msg)
	}
}

// sessionCookies returns the cookies that authenticate mobile requests for
// the given identity.
func sessionCookies(id domain.Identity) []*http.Cookie {
	return []*http.Cookie{
		{Name: "steamLoginSecure", Value: id.SteamID + "%7C%7C" + id.AccessToken},
		{Name: "mobileClient", Value: "android"},
		{Name: "Steam_Language", Value: "english"},
	}
}
