package ipinfo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// TokenSource returns the access token to send with each request.
type TokenSource func() string

// StaticToken returns a TokenSource that always yields token.
func StaticToken(token string) TokenSource {
	return func() string { return token }
}

// HTTPFetcher talks to the remote API. It implements BatchFetcher through the
// /batch endpoint and serves the auxiliary single-call endpoints.
type HTTPFetcher struct {
	baseURL    string
	token      TokenSource
	client     *http.Client
	userAgent  string
	maxRetries int
	logger     *slog.Logger
}

// NewHTTPFetcher creates a fetcher for cfg. A nil client gets one with cfg.Timeout.
func NewHTTPFetcher(cfg Config, client *http.Client, token TokenSource, logger *slog.Logger) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if token == nil {
		token = StaticToken(cfg.Token)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPFetcher{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      token,
		client:     client,
		userAgent:  cfg.UserAgent,
		maxRetries: cfg.MaxRetries,
		logger:     logger,
	}
}

// FetchBatch posts ips to /batch and splits the answer into per-IP results.
func (f *HTTPFetcher) FetchBatch(ctx context.Context, ips []string) (map[string]Result, error) {
	body, err := json.Marshal(ips)
	if err != nil {
		return nil, fmt.Errorf("encode batch request: %w", err)
	}

	raw, err := f.do(ctx, http.MethodPost, "/batch", body)
	if err != nil {
		return nil, err
	}

	var resp map[string]any
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &RequestError{Kind: ErrRequest, StatusCode: http.StatusOK, Message: "decode batch response: " + err.Error()}
	}
	if e, ok := resp["error"]; ok {
		return nil, &RequestError{Kind: ErrRequest, StatusCode: http.StatusOK, Message: errorMessage(e)}
	}

	out := make(map[string]Result, len(resp))
	for ip, v := range resp {
		out[ip] = entryResult(ip, v)
	}
	return out, nil
}

// ASNDetails describes an autonomous system.
type ASNDetails struct {
	ASN         string   `json:"asn"`
	Name        string   `json:"name"`
	Country     string   `json:"country"`
	Allocated   string   `json:"allocated"`
	Registry    string   `json:"registry"`
	Domain      string   `json:"domain"`
	NumIPs      uint64   `json:"num_ips"`
	Type        string   `json:"type"`
	Prefixes    []Prefix `json:"prefixes"`
	Prefixes6   []Prefix `json:"prefixes6"`
	CountryName string   `json:"country_name,omitempty"`
}

// Prefix is one announced network of an ASN.
type Prefix struct {
	Netblock string `json:"netblock"`
	ID       string `json:"id"`
	Name     string `json:"name"`
	Country  string `json:"country"`
	Size     string `json:"size"`
	Status   string `json:"status"`
	Domain   string `json:"domain"`
}

func (f *HTTPFetcher) asn(ctx context.Context, asn string) (*ASNDetails, error) {
	raw, err := f.do(ctx, http.MethodGet, "/"+asn+"/json", nil)
	if err != nil {
		return nil, err
	}
	var d ASNDetails
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, &RequestError{Kind: ErrRequest, StatusCode: http.StatusOK, Message: "decode asn response: " + err.Error()}
	}
	return &d, nil
}

func (f *HTTPFetcher) mapURL(ctx context.Context, ips []string) (string, error) {
	body, err := json.Marshal(ips)
	if err != nil {
		return "", fmt.Errorf("encode map request: %w", err)
	}
	raw, err := f.do(ctx, http.MethodPost, "/tools/map?cli=1", body)
	if err != nil {
		return "", err
	}
	var resp struct {
		Status    string `json:"status"`
		ReportURL string `json:"reportUrl"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", &RequestError{Kind: ErrRequest, StatusCode: http.StatusOK, Message: "decode map response: " + err.Error()}
	}
	if resp.ReportURL == "" {
		return "", &RequestError{Kind: ErrRequest, StatusCode: http.StatusOK, Message: "no report url in response"}
	}
	return resp.ReportURL, nil
}

func (f *HTTPFetcher) field(ctx context.Context, ip, field string) (string, error) {
	raw, err := f.do(ctx, http.MethodGet, "/"+url.PathEscape(ip)+"/"+url.PathEscape(field), nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

// do performs one API call, retrying transport failures and 5xx answers up to maxRetries times.
func (f *HTTPFetcher) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var out []byte
	op := func() error {
		raw, err := f.once(ctx, method, path, body)
		if err != nil {
			if ctx.Err() != nil || !retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = raw
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(f.maxRetries, 0))), ctx)

	notify := func(err error, wait time.Duration) {
		f.logger.Debug("ipinfo request retry", "path", path, "wait_ms", wait.Milliseconds(), "error", err)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		// cancellation while waiting between attempts surfaces as a bare context error
		if !errors.Is(err, ErrTransport) && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			err = fmt.Errorf("%w: %w", ErrTransport, err)
		}
		return nil, err
	}
	return out, nil
}

func (f *HTTPFetcher) once(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, f.baseURL+path, rd)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := f.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrTransport, err)
	}
	f.logger.Debug("ipinfo request completed",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if err := statusError(resp.StatusCode, raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func statusError(code int, body []byte) error {
	if code >= 200 && code < 300 {
		return nil
	}
	kind := ErrRequest
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = ErrAuth
	case http.StatusTooManyRequests:
		kind = ErrRateLimited
	}
	return &RequestError{Kind: kind, StatusCode: code, Message: bodyMessage(body)}
}

// bodyMessage extracts the API's error text from a failed response body.
func bodyMessage(body []byte) string {
	var v struct {
		Error any `json:"error"`
	}
	if err := json.Unmarshal(body, &v); err == nil && v.Error != nil {
		return errorMessage(v.Error)
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

// errorMessage flattens the API's error value, which is either a string or
// an object with title and message.
func errorMessage(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		title, _ := t["title"].(string)
		msg, _ := t["message"].(string)
		switch {
		case title != "" && msg != "":
			return title + ": " + msg
		case msg != "":
			return msg
		case title != "":
			return title
		}
	}
	return fmt.Sprint(v)
}

func entryResult(ip string, v any) Result {
	fields, ok := v.(map[string]any)
	if !ok {
		if v == nil {
			return Failure(ip, reasonNoData)
		}
		return Failure(ip, errorMessage(v))
	}
	if e, ok := fields["error"]; ok {
		return Failure(ip, errorMessage(e))
	}
	return Success(NewRecord(ip, fields))
}
