package lookup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/TomasB/ipgeo/pkg/ipinfo"
	"github.com/gin-gonic/gin"
)

// mockResolver implements Resolver for testing.
type mockResolver struct {
	results map[string]ipinfo.Result
	err     error
	asn     *ipinfo.ASNDetails
	mapURL  string
	field   string
	flushed bool
	lastIPs []string
}

func (m *mockResolver) Lookup(ctx context.Context, ip string) (ipinfo.Result, error) {
	res, err := m.LookupBatch(ctx, []string{ip})
	if err != nil {
		return ipinfo.Result{}, err
	}
	return res[ip], nil
}

func (m *mockResolver) LookupBatch(_ context.Context, ips []string) (map[string]ipinfo.Result, error) {
	m.lastIPs = ips
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[string]ipinfo.Result, len(ips))
	for _, ip := range ips {
		if res, ok := m.results[ip]; ok {
			out[ip] = res
			continue
		}
		out[ip] = ipinfo.Failure(ip, "no data returned")
	}
	return out, nil
}

func (m *mockResolver) ASN(_ context.Context, _ string) (*ipinfo.ASNDetails, error) {
	return m.asn, m.err
}

func (m *mockResolver) MapURL(_ context.Context, ips []string) (string, error) {
	m.lastIPs = ips
	return m.mapURL, m.err
}

func (m *mockResolver) Field(_ context.Context, _, _ string) (string, error) {
	return m.field, m.err
}

func (m *mockResolver) Flush() {
	m.flushed = true
}

func setupRouter(resolver *mockResolver) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewHandler(resolver)
	h.Register(r.Group("/api/v1"))
	return r
}

func googleDNS() ipinfo.Result {
	return ipinfo.Success(ipinfo.NewRecord("8.8.8.8", map[string]any{
		"ip":      "8.8.8.8",
		"city":    "Mountain View",
		"country": "US",
	}))
}

func TestLookup_Success(t *testing.T) {
	router := setupRouter(&mockResolver{results: map[string]ipinfo.Result{"8.8.8.8": googleDNS()}})

	req, _ := http.NewRequest("GET", "/api/v1/lookup/8.8.8.8", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp["city"] != "Mountain View" {
		t.Errorf("expected city Mountain View, got %v", resp["city"])
	}
	if resp["country"] != "US" {
		t.Errorf("expected country US, got %v", resp["country"])
	}
}

func TestLookup_PerIPError(t *testing.T) {
	router := setupRouter(&mockResolver{})

	req, _ := http.NewRequest("GET", "/api/v1/lookup/not-an-ip", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp["ip"] != "not-an-ip" {
		t.Errorf("expected ip not-an-ip, got %q", resp["ip"])
	}
	if resp["error"] != "no data returned" {
		t.Errorf("expected 'no data returned' error, got %q", resp["error"])
	}
}

func TestLookup_WholeCallErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{
			name: "auth",
			err:  &ipinfo.RequestError{Kind: ipinfo.ErrAuth, StatusCode: 401},
			want: http.StatusBadGateway,
		},
		{
			name: "rate limited",
			err:  &ipinfo.RequestError{Kind: ipinfo.ErrRateLimited, StatusCode: 429},
			want: http.StatusTooManyRequests,
		},
		{
			name: "transport",
			err:  fmt.Errorf("%w: connection refused", ipinfo.ErrTransport),
			want: http.StatusBadGateway,
		},
		{
			name: "timeout",
			err:  fmt.Errorf("%w: %w", ipinfo.ErrTransport, context.DeadlineExceeded),
			want: http.StatusGatewayTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := setupRouter(&mockResolver{err: tt.err})

			req, _ := http.NewRequest("GET", "/api/v1/lookup/8.8.8.8", nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Fatalf("expected status %d, got %d", tt.want, w.Code)
			}

			var resp ErrorResponse
			json.Unmarshal(w.Body.Bytes(), &resp)

			if resp.Error == "" {
				t.Error("expected error message")
			}
		})
	}
}

func TestBatch_Success(t *testing.T) {
	resolver := &mockResolver{results: map[string]ipinfo.Result{"8.8.8.8": googleDNS()}}
	router := setupRouter(resolver)

	body, _ := json.Marshal(BatchRequest{IPs: []string{"8.8.8.8", "10.0.0.1"}})

	req, _ := http.NewRequest("POST", "/api/v1/lookup", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp struct {
		Results map[string]map[string]any `json:"results"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if len(resp.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(resp.Results))
	}
	if resp.Results["8.8.8.8"]["city"] != "Mountain View" {
		t.Errorf("expected city Mountain View, got %v", resp.Results["8.8.8.8"]["city"])
	}
	if resp.Results["10.0.0.1"]["error"] != "no data returned" {
		t.Errorf("expected per-ip error, got %v", resp.Results["10.0.0.1"])
	}
}

func TestBatch_InvalidRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "invalid JSON", body: "{bad json"},
		{name: "missing ips", body: `{}`},
		{name: "empty ips", body: `{"ips": []}`},
		{name: "empty ip", body: `{"ips": [""]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := &mockResolver{}
			router := setupRouter(resolver)

			req, _ := http.NewRequest("POST", "/api/v1/lookup", bytes.NewReader([]byte(tt.body)))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", w.Code)
			}
			if resolver.lastIPs != nil {
				t.Error("expected resolver not to be called")
			}
		})
	}
}

func TestBatch_TooManyIPs(t *testing.T) {
	router := setupRouter(&mockResolver{})

	ips := make([]string, 1001)
	for i := range ips {
		ips[i] = fmt.Sprintf("10.0.%d.%d", i/256, i%256)
	}
	body, _ := json.Marshal(BatchRequest{IPs: ips})

	req, _ := http.NewRequest("POST", "/api/v1/lookup", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
}

func TestField(t *testing.T) {
	router := setupRouter(&mockResolver{field: "Mountain View"})

	req, _ := http.NewRequest("GET", "/api/v1/lookup/8.8.8.8/city", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp FieldResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp.Value != "Mountain View" || resp.Field != "city" || resp.IP != "8.8.8.8" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestASN(t *testing.T) {
	router := setupRouter(&mockResolver{asn: &ipinfo.ASNDetails{ASN: "AS15169", Name: "Google LLC"}})

	req, _ := http.NewRequest("GET", "/api/v1/asn/AS15169", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp ipinfo.ASNDetails
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp.Name != "Google LLC" {
		t.Errorf("expected name Google LLC, got %s", resp.Name)
	}
}

func TestASN_InvalidInput(t *testing.T) {
	router := setupRouter(&mockResolver{err: fmt.Errorf("ipinfo: invalid asn %q", "ASX")})

	req, _ := http.NewRequest("GET", "/api/v1/asn/ASX", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
}

func TestMap(t *testing.T) {
	resolver := &mockResolver{mapURL: "https://ipinfo.io/tools/map/abc"}
	router := setupRouter(resolver)

	body, _ := json.Marshal(BatchRequest{IPs: []string{"8.8.8.8", "1.1.1.1"}})

	req, _ := http.NewRequest("POST", "/api/v1/map", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp MapResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp.ReportURL != "https://ipinfo.io/tools/map/abc" {
		t.Errorf("unexpected report url %q", resp.ReportURL)
	}
	if len(resolver.lastIPs) != 2 {
		t.Errorf("expected 2 ips forwarded, got %v", resolver.lastIPs)
	}
}

func TestFlush(t *testing.T) {
	resolver := &mockResolver{}
	router := setupRouter(resolver)

	req, _ := http.NewRequest("DELETE", "/api/v1/cache", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", w.Code)
	}
	if !resolver.flushed {
		t.Error("expected cache to be flushed")
	}
}
