package main

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/TomasB/ipgeo/internal/config"
	"github.com/TomasB/ipgeo/pkg/ipinfo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAPI(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /batch", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer bad" {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"error":{"title":"Unknown token","message":"Please check your token"}}`)
			return
		}
		io.WriteString(w, `{
			"8.8.8.8": {"ip": "8.8.8.8", "city": "Mountain View", "country": "US"},
			"1.1.1.1": {"ip": "1.1.1.1", "city": "Brisbane", "country": "AU"}
		}`)
	})
	mux.HandleFunc("GET /AS15169/json", func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `{"asn":"AS15169","name":"Google LLC","country":"US"}`)
	})
	mux.HandleFunc("POST /tools/map", func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `{"reportUrl":"https://ipinfo.io/tools/map/abc"}`)
	})
	mux.HandleFunc("GET /8.8.8.8/city", func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "Mountain View\n")
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd(config.DefaultViper())
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)

	err := cmd.Execute()
	return out.String(), err
}

func TestRoot(t *testing.T) {
	srv := newAPI(t)

	t.Run("single ip prints the record", func(t *testing.T) {
		out, err := execute(t, "", "--base-url", srv.URL, "8.8.8.8")
		require.NoError(t, err)

		var got map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		assert.Equal(t, "Mountain View", got["city"])
		assert.Equal(t, false, got["is_eu"])
	})

	t.Run("several ips print a map", func(t *testing.T) {
		out, err := execute(t, "", "--base-url", srv.URL, "8.8.8.8", "1.1.1.1", "10.0.0.1")
		require.NoError(t, err)

		var got map[string]map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		assert.Len(t, got, 3)
		assert.Equal(t, "Brisbane", got["1.1.1.1"]["city"])
		assert.Equal(t, "no data returned", got["10.0.0.1"]["error"])
	})

	t.Run("ips from stdin", func(t *testing.T) {
		out, err := execute(t, "8.8.8.8\n\n1.1.1.1\n", "--base-url", srv.URL)
		require.NoError(t, err)
		assert.Contains(t, out, "Mountain View")
		assert.Contains(t, out, "Brisbane")
	})

	t.Run("empty stdin", func(t *testing.T) {
		_, err := execute(t, "", "--base-url", srv.URL)
		assert.ErrorIs(t, err, errNoIPs)
	})

	t.Run("auth failure", func(t *testing.T) {
		_, err := execute(t, "", "--base-url", srv.URL, "-t", "bad", "8.8.8.8")
		assert.ErrorIs(t, err, ipinfo.ErrAuth)
	})

	t.Run("token from file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "token")
		require.NoError(t, os.WriteFile(path, []byte("bad\n"), 0o600))

		_, err := execute(t, "", "--base-url", srv.URL, "-t", "good", "--token-file", path, "8.8.8.8")
		assert.ErrorIs(t, err, ipinfo.ErrAuth)
	})

	t.Run("token file from environment", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "token")
		require.NoError(t, os.WriteFile(path, []byte("bad"), 0o600))
		t.Setenv("IPINFO_TOKEN_FILE", path)

		_, err := execute(t, "", "--base-url", srv.URL, "8.8.8.8")
		assert.ErrorIs(t, err, ipinfo.ErrAuth)
	})

	t.Run("missing token file", func(t *testing.T) {
		_, err := execute(t, "", "--base-url", srv.URL, "--token-file", filepath.Join(t.TempDir(), "none"), "8.8.8.8")
		assert.ErrorContains(t, err, "failed to read token file")
	})
}

func TestSubcommands(t *testing.T) {
	srv := newAPI(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "asn", args: []string{"asn", "15169"}, want: "Google LLC"},
		{name: "map", args: []string{"map", "8.8.8.8", "1.1.1.1"}, want: "https://ipinfo.io/tools/map/abc\n"},
		{name: "field", args: []string{"field", "8.8.8.8", "city"}, want: "Mountain View\n"},
		{name: "version", args: []string{"version"}, want: "ipinfo version: " + ipinfo.Version},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, "", append(tt.args, "--base-url", srv.URL)...)
			require.NoError(t, err)
			assert.Contains(t, out, tt.want)
		})
	}
}

func TestFieldRequiresTwoArgs(t *testing.T) {
	_, err := execute(t, "", "field", "8.8.8.8")
	assert.Error(t, err)
}
