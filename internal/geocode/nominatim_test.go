package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spec-kit/courier-track/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewClient(config.GeocoderConfig{
		BaseURL:        srv.URL,
		Language:       "ar",
		TimeoutSeconds: 2,
		RequestsPerSec: 1000, // no throttling in tests
	})
	return client, srv
}

func TestReverseAreaPrecedence(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"suburb wins", `{"display_name":"full","address":{"suburb":"Salmiya","city":"Kuwait City"}}`, "Salmiya"},
		{"neighbourhood next", `{"display_name":"full","address":{"neighbourhood":"Block 4","city":"Kuwait City"}}`, "Block 4"},
		{"city over state", `{"display_name":"full","address":{"city":"Kuwait City","state":"Al Asimah"}}`, "Kuwait City"},
		{"village over state", `{"display_name":"full","address":{"village":"Abdali","state":"Jahra"}}`, "Abdali"},
		{"display name fallback", `{"display_name":"somewhere, Kuwait","address":{}}`, "somewhere, Kuwait"},
		{"unknown sentinel", `{"address":{}}`, UnknownArea},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if got := r.URL.Query().Get("format"); got != "jsonv2" {
					t.Errorf("expected jsonv2 format, got %q", got)
				}
				if got := r.URL.Query().Get("accept-language"); got != "ar" {
					t.Errorf("expected ar language, got %q", got)
				}
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(c.body))
			})

			area, err := client.ReverseArea(context.Background(), 29.33, 48.07)
			if err != nil {
				t.Fatalf("ReverseArea failed: %v", err)
			}
			if area != c.want {
				t.Errorf("got %q, want %q", area, c.want)
			}
		})
	}
}

func TestReverseAreaHTTPError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	if _, err := client.ReverseArea(context.Background(), 29.33, 48.07); err == nil {
		t.Error("expected error for non-200 response")
	}
}
