package links

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestShortenSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("url"); got != "https://store.example.com/s/m3kb1x2a" {
			t.Errorf("shortener received url %q", got)
		}
		_, _ = w.Write([]byte("https://sho.rt/abc\n"))
	}))
	defer srv.Close()

	s := NewShortener(srv.URL, srv.Client())
	got := s.Shorten(context.Background(), "https://store.example.com/s/m3kb1x2a")
	if want := "https://sho.rt/abc"; got != want {
		t.Fatalf("Shorten() = %q, want %q", got, want)
	}
}

func TestShortenFailsSoft(t *testing.T) {
	long := "https://store.example.com/s/m3kb1x2a"

	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
		},
		{
			name: "garbage body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("oops"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			s := NewShortener(srv.URL, srv.Client())
			if got := s.Shorten(context.Background(), long); got != long {
				t.Fatalf("Shorten() = %q, want original %q", got, long)
			}
		})
	}
}

func TestShortenUnreachable(t *testing.T) {
	// Closed server: connection refused must degrade to the long URL.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := srv.URL
	srv.Close()

	long := "https://store.example.com/s/m3kb1x2a"
	s := NewShortener(endpoint, nil)
	if got := s.Shorten(context.Background(), long); got != long {
		t.Fatalf("Shorten() = %q, want original %q", got, long)
	}
}

func TestShortenDisabled(t *testing.T) {
	s := NewShortener("", nil)
	if got := s.Shorten(context.Background(), "https://x.example"); got != "https://x.example" {
		t.Fatalf("Shorten() with no endpoint should echo input, got %q", got)
	}
}
