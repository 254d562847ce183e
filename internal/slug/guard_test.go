package slug

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
)

func TestBlockedIP(t *testing.T) {
	tests := []struct {
		addr    string
		blocked bool
	}{
		{"127.0.0.1", true},
		{"10.1.2.3", true},
		{"172.16.0.1", true},
		{"192.168.1.1", true},
		{"169.254.169.254", true},
		{"100.64.0.1", true},
		{"0.0.0.0", true},
		{"::1", true},
		{"fe80::1", true},
		{"fd00::1", true},
		{"::ffff:127.0.0.1", true},
		{"93.184.216.34", false},
		{"2606:4700::1111", false},
	}
	for _, tt := range tests {
		if got := blockedIP(netip.MustParseAddr(tt.addr)); got != tt.blocked {
			t.Errorf("blockedIP(%s) = %v, want %v", tt.addr, got, tt.blocked)
		}
	}
}

func TestPublicClientRefusesLoopback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<title>Internal Admin</title>"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(NewPublicClient(5))
	_, err := f.Fetch(context.Background(), srv.URL)
	if !errors.Is(err, ErrBlockedAddress) {
		t.Fatalf("err = %v, want ErrBlockedAddress", err)
	}
}

func TestPublicClientFallsBackToHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<title>Internal Admin</title>"))
	}))
	defer srv.Close()

	g := NewGenerator(NewHTTPFetcher(NewPublicClient(5)), 0, nil)
	if got := g.DeriveSlug(context.Background(), srv.URL); got != "127001" {
		t.Errorf("slug = %q, want the host fallback %q", got, "127001")
	}
}
