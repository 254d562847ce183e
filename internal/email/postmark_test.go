package email

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSendOTP(t *testing.T) {
	var received postmarkEmail
	var gotToken, gotMethod string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Postmark-Server-Token")
		gotMethod = r.Method
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"MessageID": "test-id"}`))
	}))
	defer server.Close()

	client := NewClient("test-token", "noreply@example.com", WithAPIURL(server.URL), WithHTTPClient(server.Client()))

	if err := client.SendOTP(context.Background(), "alice@example.com", "123456", 10*time.Minute); err != nil {
		t.Fatalf("send otp: %v", err)
	}

	if gotMethod != http.MethodPost {
		t.Errorf("method = %q, want POST", gotMethod)
	}
	if gotToken != "test-token" {
		t.Errorf("server token = %q, want %q", gotToken, "test-token")
	}
	if received.To != "alice@example.com" {
		t.Errorf("To = %q, want %q", received.To, "alice@example.com")
	}
	if received.From != "noreply@example.com" {
		t.Errorf("From = %q, want %q", received.From, "noreply@example.com")
	}
	if received.Subject != "Your verification code" {
		t.Errorf("Subject = %q", received.Subject)
	}
	if !strings.Contains(received.TextBody, "123456") || !strings.Contains(received.HtmlBody, "123456") {
		t.Errorf("bodies should contain the code: text=%q html=%q", received.TextBody, received.HtmlBody)
	}
	if !strings.Contains(received.TextBody, "10 minutes") {
		t.Errorf("text body should mention expiry: %q", received.TextBody)
	}
}

func TestSendAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	client := NewClient("test-token", "noreply@example.com", WithAPIURL(server.URL))
	err := client.Send(context.Background(), "alice@example.com", "s", "t", "h")
	if err == nil {
		t.Fatal("expected error for 422 response")
	}
	if !strings.Contains(err.Error(), "422") {
		t.Errorf("error = %v, want status in message", err)
	}
}

func TestSendNotConfigured(t *testing.T) {
	client := NewClient("", "noreply@example.com")
	if client.Configured() {
		t.Error("client without token reported configured")
	}
	if err := client.SendOTP(context.Background(), "alice@example.com", "123456", time.Minute); err == nil {
		t.Fatal("expected error from unconfigured client")
	}
}

func TestOTPMessageEscapesHTML(t *testing.T) {
	_, _, html := OTPMessage("<b>1</b>", 10*time.Minute)
	if strings.Contains(html, "<b>1</b>") {
		t.Errorf("code not escaped in html: %q", html)
	}
}

func TestLogSender(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSender(slog.New(slog.NewTextHandler(&buf, nil)))

	if err := s.SendOTP(context.Background(), "alice@example.com", "654321", 10*time.Minute); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.Contains(buf.String(), "654321") {
		t.Errorf("log should contain code: %q", buf.String())
	}
}
