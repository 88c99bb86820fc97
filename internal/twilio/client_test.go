package twilio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rpral/alertd/internal/config"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(config.TwilioConfig{
		BaseURL:    srv.URL,
		AccountSID: "AC123",
		AuthToken:  "token",
		FromNumber: "+15550001111",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSend(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/Accounts/AC123/Messages.json") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "AC123" || pass != "token" {
			t.Error("missing or wrong basic auth")
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.PostForm.Get("To"); got != "+15552223333" {
			t.Errorf("To = %q", got)
		}
		if got := r.PostForm.Get("From"); got != "+15550001111" {
			t.Errorf("From = %q", got)
		}
		if got := r.PostForm.Get("Body"); got != "Flood warning: move to high ground" {
			t.Errorf("Body = %q", got)
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"sid":"SM123","status":"queued"}`)
	})

	result, err := client.Send(context.Background(), "+15552223333", "Flood warning: move to high ground")
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if result.SID != "SM123" {
		t.Errorf("SID = %q, want SM123", result.SID)
	}
	if result.Status != "queued" {
		t.Errorf("Status = %q, want queued", result.Status)
	}
}

func TestSendRejected(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":21211,"message":"The 'To' number is not a valid phone number.","status":400}`)
	})

	_, err := client.Send(context.Background(), "not-a-number", "body")
	if err == nil {
		t.Fatal("Send() expected error for rejected message")
	}
	if !strings.Contains(err.Error(), "21211") {
		t.Errorf("error should carry provider code, got: %v", err)
	}
}

func TestSendMissingCredentials(t *testing.T) {
	client := New(config.TwilioConfig{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if _, err := client.Send(context.Background(), "+15552223333", "body"); err == nil {
		t.Fatal("Send() expected error without credentials")
	}
}

func TestSendMissingRecipient(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request should be made without a recipient")
	})
	if _, err := client.Send(context.Background(), "", "body"); err == nil {
		t.Fatal("Send() expected error without recipient")
	}
}
