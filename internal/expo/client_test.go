package expo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rpral/alertd/internal/config"
	"github.com/rpral/alertd/pkg/models"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(config.ExpoConfig{
		BaseURL:      srv.URL,
		MaxBatchSize: 100,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestChunk(t *testing.T) {
	client := New(config.ExpoConfig{MaxBatchSize: 100}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	tests := []struct {
		name      string
		count     int
		wantSizes []int
	}{
		{name: "empty", count: 0, wantSizes: nil},
		{name: "single partial batch", count: 7, wantSizes: []int{7}},
		{name: "exact batch", count: 100, wantSizes: []int{100}},
		{name: "overflow by one", count: 101, wantSizes: []int{100, 1}},
		{name: "multiple batches", count: 250, wantSizes: []int{100, 100, 50}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			messages := make([]models.PushMessage, tt.count)
			for i := range messages {
				messages[i] = models.PushMessage{To: fmt.Sprintf("ExponentPushToken[%d]", i)}
			}
			chunks := client.Chunk(messages)
			if len(chunks) != len(tt.wantSizes) {
				t.Fatalf("Chunk() produced %d chunks, want %d", len(chunks), len(tt.wantSizes))
			}
			total := 0
			for i, chunk := range chunks {
				if len(chunk) != tt.wantSizes[i] {
					t.Errorf("chunk %d has %d messages, want %d", i, len(chunk), tt.wantSizes[i])
				}
				total += len(chunk)
			}
			if total != tt.count {
				t.Errorf("chunks cover %d messages, want %d", total, tt.count)
			}
		})
	}
}

func TestSend(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/push/send" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var batch []models.PushMessage
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(batch) != 2 {
			t.Fatalf("got %d messages, want 2", len(batch))
		}
		fmt.Fprint(w, `{"data":[
			{"status":"ok","id":"receipt-1"},
			{"status":"error","message":"not a valid push token","details":{"error":"DeviceNotRegistered"}}
		]}`)
	})

	tickets, err := client.Send(context.Background(), []models.PushMessage{
		{To: "ExponentPushToken[a]", Title: "Test", Body: "body"},
		{To: "bad-token", Title: "Test", Body: "body"},
	})
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if len(tickets) != 2 {
		t.Fatalf("got %d tickets, want 2", len(tickets))
	}
	if !tickets[0].Accepted() || tickets[0].ReceiptID != "receipt-1" {
		t.Errorf("ticket 0 = %+v, want accepted with receipt-1", tickets[0])
	}
	if tickets[1].Accepted() {
		t.Errorf("ticket 1 should be rejected, got %+v", tickets[1])
	}
	if tickets[1].ErrorCode != models.PushErrorDeviceNotRegistered {
		t.Errorf("ticket 1 error code = %q", tickets[1].ErrorCode)
	}
}

func TestSendTicketCountMismatch(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"status":"ok","id":"receipt-1"}]}`)
	})

	_, err := client.Send(context.Background(), []models.PushMessage{
		{To: "t1"}, {To: "t2"},
	})
	if err == nil {
		t.Fatal("Send() expected error on ticket/message count mismatch")
	}
}

func TestSendProviderError(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	})

	_, err := client.Send(context.Background(), []models.PushMessage{{To: "t1"}})
	if err == nil {
		t.Fatal("Send() expected error on provider 502")
	}
}

func TestReceipts(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/push/getReceipts" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var payload map[string][]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(payload["ids"]) != 3 {
			t.Fatalf("got %d ids, want 3", len(payload["ids"]))
		}
		// receipt-3 intentionally missing: still in transit at the provider.
		fmt.Fprint(w, `{"data":{
			"receipt-1":{"status":"ok"},
			"receipt-2":{"status":"error","message":"device gone","details":{"error":"DeviceNotRegistered"}}
		}}`)
	})

	receipts, err := client.Receipts(context.Background(), []string{"receipt-1", "receipt-2", "receipt-3"})
	if err != nil {
		t.Fatalf("Receipts() error: %v", err)
	}
	if len(receipts) != 2 {
		t.Fatalf("got %d receipts, want 2", len(receipts))
	}
	if !receipts["receipt-1"].Delivered() {
		t.Errorf("receipt-1 should be delivered, got %+v", receipts["receipt-1"])
	}
	if !receipts["receipt-2"].DeviceNotRegistered() {
		t.Errorf("receipt-2 should be DeviceNotRegistered, got %+v", receipts["receipt-2"])
	}
	if _, ok := receipts["receipt-3"]; ok {
		t.Error("receipt-3 should be absent from the response map")
	}
}

func TestReceiptsEmpty(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request should be made for zero receipt ids")
	})

	receipts, err := client.Receipts(context.Background(), nil)
	if err != nil {
		t.Fatalf("Receipts() error: %v", err)
	}
	if receipts != nil {
		t.Errorf("Receipts() = %v, want nil", receipts)
	}
}
