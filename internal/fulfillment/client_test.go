package fulfillment

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/recoupapp/recoup-worker/internal/httpretry"
)

func testRetryClient(server *httptest.Server, maxRetries int) httpretry.Doer {
	rc := httpretry.New(server.Client(), maxRetries)
	rc.SetDelays(time.Millisecond, 10*time.Millisecond)
	return rc
}

func TestListShipments_RetriesThrottle(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"payload":{"ShipmentData":[{"ShipmentId":"SH1","ShipmentName":"March restock","ShipmentStatus":"CLOSED"}],"NextToken":""}}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "client-id", "client-secret")
	c.SetHTTPClient(testRetryClient(server, 2))

	page, err := c.ListShipments(context.Background(), "token", "MKT1", time.Now().Add(-24*time.Hour), "")
	if err != nil {
		t.Fatalf("expected throttled request to be retried, got error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 HTTP calls (429 then 200), got %d", calls)
	}
	if len(page.Shipments) != 1 || page.Shipments[0].ShipmentID != "SH1" {
		t.Errorf("unexpected page after retry: %+v", page)
	}
}

func TestListShipments_ThrottleExhaustionSurfacesRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := NewClient(server.URL, "client-id", "client-secret")
	c.SetHTTPClient(testRetryClient(server, 1))

	_, err := c.ListShipments(context.Background(), "token", "MKT1", time.Now().Add(-24*time.Hour), "")
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected ErrRateLimited after retry budget, got %v", err)
	}
}

func TestRefreshToken_RejectedNotRetried(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, "client-id", "client-secret")
	c.SetTokenURL(server.URL)
	c.SetHTTPClient(testRetryClient(server, 3))

	_, err := c.RefreshToken(context.Background(), "dead-token")
	if !errors.Is(err, ErrAuthExpired) {
		t.Fatalf("expected ErrAuthExpired, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected a rejected refresh token not to be retried, got %d calls", calls)
	}
}
