package gmail

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/recoupapp/recoup-worker/internal/mailprovider"
)

func TestWithThrottleRetry_RecoverWithinRun(t *testing.T) {
	c := NewClient("client-id", "client-secret")
	c.retryBase = time.Millisecond

	calls := 0
	err := c.withThrottleRetry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("%w: throttled", mailprovider.ErrRateLimited)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected throttled call to recover, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestWithThrottleRetry_Bounded(t *testing.T) {
	c := NewClient("client-id", "client-secret")
	c.retryBase = time.Millisecond

	calls := 0
	err := c.withThrottleRetry(context.Background(), func() error {
		calls++
		return fmt.Errorf("%w: throttled", mailprovider.ErrRateLimited)
	})
	if !errors.Is(err, mailprovider.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited after budget, got %v", err)
	}
	if calls != maxThrottleRetries+1 {
		t.Errorf("expected %d attempts, got %d", maxThrottleRetries+1, calls)
	}
}

func TestWithThrottleRetry_AuthErrorNotRetried(t *testing.T) {
	c := NewClient("client-id", "client-secret")
	c.retryBase = time.Millisecond

	calls := 0
	err := c.withThrottleRetry(context.Background(), func() error {
		calls++
		return fmt.Errorf("%w: token rejected", mailprovider.ErrAuthExpired)
	})
	if !errors.Is(err, mailprovider.ErrAuthExpired) {
		t.Fatalf("expected ErrAuthExpired, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected a single attempt for an auth error, got %d", calls)
	}
}
