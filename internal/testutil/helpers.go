// Package testutil carries helpers shared across the gateway's tests.
package testutil

import (
	"context"
	"testing"
	"time"
)

// TestContext returns a context cancelled when the test finishes, capped
// at 30 seconds so a wedged dependency fails the test instead of hanging
// the run.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}
