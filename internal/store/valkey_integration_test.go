//go:build integration
// +build integration

package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestValkeyStore_Integration runs the shared suite against VALKEY_ADDR, each
// subtest under its own key prefix.
func TestValkeyStore_Integration(t *testing.T) {
	addr := os.Getenv("VALKEY_ADDR")
	if addr == "" {
		t.Skip("VALKEY_ADDR not set")
	}

	runRecordStoreSuite(t, func(t *testing.T, clock *testClock) RecordStore {
		client, err := NewValkeyClient(addr)
		require.NoError(t, err)
		s := NewValkeyStore(client, fmt.Sprintf("weather-test-%d", time.Now().UnixNano()), WithClock(clock.Now))
		require.NoError(t, s.Ping(context.Background()))
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
