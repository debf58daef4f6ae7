package pgstore

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/sweepgridgo/internal/store"
	"github.com/vk/sweepgridgo/internal/store/storetest"
)

const dsnEnv = "SWEEPGRID_TEST_POSTGRES_DSN"

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig("postgres://localhost/sweepgrid").Validate())

	testCases := []struct {
		name string
		cfg  Config
	}{
		{"missing dsn", DefaultConfig("")},
		{"zero ping timeout", Config{DSN: "x", MaxOpenConns: 1}},
		{"no connections", Config{DSN: "x", PingTimeout: 1, MaxOpenConns: 0}},
		{"too many idle", Config{DSN: "x", PingTimeout: 1, MaxOpenConns: 1, MaxIdleConns: 2}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, tc.cfg.Validate())
		})
	}
}

func TestStore(t *testing.T) {
	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		t.Skipf("%s not set", dsnEnv)
	}

	storetest.Run(t, func(t *testing.T) store.Store {
		ctx := context.Background()
		s, err := Open(ctx, DefaultConfig(dsn))
		require.NoError(t, err)
		_, err = s.db.ExecContext(ctx, "TRUNCATE sweepgrid_batches, sweepgrid_experiments")
		require.NoError(t, err)
		return s
	})
}
