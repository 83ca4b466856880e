package bootstrap

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/crm-api/internal/config"
	"github.com/jwalitptl/crm-api/internal/repository/memory"
	"github.com/jwalitptl/crm-api/internal/repository/postgres"
	"github.com/jwalitptl/crm-api/pkg/logger"
	"github.com/jwalitptl/crm-api/pkg/messaging"
)

func TestOpenStoreByDriver(t *testing.T) {
	ctx := context.Background()

	store, closeStore, err := OpenStore(ctx, config.DatabaseConfig{Driver: "memory"}, logger.Nop())
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, store)
	assert.NoError(t, closeStore())

	path := filepath.Join(t.TempDir(), "crm.db")
	store, closeStore, err = OpenStore(ctx, config.DatabaseConfig{Driver: "sqlite", Path: path}, logger.Nop())
	require.NoError(t, err)
	defer closeStore()
	assert.IsType(t, &postgres.Store{}, store)
	require.NoError(t, store.Ping(ctx))

	// schema is in place
	n, err := store.Messages().CountStaleSending(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)

	_, _, err = OpenStore(ctx, config.DatabaseConfig{Driver: "oracle"}, logger.Nop())
	assert.Error(t, err)
}

func TestNewBrokerDefaultsToNop(t *testing.T) {
	cfg := &config.Config{Broker: config.BrokerConfig{Driver: "none"}}
	broker, err := NewBroker(cfg, logger.Nop())
	require.NoError(t, err)
	assert.IsType(t, messaging.NopBroker{}, broker)
}
