package services

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadSimConfigDefaults(t *testing.T) {
	cfg := LoadSimConfig()
	require.Equal(t, int64(60), cfg.RouteCycleMinutes)
	require.Equal(t, int64(5000), cfg.WarehousePerLevel)
	require.Equal(t, int64(1000), cfg.SeedCoin)
}

func TestLoadSimConfigRejectsNonPositiveCycle(t *testing.T) {
	t.Setenv("ROUTE_CYCLE_MINUTES", "0")
	require.Equal(t, int64(60), LoadSimConfig().RouteCycleMinutes)

	t.Setenv("ROUTE_CYCLE_MINUTES", "-5")
	require.Equal(t, int64(60), LoadSimConfig().RouteCycleMinutes)
}
