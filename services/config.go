package services

import (
	"log"
	"os"
	"strconv"
	"time"
)

// SimConfig carries every balance value the engines consume. All values
// are external data loaded from the environment; nothing in the engines
// hardcodes game balance.
type SimConfig struct {
	TickPeriod      time.Duration // orchestrator cycle period
	ReconcilePeriod time.Duration // routes / public works / PvE / expiry sweep
	CityBatchSize   int           // cities ticked per cycle, oldest last_tick first
	TickBudget      time.Duration // per-entity tick deadline before it counts as transient

	WarehousePerLevel int64 // warehouse capacity per city level, per resource

	MarketFeeRate float64       // taker fee, fraction of notional
	MarketTaxRate float64       // tax on each side, fraction of notional
	OrderTTL      time.Duration // default expiry for resting orders

	TransitDelay      time.Duration // caravan travel time per trip
	RouteCycleMinutes int64         // minutes between departures on a new route
	EscortLossBase    float64       // shipment loss probability at escort 0
	EscortLossStep    float64       // probability reduction per escort level

	PveRespawn time.Duration // defeated node downtime

	SeedCoin int64 // starting coin for a newly registered city
}

// LoadSimConfig reads the simulation balance values from the
// environment, falling back to playable defaults.
func LoadSimConfig() SimConfig {
	cfg := SimConfig{
		TickPeriod:        envDuration("SIM_TICK_PERIOD", time.Minute),
		ReconcilePeriod:   envDuration("SIM_RECONCILE_PERIOD", 30*time.Second),
		CityBatchSize:     envInt("SIM_CITY_BATCH_SIZE", 200),
		TickBudget:        envDuration("SIM_TICK_BUDGET", 5*time.Second),
		WarehousePerLevel: envInt64("SIM_WAREHOUSE_PER_LEVEL", 5000),
		MarketFeeRate:     envFloat("MARKET_FEE_RATE", 0.02),
		MarketTaxRate:     envFloat("MARKET_TAX_RATE", 0.01),
		OrderTTL:          envDuration("MARKET_ORDER_TTL", 48*time.Hour),
		TransitDelay:      envDuration("ROUTE_TRANSIT_DELAY", 5*time.Minute),
		RouteCycleMinutes: envInt64("ROUTE_CYCLE_MINUTES", 60),
		EscortLossBase:    envFloat("ROUTE_LOSS_BASE", 0.10),
		EscortLossStep:    envFloat("ROUTE_LOSS_PER_ESCORT", 0.02),
		PveRespawn:        envDuration("PVE_RESPAWN", time.Hour),
		SeedCoin:          envInt64("CITY_SEED_COIN", 1000),
	}
	// A non-positive cycle would make route catch-up spin forever.
	if cfg.RouteCycleMinutes < 1 {
		log.Printf("⚠️  Invalid ROUTE_CYCLE_MINUTES=%d, using default 60", cfg.RouteCycleMinutes)
		cfg.RouteCycleMinutes = 60
	}
	return cfg
}

// WarehouseCap returns the per-resource storage limit for a city level.
func (c SimConfig) WarehouseCap(cityLevel int) int64 {
	if cityLevel < 1 {
		cityLevel = 1
	}
	return c.WarehousePerLevel * int64(cityLevel)
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("⚠️  Invalid %s=%q, using default %d", key, v, def)
	}
	return def
}

func envInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
		log.Printf("⚠️  Invalid %s=%q, using default %d", key, v, def)
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		log.Printf("⚠️  Invalid %s=%q, using default %f", key, v, def)
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Printf("⚠️  Invalid %s=%q, using default %s", key, v, def)
	}
	return def
}
