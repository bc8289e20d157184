package services

import (
	"log"
	"time"

	"realm-sim-server/models"

	"github.com/go-co-op/gocron/v2"
	"gorm.io/gorm"
)

// Orchestrator drives the cascading tick (realm → kingdoms → cities) on
// a fixed wall-clock period and runs the reconcile sweep (routes,
// shipments, PvE respawns) on its own period. A failed entity is logged
// and retried next cycle — its last_tick did not advance, so the missed
// interval is simply consumed later. One entity can never abort the
// sweep of the others.
type Orchestrator struct {
	DB     *gorm.DB
	Cfg    SimConfig
	Locks  *EntityLocks
	Cities *CityService
	Market *MarketService
	Routes *RouteService

	sched gocron.Scheduler
}

func NewOrchestrator(db *gorm.DB, cfg SimConfig, locks *EntityLocks, cities *CityService, market *MarketService, routes *RouteService) *Orchestrator {
	return &Orchestrator{DB: db, Cfg: cfg, Locks: locks, Cities: cities, Market: market, Routes: routes}
}

// StartTickScheduler registers the periodic jobs and starts them.
func (o *Orchestrator) StartTickScheduler() {
	sched, _ := gocron.NewScheduler()
	o.sched = sched
	sched.Start()

	_, _ = sched.NewJob(
		gocron.DurationJob(o.Cfg.TickPeriod),
		gocron.NewTask(func() {
			o.RunCycle(time.Now().UTC())
		}),
	)

	_, _ = sched.NewJob(
		gocron.DurationJob(o.Cfg.ReconcilePeriod),
		gocron.NewTask(func() {
			o.Reconcile(time.Now().UTC())
		}),
	)

	log.Printf("[Orchestrator] Tick every %s, reconcile every %s, city batch %d",
		o.Cfg.TickPeriod, o.Cfg.ReconcilePeriod, o.Cfg.CityBatchSize)
}

// Stop shuts the scheduler down.
func (o *Orchestrator) Stop() {
	if o.sched != nil {
		_ = o.sched.Shutdown()
	}
}

// RunCycle performs one cascading tick: realm, then every kingdom, then
// a bounded batch of cities, oldest last_tick first. Cities left out of
// the batch accumulate backlog and are picked up next cycle.
func (o *Orchestrator) RunCycle(now time.Time) {
	started := time.Now()

	var realms []models.Realm
	if err := o.DB.Find(&realms).Error; err != nil {
		log.Printf("❌ [Orchestrator] realm query failed: %v", err)
		return
	}
	for i := range realms {
		o.tickRealm(&realms[i], now)
	}

	var kingdoms []models.Kingdom
	if err := o.DB.Find(&kingdoms).Error; err != nil {
		log.Printf("❌ [Orchestrator] kingdom query failed: %v", err)
		return
	}
	for i := range kingdoms {
		o.tickKingdom(&kingdoms[i], now)
	}

	var cities []models.City
	if err := o.DB.Where("last_tick < ?", now).
		Order("last_tick ASC").
		Limit(o.Cfg.CityBatchSize).
		Find(&cities).Error; err != nil {
		log.Printf("❌ [Orchestrator] city batch query failed: %v", err)
		return
	}
	ticked := 0
	for i := range cities {
		if o.tickCity(cities[i].ID, now) {
			ticked++
		}
	}

	log.Printf("[Orchestrator] Cycle done in %s: %d realm(s), %d kingdom(s), %d/%d city(ies)",
		time.Since(started).Round(time.Millisecond), len(realms), len(kingdoms), ticked, len(cities))
}

func (o *Orchestrator) tickRealm(realm *models.Realm, now time.Time) {
	err := o.Locks.With(realm.ID, func() error {
		if !now.After(realm.LastTick) {
			return nil
		}
		realm.LastTick = now
		return o.DB.Save(realm).Error
	})
	if err != nil {
		log.Printf("❌ [Orchestrator] realm %s tick failed: %v", realm.ID[:8], err)
	}
}

// tickKingdom advances the kingdom clock and runs the per-kingdom order
// expiry pass under the kingdom lock.
func (o *Orchestrator) tickKingdom(kingdom *models.Kingdom, now time.Time) {
	err := o.Locks.With(kingdom.ID, func() error {
		if !now.After(kingdom.LastTick) {
			return nil
		}
		if _, err := o.Market.ExpireOrders(kingdom.ID, now); err != nil {
			return err
		}
		kingdom.LastTick = now
		return o.DB.Save(kingdom).Error
	})
	if err != nil {
		log.Printf("❌ [Orchestrator] kingdom %s tick failed: %v", kingdom.ID[:8], err)
	}
}

// tickCity runs one city tick with panic isolation. Returns false when
// the tick failed and will be retried by a later cycle.
func (o *Orchestrator) tickCity(cityID string, now time.Time) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ [Orchestrator] city %s tick panicked: %v", cityID[:8], r)
			ok = false
		}
	}()
	started := time.Now()
	if _, err := o.Cities.Tick(cityID, now); err != nil {
		log.Printf("❌ [Orchestrator] city %s tick failed: %v", cityID[:8], err)
		return false
	}
	if cost := time.Since(started); cost > o.Cfg.TickBudget {
		log.Printf("⚠️  [Orchestrator] city %s tick took %s (budget %s)", cityID[:8], cost, o.Cfg.TickBudget)
	}
	return true
}

// Reconcile runs the cross-entity sweeps: caravan departures and
// deliveries, then PvE respawns. Order expiry runs with each kingdom's
// tick; price-history aggregation belongs to the history worker.
func (o *Orchestrator) Reconcile(now time.Time) {
	o.Routes.AdvanceRoutes(now)
	o.Routes.DeliverShipments(now)
	o.respawnPveNodes(now)
}

func (o *Orchestrator) respawnPveNodes(now time.Time) {
	result := o.DB.Model(&models.PveNode{}).
		Where("status IN ? AND respawn_at IS NOT NULL AND respawn_at <= ?",
			[]models.PveNodeStatus{models.PveNodeDefeated, models.PveNodeRespawning}, now).
		Updates(map[string]interface{}{
			"status":      models.PveNodeActive,
			"respawn_at":  nil,
			"defeated_by": "",
		})
	if result.Error != nil {
		log.Printf("❌ [Orchestrator] PvE respawn sweep failed: %v", result.Error)
		return
	}
	if result.RowsAffected > 0 {
		log.Printf("🐉 [Orchestrator] Respawned %d PvE node(s)", result.RowsAffected)
	}
}
