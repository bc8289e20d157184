package services

import (
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"realm-sim-server/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RouteService advances trade caravans. Departures catch up rather than
// drift: if several cycles have elapsed, each due departure is processed
// at its scheduled time. A skipped or lost trip still advances the
// schedule, so a route can never stall indefinitely.
type RouteService struct {
	DB    *gorm.DB
	Cfg   SimConfig
	Locks *EntityLocks

	mu  sync.Mutex
	rng *rand.Rand
}

func NewRouteService(db *gorm.DB, cfg SimConfig, locks *EntityLocks) *RouteService {
	return &RouteService{
		DB:    db,
		Cfg:   cfg,
		Locks: locks,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SeedRand pins the loss-roll source, for reproducible runs.
func (s *RouteService) SeedRand(seed int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rng = rand.New(rand.NewSource(seed))
}

func (s *RouteService) roll() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// CreateRoute validates and creates a caravan route from the city's own
// region to another region where the same owner holds a city. The first
// departure is due immediately.
func (s *RouteService) CreateRoute(cityID, fromRegion, toRegion, resource string, qtyPerTrip int64, repeats *int64, escortLevel int) (*models.Route, error) {
	if qtyPerTrip <= 0 {
		return nil, fmt.Errorf("%w: qty per trip must be positive", ErrInvalidTransition)
	}
	if fromRegion == toRegion {
		return nil, fmt.Errorf("%w: route must cross regions", ErrInvalidTransition)
	}

	var route models.Route
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var city models.City
		if err := tx.Where("id = ?", cityID).First(&city).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: city %s", ErrNotFound, cityID)
			}
			return err
		}
		if city.Region != fromRegion {
			return fmt.Errorf("%w: city %s is not in region %s", ErrInvalidTransition, cityID, fromRegion)
		}
		var res models.Resource
		if err := tx.Where("code = ?", resource).First(&res).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: resource %s", ErrNotFound, resource)
			}
			return err
		}
		var dest models.City
		if err := tx.Where("owner_id = ? AND region = ? AND id <> ?", city.OwnerID, toRegion, city.ID).
			Order("created_at").First(&dest).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: no destination city in region %s", ErrNotFound, toRegion)
			}
			return err
		}

		reps := int64(models.RepeatsUnlimited)
		if repeats != nil {
			if *repeats == 0 {
				return fmt.Errorf("%w: repeats must be positive or omitted", ErrInvalidTransition)
			}
			reps = *repeats
		}

		route = models.Route{
			ID:            uuid.NewString(),
			CityID:        city.ID,
			DestCityID:    dest.ID,
			FromRegion:    fromRegion,
			ToRegion:      toRegion,
			ResourceCode:  resource,
			QtyPerTrip:    qtyPerTrip,
			CycleMinutes:  s.Cfg.RouteCycleMinutes,
			Repeats:       reps,
			EscortLevel:   escortLevel,
			NextDeparture: time.Now().UTC(),
			Status:        models.RouteStatusActive,
		}
		return tx.Create(&route).Error
	})
	if err != nil {
		return nil, err
	}
	log.Printf("🐪 Route %s created: %s → %s, %d %s per trip", route.ID[:8], fromRegion, toRegion, qtyPerTrip, resource)
	return &route, nil
}

// AdvanceRoutes processes every departure due at or before now. Each
// route is advanced under its origin city's lock; a failure on one route
// is logged and never blocks the rest of the sweep.
func (s *RouteService) AdvanceRoutes(now time.Time) {
	var due []models.Route
	if err := s.DB.Where("status = ? AND next_departure <= ?", models.RouteStatusActive, now).
		Find(&due).Error; err != nil {
		log.Printf("❌ [Routes] sweep query failed: %v", err)
		return
	}
	for i := range due {
		routeID, cityID := due[i].ID, due[i].CityID
		err := s.Locks.With(cityID, func() error {
			return s.advanceOne(routeID, now)
		})
		if err != nil {
			log.Printf("❌ [Routes] advancing route %s failed: %v", routeID[:8], err)
		}
	}
}

func (s *RouteService) advanceOne(routeID string, now time.Time) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		var route models.Route
		if err := tx.Where("id = ?", routeID).First(&route).Error; err != nil {
			return err
		}
		if route.Status != models.RouteStatusActive {
			return nil
		}
		cycle := time.Duration(route.CycleMinutes) * time.Minute
		if cycle <= 0 {
			// A stored zero-minute cycle would never let catch-up terminate.
			cycle = time.Minute
		}

		for route.Status == models.RouteStatusActive && !route.NextDeparture.After(now) {
			departure := route.NextDeparture

			err := debitAvailable(tx, route.CityID, route.ResourceCode, route.QtyPerTrip)
			switch {
			case errors.Is(err, ErrInsufficientResources):
				// Trip skipped: no movement, no repeat consumed, but the
				// schedule still advances.
				route.NextDeparture = departure.Add(cycle)
				continue
			case err != nil:
				return err
			}

			lossChance := s.Cfg.EscortLossBase - float64(route.EscortLevel)*s.Cfg.EscortLossStep
			if lossChance < 0 {
				lossChance = 0
			}
			if s.roll() < lossChance {
				log.Printf("🏴 [Routes] Caravan lost on route %s (%d %s gone)", route.ID[:8], route.QtyPerTrip, route.ResourceCode)
			} else {
				shipment := models.RouteShipment{
					ID:           uuid.NewString(),
					RouteID:      route.ID,
					DestCityID:   route.DestCityID,
					ResourceCode: route.ResourceCode,
					Qty:          route.QtyPerTrip,
					ArriveAt:     departure.Add(s.Cfg.TransitDelay),
				}
				if err := tx.Create(&shipment).Error; err != nil {
					return err
				}
			}

			if route.Repeats != models.RepeatsUnlimited {
				route.Repeats--
				if route.Repeats <= 0 {
					route.Status = models.RouteStatusCompleted
					break // completed: next_departure stays at the final trip
				}
			}
			route.NextDeparture = departure.Add(cycle)
		}

		return tx.Save(&route).Error
	})
}

// DeliverShipments credits every caravan that has arrived. Each delivery
// runs under the destination city's lock.
func (s *RouteService) DeliverShipments(now time.Time) {
	var arrived []models.RouteShipment
	if err := s.DB.Where("delivered = ? AND arrive_at <= ?", false, now).Find(&arrived).Error; err != nil {
		log.Printf("❌ [Routes] delivery query failed: %v", err)
		return
	}
	for i := range arrived {
		shipmentID, destID := arrived[i].ID, arrived[i].DestCityID
		err := s.Locks.With(destID, func() error {
			return s.deliverOne(shipmentID)
		})
		if err != nil {
			log.Printf("❌ [Routes] delivering shipment %s failed: %v", shipmentID[:8], err)
		}
	}
}

func (s *RouteService) deliverOne(shipmentID string) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		var shipment models.RouteShipment
		if err := tx.Where("id = ?", shipmentID).First(&shipment).Error; err != nil {
			return err
		}
		if shipment.Delivered {
			return nil
		}
		var dest models.City
		if err := tx.Where("id = ?", shipment.DestCityID).First(&dest).Error; err != nil {
			return err
		}
		if _, err := creditResource(tx, dest.ID, shipment.ResourceCode, shipment.Qty, s.Cfg.WarehouseCap(dest.Level)); err != nil {
			return err
		}
		shipment.Delivered = true
		return tx.Save(&shipment).Error
	})
}
