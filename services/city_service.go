package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"realm-sim-server/models"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

// CityService owns all city entity state. Every command and tick for a
// city runs under that city's lock, so reads-then-writes against one
// city never interleave; market commands additionally hold the kingdom
// lock because the book is kingdom state.
type CityService struct {
	DB    *gorm.DB
	Cfg   SimConfig
	Locks *EntityLocks

	Market *MarketService
	Routes *RouteService
	Works  *PublicWorksService
}

func NewCityService(db *gorm.DB, cfg SimConfig, locks *EntityLocks) *CityService {
	return &CityService{DB: db, Cfg: cfg, Locks: locks}
}

// CityState is the query snapshot: persisted state plus derived rates.
type CityState struct {
	City      models.City           `json:"city"`
	Resources []models.CityResource `json:"resources"`
	Buildings []models.CityBuilding `json:"buildings"`
	Governors []models.CityGovernor `json:"governors"`
	Produced  models.ResourceMap    `json:"produced_per_hour"`
	Consumed  models.ResourceMap    `json:"consumed_per_hour"`
}

// TickResult reports what one tick applied.
type TickResult struct {
	CityID  string           `json:"city_id"`
	Elapsed time.Duration    `json:"elapsed"`
	Report  ProductionReport `json:"report"`
}

// RegisterCity creates a new city in a kingdom with seed coin. The slug
// is derived from the name, suffixed on collision.
func (s *CityService) RegisterCity(ownerID, kingdomID, region, name string) (*models.City, error) {
	var kingdom models.Kingdom
	if err := s.DB.Where("id = ?", kingdomID).First(&kingdom).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: kingdom %s", ErrNotFound, kingdomID)
		}
		return nil, err
	}

	city := models.City{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		KingdomID: kingdomID,
		Region:    region,
		Name:      name,
		Level:     1,
		Happiness: 50,
		LastTick:  time.Now().UTC(),
	}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		city.Slug = slug.Make(name)
		var count int64
		if err := tx.Model(&models.City{}).Where("slug = ?", city.Slug).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			city.Slug = fmt.Sprintf("%s-%s", city.Slug, city.ID[:8])
		}
		if err := tx.Create(&city).Error; err != nil {
			return err
		}
		_, err := creditResource(tx, city.ID, models.ResourceCoin, s.Cfg.SeedCoin, s.Cfg.WarehouseCap(city.Level))
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Printf("🏰 Registered city %s (%s) in kingdom %s", city.Name, city.Slug, kingdomID)
	return &city, nil
}

// GetState returns the current persisted snapshot with derived rates.
// No side effects.
func (s *CityService) GetState(cityID string) (*CityState, error) {
	var city models.City
	if err := s.DB.Where("id = ?", cityID).First(&city).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: city %s", ErrNotFound, cityID)
		}
		return nil, err
	}

	state := CityState{City: city}
	if err := s.DB.Where("city_id = ?", cityID).Order("resource_code").Find(&state.Resources).Error; err != nil {
		return nil, err
	}
	if err := s.DB.Where("city_id = ?", cityID).Order("created_at").Find(&state.Buildings).Error; err != nil {
		return nil, err
	}
	if err := s.DB.Where("city_id = ?", cityID).Find(&state.Governors).Error; err != nil {
		return nil, err
	}

	prod, err := s.loadProductionSet(s.DB, &city)
	if err != nil {
		return nil, err
	}
	state.Produced, state.Consumed = ProductionRates(prod)
	return &state, nil
}

// Dispatch validates and applies one command atomically under the
// city's lock. Side effects land only on success.
func (s *CityService) Dispatch(cityID string, cmd models.Command) (*models.CommandResult, error) {
	var city models.City
	if err := s.DB.Where("id = ?", cityID).First(&city).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: city %s", ErrNotFound, cityID)
		}
		return nil, err
	}
	if err := cmd.Resources.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}

	result := &models.CommandResult{Type: cmd.Type, CityID: cityID}
	var err error
	switch cmd.Type {
	case models.CmdOrderPlace:
		// The book is kingdom state: hold both locks in a stable order.
		err = s.Locks.With2(cityID, city.KingdomID, func() error {
			order, trades, perr := s.Market.PlaceOrder(cityID, cmd.Side, cmd.Item, cmd.Price, cmd.Qty, cmd.TIF)
			if perr != nil {
				return perr
			}
			result.Order = order
			result.Trades = trades
			return nil
		})
	case models.CmdOrderCancel:
		err = s.Locks.With2(cityID, city.KingdomID, func() error {
			order, cerr := s.Market.CancelOrder(cityID, cmd.OrderID)
			if cerr != nil {
				return cerr
			}
			result.Order = order
			return nil
		})
	case models.CmdRouteCreate:
		err = s.Locks.With(cityID, func() error {
			route, rerr := s.Routes.CreateRoute(cityID, cmd.FromRegion, cmd.ToRegion, cmd.Resource, cmd.QtyPerTrip, cmd.Repeats, cmd.EscortLevel)
			if rerr != nil {
				return rerr
			}
			result.Route = route
			return nil
		})
	case models.CmdContribute:
		err = s.Locks.With(cityID, func() error {
			work, werr := s.Works.Contribute(cityID, cmd.PublicWorkID, cmd.Resources)
			if werr != nil {
				return werr
			}
			result.Work = work
			return nil
		})
	case models.CmdCollect:
		err = s.Locks.With(cityID, func() error {
			tick, terr := s.tickLocked(cityID, time.Now().UTC())
			if terr != nil {
				return terr
			}
			result.Message = fmt.Sprintf("collected %s of production", tick.Elapsed)
			return nil
		})
	case models.CmdUpgradeBuilding:
		err = s.Locks.With(cityID, func() error {
			return s.DB.Transaction(func(tx *gorm.DB) error {
				return s.upgradeBuilding(tx, &city, cmd.Code)
			})
		})
	case models.CmdAssignGovernor:
		err = s.Locks.With(cityID, func() error {
			return s.DB.Transaction(func(tx *gorm.DB) error {
				return s.assignGovernor(tx, &city, cmd.GovernorID, cmd.Slot, cmd.BuildingID)
			})
		})
	case models.CmdUnassignGovernor:
		err = s.Locks.With(cityID, func() error {
			return s.DB.Transaction(func(tx *gorm.DB) error {
				return s.unassignGovernor(tx, &city, cmd.GovernorID)
			})
		})
	case models.CmdPveAttack:
		err = s.Locks.With(cityID, func() error {
			return s.DB.Transaction(func(tx *gorm.DB) error {
				reward, aerr := s.pveAttack(tx, &city, cmd.NodeID)
				if aerr != nil {
					return aerr
				}
				result.Reward = reward
				return nil
			})
		})
	default:
		return nil, fmt.Errorf("%w: unknown command type %q", ErrInvalidTransition, cmd.Type)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Tick advances the city's simulated time to now. Idempotent: a now at
// or before last_tick is a no-op, and the elapsed interval is clamped so
// deltas can never double-apply.
func (s *CityService) Tick(cityID string, now time.Time) (*TickResult, error) {
	var result *TickResult
	err := s.Locks.With(cityID, func() error {
		r, terr := s.tickLocked(cityID, now)
		if terr != nil {
			return terr
		}
		result = r
		return nil
	})
	return result, err
}

func (s *CityService) tickLocked(cityID string, now time.Time) (*TickResult, error) {
	result := &TickResult{CityID: cityID}
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var city models.City
		if err := tx.Where("id = ?", cityID).First(&city).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: city %s", ErrNotFound, cityID)
			}
			return err
		}

		elapsed := now.Sub(city.LastTick)
		if elapsed <= 0 {
			// Re-tick with an old timestamp: nothing to apply, nothing moves.
			return nil
		}
		result.Elapsed = elapsed

		prodSet, err := s.loadProductionSet(tx, &city)
		if err != nil {
			return err
		}
		var rows []models.CityResource
		if err := tx.Where("city_id = ?", cityID).Find(&rows).Error; err != nil {
			return err
		}
		stock := make(map[string]int64, len(rows))
		protected := make(map[string]int64, len(rows))
		byCode := make(map[string]*models.CityResource, len(rows))
		for i := range rows {
			stock[rows[i].ResourceCode] = rows[i].Amount
			protected[rows[i].ResourceCode] = rows[i].Protected
			byCode[rows[i].ResourceCode] = &rows[i]
		}

		result.Report = RunProduction(prodSet, stock, protected, s.Cfg.WarehouseCap(city.Level), elapsed)

		for code, amount := range stock {
			row, ok := byCode[code]
			if !ok {
				if amount == 0 {
					continue
				}
				row = &models.CityResource{
					ID:           uuid.NewString(),
					CityID:       cityID,
					ResourceCode: code,
					Amount:       amount,
				}
				if err := tx.Create(row).Error; err != nil {
					return err
				}
				continue
			}
			if row.Amount != amount {
				readAmount, readProtected := row.Amount, row.Protected
				row.Amount = amount
				if err := saveLedgerRow(tx, row, readAmount, readProtected); err != nil {
					return err
				}
			}
		}
		for _, pb := range prodSet {
			if err := tx.Save(pb.State).Error; err != nil {
				return err
			}
		}

		city.LastTick = now
		return tx.Save(&city).Error
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// loadProductionSet resolves city buildings against the catalog and
// attaches the governors whose bonuses reach each building.
func (s *CityService) loadProductionSet(tx *gorm.DB, city *models.City) ([]ProductionBuilding, error) {
	var cbs []models.CityBuilding
	if err := tx.Where("city_id = ?", city.ID).Order("created_at").Find(&cbs).Error; err != nil {
		return nil, err
	}
	if len(cbs) == 0 {
		return nil, nil
	}

	codes := make([]string, 0, len(cbs))
	for _, cb := range cbs {
		codes = append(codes, cb.BuildingCode)
	}
	var catalog []models.Building
	if err := tx.Where("code IN ?", codes).Find(&catalog).Error; err != nil {
		return nil, err
	}
	catalogByCode := make(map[string]models.Building, len(catalog))
	for _, b := range catalog {
		catalogByCode[b.Code] = b
	}

	var assignments []models.CityGovernor
	if err := tx.Where("city_id = ?", city.ID).Find(&assignments).Error; err != nil {
		return nil, err
	}
	var cityGovs []models.Governor
	buildingGovs := make(map[string][]models.Governor)
	for _, a := range assignments {
		var gov models.Governor
		if err := tx.Where("id = ?", a.GovernorID).First(&gov).Error; err != nil {
			continue // stale assignment, skip rather than fail the tick
		}
		if a.Slot == models.SlotCity {
			cityGovs = append(cityGovs, gov)
		} else if a.CityBuildingID != nil {
			buildingGovs[*a.CityBuildingID] = append(buildingGovs[*a.CityBuildingID], gov)
		}
	}

	set := make([]ProductionBuilding, 0, len(cbs))
	for i := range cbs {
		cat, ok := catalogByCode[cbs[i].BuildingCode]
		if !ok {
			continue
		}
		govs := append([]models.Governor{}, cityGovs...)
		govs = append(govs, buildingGovs[cbs[i].ID]...)
		set = append(set, ProductionBuilding{State: &cbs[i], Catalog: cat, Governors: govs})
	}
	return set, nil
}

func (s *CityService) upgradeBuilding(tx *gorm.DB, city *models.City, code string) error {
	var catalog models.Building
	if err := tx.Where("code = ?", code).First(&catalog).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: building %s", ErrNotFound, code)
		}
		return err
	}

	var cb models.CityBuilding
	err := tx.Where("city_id = ? AND building_code = ?", city.ID, code).First(&cb).Error
	creating := errors.Is(err, gorm.ErrRecordNotFound)
	if err != nil && !creating {
		return err
	}

	targetLevel := 1
	if !creating {
		if cb.Level >= catalog.MaxLevel {
			return fmt.Errorf("%w: %s already at max level %d", ErrInvalidTransition, code, catalog.MaxLevel)
		}
		targetLevel = cb.Level + 1
	}

	for res, qty := range catalog.UpgradeCost {
		if err := debitAvailable(tx, city.ID, res, qty*int64(targetLevel)); err != nil {
			return err
		}
	}

	if creating {
		cb = models.CityBuilding{
			ID:           uuid.NewString(),
			CityID:       city.ID,
			BuildingCode: code,
			Level:        1,
			Workers:      catalog.WorkersPerLevel,
			IsActive:     true,
			FuelCode:     catalog.FuelCode,
		}
		return tx.Create(&cb).Error
	}
	cb.Level = targetLevel
	cb.IsActive = true // an upgrade restarts a building stopped for upkeep
	return tx.Save(&cb).Error
}

func (s *CityService) assignGovernor(tx *gorm.DB, city *models.City, governorID string, slot models.GovernorSlot, buildingID string) error {
	var gov models.Governor
	if err := tx.Where("id = ?", governorID).First(&gov).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: governor %s", ErrNotFound, governorID)
		}
		return err
	}
	if slot == "" {
		slot = gov.Slot
	}
	if slot != gov.Slot {
		return fmt.Errorf("%w: governor %s only fits the %s slot", ErrInvalidTransition, governorID, gov.Slot)
	}

	assignment := models.CityGovernor{
		ID:         uuid.NewString(),
		CityID:     city.ID,
		GovernorID: governorID,
		Slot:       slot,
	}

	var taken int64
	switch slot {
	case models.SlotCity:
		if err := tx.Model(&models.CityGovernor{}).
			Where("city_id = ? AND slot = ?", city.ID, models.SlotCity).
			Count(&taken).Error; err != nil {
			return err
		}
	case models.SlotBuilding:
		if buildingID == "" {
			return fmt.Errorf("%w: building slot requires a building id", ErrInvalidTransition)
		}
		var cb models.CityBuilding
		if err := tx.Where("id = ? AND city_id = ?", buildingID, city.ID).First(&cb).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: building %s", ErrNotFound, buildingID)
			}
			return err
		}
		assignment.CityBuildingID = &cb.ID
		if err := tx.Model(&models.CityGovernor{}).
			Where("city_id = ? AND slot = ? AND city_building_id = ?", city.ID, models.SlotBuilding, cb.ID).
			Count(&taken).Error; err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unknown slot %q", ErrInvalidTransition, slot)
	}
	if taken > 0 {
		return fmt.Errorf("%w: slot already occupied", ErrConflict)
	}

	return tx.Create(&assignment).Error
}

func (s *CityService) unassignGovernor(tx *gorm.DB, city *models.City, governorID string) error {
	var assignment models.CityGovernor
	err := tx.Where("city_id = ? AND governor_id = ?", city.ID, governorID).First(&assignment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: governor %s is not assigned here", ErrNotFound, governorID)
	}
	if err != nil {
		return err
	}
	return tx.Unscoped().Delete(&assignment).Error
}

func (s *CityService) pveAttack(tx *gorm.DB, city *models.City, nodeID string) (models.ResourceMap, error) {
	var node models.PveNode
	if err := tx.Where("id = ?", nodeID).First(&node).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: pve node %s", ErrNotFound, nodeID)
		}
		return nil, err
	}
	if node.Region != city.Region {
		return nil, fmt.Errorf("%w: node %s is out of region", ErrInvalidTransition, nodeID)
	}
	if node.Status != models.PveNodeActive {
		return nil, fmt.Errorf("%w: node %s is %s", ErrInvalidTransition, nodeID, node.Status)
	}
	if city.Power() < node.PowerRequired {
		return nil, fmt.Errorf("%w: need power %d, have %d", ErrInsufficientResources, node.PowerRequired, city.Power())
	}

	cap := s.Cfg.WarehouseCap(city.Level)
	for code, qty := range node.Reward {
		if _, err := creditResource(tx, city.ID, code, qty, cap); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	respawn := now.Add(s.Cfg.PveRespawn)
	node.Status = models.PveNodeDefeated
	node.RespawnAt = &respawn
	node.DefeatedBy = city.ID
	if err := tx.Save(&node).Error; err != nil {
		return nil, err
	}
	log.Printf("⚔️  City %s defeated node %s, reward %v", city.Slug, node.Name, node.Reward)
	return node.Reward.Clone(), nil
}
