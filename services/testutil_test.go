package services

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"realm-sim-server/models"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB opens a fresh in-memory database and migrates the full
// schema. Each test gets its own named shared-cache DB so connections
// from gorm's pool all see the same data.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Realm{},
		&models.Kingdom{},
		&models.City{},
		&models.Resource{},
		&models.CityResource{},
		&models.Building{},
		&models.CityBuilding{},
		&models.Governor{},
		&models.CityGovernor{},
		&models.MarketOrder{},
		&models.Trade{},
		&models.PriceHistory{},
		&models.Route{},
		&models.RouteShipment{},
		&models.PublicWork{},
		&models.PveNode{},
	))
	return db
}

// testConfig pins every balance value so assertions stay deterministic
// regardless of the environment.
func testConfig() SimConfig {
	return SimConfig{
		TickPeriod:        time.Minute,
		ReconcilePeriod:   30 * time.Second,
		CityBatchSize:     200,
		TickBudget:        5 * time.Second,
		WarehousePerLevel: 5000,
		MarketFeeRate:     0.02,
		MarketTaxRate:     0.01,
		OrderTTL:          48 * time.Hour,
		TransitDelay:      5 * time.Minute,
		RouteCycleMinutes: 60,
		EscortLossBase:    0.10,
		EscortLossStep:    0.02,
		PveRespawn:        time.Hour,
		SeedCoin:          1000,
	}
}

func newTestCityService(t *testing.T, db *gorm.DB) *CityService {
	t.Helper()
	cfg := testConfig()
	locks := NewEntityLocks()
	svc := NewCityService(db, cfg, locks)
	svc.Market = NewMarketService(db, cfg)
	svc.Routes = NewRouteService(db, cfg, locks)
	svc.Works = NewPublicWorksService(db, cfg, locks)
	return svc
}

func seedKingdom(t *testing.T, db *gorm.DB) *models.Kingdom {
	t.Helper()
	realm := models.Realm{ID: uuid.NewString(), Name: "Test Realm", LastTick: time.Now().UTC()}
	require.NoError(t, db.Create(&realm).Error)
	kingdom := models.Kingdom{ID: uuid.NewString(), RealmID: realm.ID, Name: "Test Kingdom", LastTick: time.Now().UTC()}
	require.NoError(t, db.Create(&kingdom).Error)
	return &kingdom
}

func seedCity(t *testing.T, db *gorm.DB, kingdomID, ownerID, region, name string) *models.City {
	t.Helper()
	city := models.City{
		ID:         uuid.NewString(),
		Slug:       fmt.Sprintf("%s-%s", name, uuid.NewString()[:8]),
		OwnerID:    ownerID,
		KingdomID:  kingdomID,
		Region:     region,
		Name:       name,
		Level:      1,
		Population: 100,
		Happiness:  50,
		LastTick:   time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, db.Create(&city).Error)
	return &city
}

func seedResource(t *testing.T, db *gorm.DB, code string, typ models.ResourceType) {
	t.Helper()
	require.NoError(t, db.Create(&models.Resource{Code: code, Name: code, Type: typ, BaseValue: 1}).Error)
}

// setStock writes a ledger row directly, bypassing the cap.
func setStock(t *testing.T, db *gorm.DB, cityID, code string, amount, protected int64) {
	t.Helper()
	row := models.CityResource{
		ID:           uuid.NewString(),
		CityID:       cityID,
		ResourceCode: code,
		Amount:       amount,
		Protected:    protected,
	}
	require.NoError(t, db.Create(&row).Error)
}

func getStock(t *testing.T, db *gorm.DB, cityID, code string) *models.CityResource {
	t.Helper()
	var row models.CityResource
	err := db.Where("city_id = ? AND resource_code = ?", cityID, code).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.CityResource{CityID: cityID, ResourceCode: code}
	}
	require.NoError(t, err)
	return &row
}
