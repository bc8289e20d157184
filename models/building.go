package models

// GovernorSlot is where a governor can be assigned
type GovernorSlot string

const (
	SlotCity     GovernorSlot = "city"
	SlotBuilding GovernorSlot = "building"
)

// Building is the static catalog entry for a building type. Inputs,
// Outputs and Upkeep are per base interval at level 1; production scales
// them linearly with level and elapsed time.
type Building struct {
	Code            string      `json:"code" gorm:"primaryKey;size:32"`
	Name            string      `json:"name" gorm:"not null"`
	MaxLevel        int         `json:"max_level" gorm:"default:10"`
	BaseIntervalSec int64       `json:"base_interval_sec" gorm:"default:3600"`
	WorkersPerLevel int         `json:"workers_per_level" gorm:"default:10"`
	Inputs          ResourceMap `json:"inputs" gorm:"type:jsonb"`
	Outputs         ResourceMap `json:"outputs" gorm:"type:jsonb"`
	Upkeep          ResourceMap `json:"upkeep" gorm:"type:jsonb"`
	UpgradeCost     ResourceMap `json:"upgrade_cost" gorm:"type:jsonb"` // per target level, scaled linearly
	FuelCode        string      `json:"fuel_code,omitempty" gorm:"size:32"`
}

// WorkerCapacity is the max workers a building holds at the given level.
func (b *Building) WorkerCapacity(level int) int {
	if level < 1 {
		level = 1
	}
	return b.WorkersPerLevel * level
}

// CityBuilding is one constructed building inside a city.
type CityBuilding struct {
	ID           string `json:"id" gorm:"primaryKey;type:uuid"`
	CityID       string `json:"city_id" gorm:"not null;index:idx_city_building,unique"`
	BuildingCode string `json:"building_code" gorm:"not null;index:idx_city_building,unique;size:32"`
	Level        int    `json:"level" gorm:"default:1"`
	Workers      int    `json:"workers" gorm:"default:0"`
	IsActive     bool   `json:"is_active" gorm:"default:true"`
	FuelCode     string `json:"fuel_code,omitempty" gorm:"size:32"` // bound fuel, consumed as an extra input when set

	// Progress is the fraction of a production interval carried between
	// ticks, so splitting an interval across ticks yields the same
	// cumulative output as one long tick.
	Progress float64 `json:"progress" gorm:"default:0"`

	Timestamps
}

// Governor is static catalog data for an assignable specialist.
// BonusAdd is a flat per-base-interval addition to outputs; BonusMult
// multiplies outputs after all additive bonuses.
type Governor struct {
	ID        string       `json:"id" gorm:"primaryKey;size:64"`
	Name      string       `json:"name" gorm:"not null"`
	Slot      GovernorSlot `json:"slot" gorm:"not null;default:'city'"`
	BonusAdd  ResourceMap  `json:"bonus_add" gorm:"type:jsonb"`
	BonusMult float64      `json:"bonus_mult" gorm:"default:1"`
}

// CityGovernor is an assignment of a governor to a city slot or to one
// specific building. At most one governor per slot per target.
type CityGovernor struct {
	ID             string       `json:"id" gorm:"primaryKey;type:uuid"`
	CityID         string       `json:"city_id" gorm:"not null;index"`
	GovernorID     string       `json:"governor_id" gorm:"not null;index"`
	Slot           GovernorSlot `json:"slot" gorm:"not null"`
	CityBuildingID *string      `json:"city_building_id,omitempty" gorm:"index"`

	Timestamps
}
