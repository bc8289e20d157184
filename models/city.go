package models

import "time"

// City is the primary player entity. All of its ledger rows are owned by
// the city's actor — nothing mutates them outside a command or tick held
// under the city's lock. LastTick only ever moves forward.
type City struct {
	ID          string     `json:"id" gorm:"primaryKey;type:uuid"`
	Slug        string     `json:"slug" gorm:"uniqueIndex;not null"`
	OwnerID     string     `json:"owner_id" gorm:"not null;index"` // external identity, trusted from the gateway
	KingdomID   string     `json:"kingdom_id" gorm:"not null;index"`
	Region      string     `json:"region" gorm:"not null;index"`
	Name        string     `json:"name" gorm:"not null"`
	Level       int        `json:"level" gorm:"default:1"`
	Population  int64      `json:"population" gorm:"default:100"`
	Happiness   int        `json:"happiness" gorm:"default:50"` // 0..100
	ShieldUntil *time.Time `json:"shield_until,omitempty"`
	LastTick    time.Time  `json:"last_tick" gorm:"index"`

	Timestamps

	// Calculated fields (not stored in DB)
	Resources []CityResource `json:"resources,omitempty" gorm:"-"`
	Buildings []CityBuilding `json:"buildings,omitempty" gorm:"-"`
}

// Power is the city's fighting strength for PvE checks.
func (c *City) Power() int64 {
	return c.Population/10 + int64(c.Level)*50
}

// ClampHappiness keeps happiness inside [0,100].
func (c *City) ClampHappiness() {
	if c.Happiness < 0 {
		c.Happiness = 0
	}
	if c.Happiness > 100 {
		c.Happiness = 100
	}
}
