package models

import "time"

// Realm is the top of the tick cascade. One realm per game shard.
type Realm struct {
	ID       string    `json:"id" gorm:"primaryKey;type:uuid"`
	Name     string    `json:"name" gorm:"not null"`
	LastTick time.Time `json:"last_tick" gorm:"index"`

	Timestamps
}

// Kingdom owns the market (one order book per resource) for its member
// cities. Ticked after its realm, before its cities.
type Kingdom struct {
	ID       string    `json:"id" gorm:"primaryKey;type:uuid"`
	RealmID  string    `json:"realm_id" gorm:"not null;index"`
	Name     string    `json:"name" gorm:"not null"`
	TaxRate  float64   `json:"tax_rate" gorm:"default:0"` // overrides global rate when > 0
	LastTick time.Time `json:"last_tick" gorm:"index"`

	Timestamps
}
