package models

import "time"

// RouteStatus lifecycle: active → completed (repeats exhausted) or cancelled
type RouteStatus string

const (
	RouteStatusActive    RouteStatus = "active"
	RouteStatusCompleted RouteStatus = "completed"
	RouteStatusCancelled RouteStatus = "cancelled"
)

// RepeatsUnlimited marks a route that never exhausts.
const RepeatsUnlimited = -1

// Route is a recurring caravan between two regions. NextDeparture only
// moves forward; a skipped or lost trip still advances it so a route can
// never stall the schedule.
type Route struct {
	ID            string      `json:"id" gorm:"primaryKey;type:uuid"`
	CityID        string      `json:"city_id" gorm:"not null;index"`
	DestCityID    string      `json:"dest_city_id" gorm:"not null;index"`
	FromRegion    string      `json:"from_region" gorm:"not null"`
	ToRegion      string      `json:"to_region" gorm:"not null"`
	ResourceCode  string      `json:"resource_code" gorm:"not null;size:32"`
	QtyPerTrip    int64       `json:"qty_per_trip" gorm:"not null"`
	CycleMinutes  int64       `json:"cycle_minutes" gorm:"not null"`
	Repeats       int64       `json:"repeats" gorm:"default:-1"` // -1 = unlimited
	EscortLevel   int         `json:"escort_level" gorm:"default:0"`
	NextDeparture time.Time   `json:"next_departure" gorm:"index"`
	Status        RouteStatus `json:"status" gorm:"not null;default:'active';index"`

	Timestamps
}

// RouteShipment is one caravan in transit, credited to the destination
// when the reconcile sweep sees ArriveAt in the past.
type RouteShipment struct {
	ID           string    `json:"id" gorm:"primaryKey;type:uuid"`
	RouteID      string    `json:"route_id" gorm:"not null;index"`
	DestCityID   string    `json:"dest_city_id" gorm:"not null;index"`
	ResourceCode string    `json:"resource_code" gorm:"not null;size:32"`
	Qty          int64     `json:"qty" gorm:"not null"`
	ArriveAt     time.Time `json:"arrive_at" gorm:"index"`
	Delivered    bool      `json:"delivered" gorm:"default:false;index"`

	Timestamps
}
