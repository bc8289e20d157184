package models

import "time"

// CommandType enumerates every mutation a caller can submit against an
// entity. Anything not listed here goes through a tick, never a command.
type CommandType string

const (
	CmdUpgradeBuilding  CommandType = "UPGRADE_BUILDING"
	CmdCollect          CommandType = "COLLECT"
	CmdAssignGovernor   CommandType = "ASSIGN_GOVERNOR"
	CmdUnassignGovernor CommandType = "UNASSIGN_GOVERNOR"
	CmdOrderPlace       CommandType = "ORDER_PLACE"
	CmdOrderCancel      CommandType = "ORDER_CANCEL"
	CmdRouteCreate      CommandType = "ROUTE_CREATE"
	CmdContribute       CommandType = "CONTRIBUTE"
	CmdPveAttack        CommandType = "PVE_ATTACK"
)

// Command is the single envelope for all entity mutations. ClientTime is
// informational only; server time governs every tick and schedule.
type Command struct {
	Type CommandType `json:"type"`

	// UPGRADE_BUILDING
	Code string `json:"code,omitempty"`

	// COLLECT / ASSIGN_GOVERNOR (building slot)
	BuildingID string `json:"building_id,omitempty"`

	// ASSIGN_GOVERNOR / UNASSIGN_GOVERNOR
	GovernorID string       `json:"governor_id,omitempty"`
	Slot       GovernorSlot `json:"slot,omitempty"`

	// ORDER_PLACE
	Side  OrderSide `json:"side,omitempty"`
	Item  string    `json:"item,omitempty"`
	Qty   int64     `json:"qty,omitempty"`
	Price int64     `json:"price,omitempty"`
	TIF   *int64    `json:"tif,omitempty"` // seconds; 0 = fill-or-kill, nil = default TTL

	// ORDER_CANCEL
	OrderID string `json:"order_id,omitempty"`

	// ROUTE_CREATE
	FromRegion  string `json:"from_region,omitempty"`
	ToRegion    string `json:"to_region,omitempty"`
	Resource    string `json:"resource,omitempty"`
	QtyPerTrip  int64  `json:"qty_per_trip,omitempty"`
	Repeats     *int64 `json:"repeats,omitempty"`
	EscortLevel int    `json:"escort_level,omitempty"`

	// CONTRIBUTE / PVE_ATTACK
	PublicWorkID string      `json:"public_work_id,omitempty"`
	NodeID       string      `json:"node_id,omitempty"`
	Resources    ResourceMap `json:"resources,omitempty"`

	ClientTime *time.Time `json:"client_time,omitempty"`
}

// CommandResult is what a successful dispatch returns to the caller.
type CommandResult struct {
	Type    CommandType  `json:"type"`
	CityID  string       `json:"city_id"`
	Order   *MarketOrder `json:"order,omitempty"`
	Trades  []Trade      `json:"trades,omitempty"`
	Route   *Route       `json:"route,omitempty"`
	Work    *PublicWork  `json:"public_work,omitempty"`
	Reward  ResourceMap  `json:"reward,omitempty"`
	Message string       `json:"message,omitempty"`
}
