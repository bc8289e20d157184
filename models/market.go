package models

import "time"

// OrderSide is buy or sell
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderStatus transitions only forward: open → filled | cancelled | expired
type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusExpired   OrderStatus = "expired"
)

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	return s != OrderStatusOpen
}

// MarketOrder is one entry in a per-(kingdom, resource) book. Placement
// escrows coin (buy) or stock (sell) in the owning city's ledger; the
// matcher and cancel/expiry are the only mutators after that.
type MarketOrder struct {
	ID           string      `json:"id" gorm:"primaryKey;type:uuid"`
	KingdomID    string      `json:"kingdom_id" gorm:"not null;index:idx_book"`
	CityID       string      `json:"city_id" gorm:"not null;index"`
	ResourceCode string      `json:"resource_code" gorm:"not null;index:idx_book;size:32"`
	Side         OrderSide   `json:"side" gorm:"not null;index:idx_book"`
	Price        int64       `json:"price" gorm:"not null"` // coin per unit
	Qty          int64       `json:"qty" gorm:"not null"`
	QtyFilled    int64       `json:"qty_filled" gorm:"not null;default:0"`
	Status       OrderStatus `json:"status" gorm:"not null;default:'open';index:idx_book"`
	ExpiresAt    *time.Time  `json:"expires_at,omitempty" gorm:"index"`
	CreatedAt    time.Time   `json:"created_at" gorm:"autoCreateTime;index"`
	UpdatedAt    time.Time   `json:"updated_at" gorm:"autoUpdateTime"`
}

// Remaining is the unfilled quantity.
func (o *MarketOrder) Remaining() int64 {
	return o.Qty - o.QtyFilled
}

// Trade records one match. Price is always the resting (maker) order's
// price. Immutable once written.
type Trade struct {
	ID           string    `json:"id" gorm:"primaryKey;type:uuid"`
	KingdomID    string    `json:"kingdom_id" gorm:"not null;index"`
	ResourceCode string    `json:"resource_code" gorm:"not null;index;size:32"`
	BuyOrderID   string    `json:"buy_order_id" gorm:"not null;index"`
	SellOrderID  string    `json:"sell_order_id" gorm:"not null;index"`
	BuyerCityID  string    `json:"buyer_city_id" gorm:"not null"`
	SellerCityID string    `json:"seller_city_id" gorm:"not null"`
	Price        int64     `json:"price" gorm:"not null"`
	Qty          int64     `json:"qty" gorm:"not null"`
	Fee          int64     `json:"fee" gorm:"default:0"` // charged to the taker
	Tax          int64     `json:"tax" gorm:"default:0"` // charged to each side
	CreatedAt    time.Time `json:"created_at" gorm:"autoCreateTime;index"`
}

// PriceHistory is the per-day aggregate per (kingdom, resource),
// produced by the history worker from raw trades.
type PriceHistory struct {
	ID           string    `json:"id" gorm:"primaryKey;type:uuid"`
	KingdomID    string    `json:"kingdom_id" gorm:"not null;index:idx_history_day,unique"`
	ResourceCode string    `json:"resource_code" gorm:"not null;index:idx_history_day,unique;size:32"`
	Day          time.Time `json:"day" gorm:"not null;index:idx_history_day,unique"`
	AvgPrice     float64   `json:"avg_price"`
	MinPrice     int64     `json:"min_price"`
	MaxPrice     int64     `json:"max_price"`
	Volume       int64     `json:"volume"`
	TradeCount   int64     `json:"trade_count"`

	Timestamps
}
