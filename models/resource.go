package models

// ResourceType classifies a resource for UI grouping and fuel binding
type ResourceType string

const (
	ResourceTypeRaw     ResourceType = "raw"
	ResourceTypeRefined ResourceType = "refined"
	ResourceTypeSpecial ResourceType = "special"
	ResourceTypeFuel    ResourceType = "fuel"
)

// ResourceCoin is the currency code used for market settlement, upkeep
// and upgrade costs. It lives in the same ledger as every other resource.
const ResourceCoin = "coin"

// Resource is static reference data. Codes are immutable once any
// ledger row references them.
type Resource struct {
	Code      string       `json:"code" gorm:"primaryKey;size:32"`
	Name      string       `json:"name" gorm:"not null"`
	Type      ResourceType `json:"type" gorm:"not null;default:'raw'"`
	BaseValue int64        `json:"base_value" gorm:"default:1"`
}

// CityResource is one (city, resource) ledger row. Amount is never
// negative; Protected is the slice reserved by resting sell orders and
// coin escrow for resting buys, untouchable by production upkeep,
// contributions or raids.
type CityResource struct {
	ID           string `json:"id" gorm:"primaryKey;type:uuid"`
	CityID       string `json:"city_id" gorm:"not null;index:idx_city_resource,unique"`
	ResourceCode string `json:"resource_code" gorm:"not null;index:idx_city_resource,unique;size:32"`
	Amount       int64  `json:"amount" gorm:"not null;default:0"`
	Protected    int64  `json:"protected" gorm:"not null;default:0"`

	Timestamps
}

// Available is the spendable portion of the row.
func (r *CityResource) Available() int64 {
	avail := r.Amount - r.Protected
	if avail < 0 {
		return 0
	}
	return avail
}
