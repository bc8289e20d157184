package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// ResourceMap maps a resource code to a quantity. It replaces the old
// JSON-blob strings: stored as a jsonb column but typed and validated
// before it ever reaches a ledger.
type ResourceMap map[string]int64

func (m ResourceMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *ResourceMap) Scan(value interface{}) error {
	if value == nil {
		*m = ResourceMap{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type for ResourceMap: %T", value)
	}
	return json.Unmarshal(data, m)
}

func (m ResourceMap) GormDataType() string {
	return "jsonb"
}

// Validate rejects negative quantities and empty codes. Quantities of
// zero are allowed (they are dropped by Clone-style copies anyway).
func (m ResourceMap) Validate() error {
	for code, qty := range m {
		if code == "" {
			return fmt.Errorf("resource map contains empty code")
		}
		if qty < 0 {
			return fmt.Errorf("resource map has negative quantity for %s: %d", code, qty)
		}
	}
	return nil
}

// Clone returns an independent copy.
func (m ResourceMap) Clone() ResourceMap {
	out := make(ResourceMap, len(m))
	for code, qty := range m {
		out[code] = qty
	}
	return out
}
