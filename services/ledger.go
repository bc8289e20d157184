package services

import (
	"errors"
	"fmt"

	"realm-sim-server/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Ledger helpers shared by every engine that touches CityResource rows.
// All of them expect to run inside the caller's transaction and under
// the owning entity's lock.

// saveLedgerRow writes a row's new balances guarded by the values it
// was read with. When another writer got there first the guard misses
// and the caller sees a retryable conflict instead of silently
// overwriting the other write.
func saveLedgerRow(tx *gorm.DB, row *models.CityResource, readAmount, readProtected int64) error {
	res := tx.Model(&models.CityResource{}).
		Where("id = ? AND amount = ? AND protected = ?", row.ID, readAmount, readProtected).
		Updates(map[string]interface{}{"amount": row.Amount, "protected": row.Protected})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: ledger row for %s/%s changed underneath the write", ErrConflict, row.CityID, row.ResourceCode)
	}
	return nil
}

// getOrCreateLedgerRow lazily creates the (city, resource) row on first
// use, per the row lifecycle: created on first credit.
func getOrCreateLedgerRow(tx *gorm.DB, cityID, code string) (*models.CityResource, error) {
	var row models.CityResource
	err := tx.Where("city_id = ? AND resource_code = ?", cityID, code).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row = models.CityResource{
			ID:           uuid.NewString(),
			CityID:       cityID,
			ResourceCode: code,
		}
		if err := tx.Create(&row).Error; err != nil {
			return nil, err
		}
		return &row, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// creditResource adds qty to the row, clamped at cap. Returns the
// overflow that was dropped.
func creditResource(tx *gorm.DB, cityID, code string, qty, cap int64) (int64, error) {
	if qty <= 0 {
		return 0, nil
	}
	row, err := getOrCreateLedgerRow(tx, cityID, code)
	if err != nil {
		return 0, err
	}
	overflow := int64(0)
	room := cap - row.Amount
	if room < 0 {
		room = 0
	}
	if qty > room {
		overflow = qty - room
		qty = room
	}
	readAmount, readProtected := row.Amount, row.Protected
	row.Amount += qty
	return overflow, saveLedgerRow(tx, row, readAmount, readProtected)
}

// debitAvailable removes qty from the spendable portion of the row.
// Fails with ErrInsufficientResources when the unprotected balance is
// short; the row is left untouched in that case.
func debitAvailable(tx *gorm.DB, cityID, code string, qty int64) error {
	if qty <= 0 {
		return nil
	}
	var row models.CityResource
	err := tx.Where("city_id = ? AND resource_code = ?", cityID, code).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %d %s", ErrInsufficientResources, qty, code)
	}
	if err != nil {
		return err
	}
	if row.Available() < qty {
		return fmt.Errorf("%w: need %d %s, have %d spendable", ErrInsufficientResources, qty, code, row.Available())
	}
	readAmount, readProtected := row.Amount, row.Protected
	row.Amount -= qty
	return saveLedgerRow(tx, &row, readAmount, readProtected)
}

// reserve moves qty of the row from spendable into the protected
// portion (order escrow). The amount itself does not change.
func reserve(tx *gorm.DB, cityID, code string, qty int64) error {
	if qty <= 0 {
		return nil
	}
	row, err := getOrCreateLedgerRow(tx, cityID, code)
	if err != nil {
		return err
	}
	if row.Available() < qty {
		return fmt.Errorf("%w: need %d %s to reserve, have %d spendable", ErrInsufficientResources, qty, code, row.Available())
	}
	readAmount, readProtected := row.Amount, row.Protected
	row.Protected += qty
	return saveLedgerRow(tx, row, readAmount, readProtected)
}

// release returns qty of protected stock to the spendable portion.
func release(tx *gorm.DB, cityID, code string, qty int64) error {
	if qty <= 0 {
		return nil
	}
	var row models.CityResource
	if err := tx.Where("city_id = ? AND resource_code = ?", cityID, code).First(&row).Error; err != nil {
		return err
	}
	readAmount, readProtected := row.Amount, row.Protected
	row.Protected -= qty
	if row.Protected < 0 {
		row.Protected = 0
	}
	return saveLedgerRow(tx, &row, readAmount, readProtected)
}

// spendReserved consumes qty out of the protected portion: both the
// amount and the protection drop together. Used by trade settlement.
func spendReserved(tx *gorm.DB, cityID, code string, qty int64) error {
	if qty <= 0 {
		return nil
	}
	var row models.CityResource
	if err := tx.Where("city_id = ? AND resource_code = ?", cityID, code).First(&row).Error; err != nil {
		return err
	}
	if row.Protected < qty || row.Amount < qty {
		return fmt.Errorf("%w: reserved %s short for settlement", ErrConflict, code)
	}
	readAmount, readProtected := row.Amount, row.Protected
	row.Protected -= qty
	row.Amount -= qty
	return saveLedgerRow(tx, &row, readAmount, readProtected)
}
