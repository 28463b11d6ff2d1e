package vault

import (
	"errors"

	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) GetVault(owner string) (*Vault, error) {
	var v Vault
	if err := d.db.Where("owner = ?", owner).First(&v).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &v, nil
}

func (d *Database) GetCollateralPositions(owner string) ([]CollateralPosition, error) {
	var positions []CollateralPosition
	if err := d.db.Where("owner = ?", owner).Order("asset_id asc").Find(&positions).Error; err != nil {
		return nil, err
	}
	return positions, nil
}

func (d *Database) GetDebtPositions(owner string) ([]DebtPosition, error) {
	var positions []DebtPosition
	if err := d.db.Where("owner = ?", owner).Order("asset_id asc").Find(&positions).Error; err != nil {
		return nil, err
	}
	return positions, nil
}

func (d *Database) ListVaults() ([]Vault, error) {
	var vaults []Vault
	if err := d.db.Order("owner asc").Find(&vaults).Error; err != nil {
		return nil, err
	}
	return vaults, nil
}

func (d *Database) GetLiquidations(owner string) ([]LiquidationRecord, error) {
	var records []LiquidationRecord
	if err := d.db.Where("vault_owner = ?", owner).Order("created_at asc").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// CommitOperation writes the full post-state of one vault operation
// in a single transaction: updated positions (rows reaching zero are
// removed), the vault row with refreshed cached fields, and the
// liquidation record when one was produced. Either everything lands
// or nothing does.
func (d *Database) CommitOperation(vault *Vault, collateral []CollateralPosition, debt []DebtPosition, record *LiquidationRecord) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		for i := range collateral {
			if err := savePosition(tx, &collateral[i].Model, collateral[i].Amount.IsZero(), &collateral[i]); err != nil {
				return err
			}
		}
		for i := range debt {
			if err := savePosition(tx, &debt[i].Model, debt[i].Amount.IsZero(), &debt[i]); err != nil {
				return err
			}
		}

		if vault.ID == 0 {
			if err := tx.Create(vault).Error; err != nil {
				return err
			}
		} else if err := tx.Save(vault).Error; err != nil {
			return err
		}

		if record != nil {
			if err := tx.Create(record).Error; err != nil {
				return err
			}
		}

		return nil
	})
}

func savePosition(tx *gorm.DB, model *gorm.Model, empty bool, row interface{}) error {
	switch {
	case empty && model.ID == 0:
		return nil
	case empty:
		return tx.Unscoped().Delete(row).Error
	case model.ID == 0:
		return tx.Create(row).Error
	default:
		return tx.Save(row).Error
	}
}
