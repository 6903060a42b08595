package models

import (
	"context"
	"time"
	"unicode"

	"github.com/mmdatafocus/payroll_audit/utils"
	"gorm.io/gorm"
)

type BankDetail struct {
	ID                int            `gorm:"primary_key" json:"id"`
	StaffId           int            `gorm:"index;not null" json:"staff_id"`
	Staff             *Staff         `gorm:"foreignKey:StaffId" json:"staff,omitempty"`
	BankId            int            `gorm:"index;not null" json:"bank_id"`
	Bank              *Bank          `gorm:"foreignKey:BankId" json:"bank,omitempty"`
	AccountNumber     string         `gorm:"type:text;not null" json:"-"`
	AccountNumberHash string         `gorm:"size:64;index" json:"-"`
	AccountName       string         `gorm:"size:150" json:"account_name"`
	AccountType       AccountType    `gorm:"size:20" json:"account_type"`
	Branch            string         `gorm:"size:150" json:"branch"`
	IsPrimary         bool           `gorm:"not null" json:"is_primary"`
	IsActive          bool           `gorm:"not null;index" json:"is_active"`
	DeactivatedAt     *time.Time     `json:"deactivated_at"`
	CreatedAt         time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"-"`
}

// SetAccountNumber stores the ciphertext and the lookup hash of plain.
func (b *BankDetail) SetAccountNumber(c utils.Cipher, h utils.LookupHasher, plain string) error {
	plain = utils.NormalizeAccountNumber(plain)
	enc, err := c.Encrypt(plain)
	if err != nil {
		return err
	}
	b.AccountNumber = enc
	b.AccountNumberHash = h.Hash(plain)
	return nil
}

func (b *BankDetail) DecryptAccountNumber(c utils.Cipher) (string, error) {
	return c.Decrypt(b.AccountNumber)
}

// ValidateAccountNumber accepts 10 to 16 digits after stripping spaces and dashes.
func ValidateAccountNumber(s string) bool {
	s = utils.NormalizeAccountNumber(s)
	if len(s) < 10 || len(s) > 16 {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// MakePrimary clears the flag on the staff member's other accounts, then sets it here.
func (b *BankDetail) MakePrimary(ctx context.Context, tx *gorm.DB) error {
	err := tx.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&BankDetail{}).
			Where("staff_id = ? AND id <> ?", b.StaffId, b.ID).
			Update("is_primary", false).Error; err != nil {
			return err
		}
		return tx.Model(b).Update("is_primary", true).Error
	})
	if err != nil {
		return err
	}
	b.IsPrimary = true
	return nil
}

func (b *BankDetail) Activate(ctx context.Context, tx *gorm.DB) error {
	if err := tx.WithContext(ctx).Model(b).Updates(map[string]interface{}{
		"is_active":      true,
		"deactivated_at": nil,
	}).Error; err != nil {
		return err
	}
	b.IsActive = true
	b.DeactivatedAt = nil
	return nil
}

func (b *BankDetail) Deactivate(ctx context.Context, tx *gorm.DB, at time.Time) error {
	if err := tx.WithContext(ctx).Model(b).Updates(map[string]interface{}{
		"is_active":      false,
		"deactivated_at": at,
	}).Error; err != nil {
		return err
	}
	b.IsActive = false
	b.DeactivatedAt = &at
	return nil
}
