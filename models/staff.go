package models

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Staff struct {
	ID                int              `gorm:"primary_key" json:"id"`
	StaffNumber       string           `gorm:"size:50;uniqueIndex;not null" json:"staff_number"`
	FirstName         string           `gorm:"size:100;not null" json:"first_name"`
	MiddleName        string           `gorm:"size:100" json:"middle_name"`
	LastName          string           `gorm:"size:100;not null" json:"last_name"`
	DateOfBirth       *time.Time       `json:"date_of_birth"`
	Gender            string           `gorm:"size:10" json:"gender"`
	NationalId        *string          `gorm:"size:50;uniqueIndex" json:"national_id"`
	MaritalStatus     string           `gorm:"size:20" json:"marital_status"`
	Email             string           `gorm:"size:150" json:"email"`
	PhonePrimary      string           `gorm:"size:20" json:"phone_primary"`
	PhoneSecondary    string           `gorm:"size:20" json:"phone_secondary"`
	Address           string           `gorm:"size:255" json:"address"`
	City              string           `gorm:"size:100" json:"city"`
	Region            string           `gorm:"size:100" json:"region"`
	DepartmentId      *int             `gorm:"index" json:"department_id"`
	UnitId            *int             `gorm:"index" json:"unit_id"`
	JobTitleId        *int             `gorm:"index" json:"job_title_id"`
	JobTitle          *JobTitle        `gorm:"foreignKey:JobTitleId" json:"job_title,omitempty"`
	StationId         *int             `gorm:"index" json:"station_id"`
	Station           *Station         `gorm:"foreignKey:StationId" json:"station,omitempty"`
	DateOfHire        *time.Time       `json:"date_of_hire"`
	TerminationDate   *time.Time       `json:"termination_date"`
	EmploymentStatus  EmploymentStatus `gorm:"size:20;not null" json:"employment_status"`
	EmploymentType    EmploymentType   `gorm:"size:20" json:"employment_type"`
	CurrentSalary     decimal.Decimal  `gorm:"type:decimal(15,2);not null" json:"current_salary"`
	MobileMoneyNumber *string          `gorm:"size:20;index" json:"mobile_money_number"`
	IsActive          bool             `gorm:"not null;index" json:"is_active"`
	IsGhost           bool             `gorm:"not null;index" json:"is_ghost"`
	GhostReason       string           `gorm:"type:text" json:"ghost_reason"`
	IsVerified        bool             `gorm:"not null" json:"is_verified"`
	LastVerifiedAt    *time.Time       `json:"last_verified_at"`
	CreatedAt         time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt         gorm.DeletedAt   `gorm:"index" json:"-"`
}

func (Staff) TableName() string { return "staff" }

func (s *Staff) FullName() string {
	parts := []string{s.FirstName, s.MiddleName, s.LastName}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}

// MarkAsVerified records a successful physical verification.
func (s *Staff) MarkAsVerified(ctx context.Context, tx *gorm.DB, at time.Time) error {
	if err := tx.WithContext(ctx).Model(s).Updates(map[string]interface{}{
		"is_verified":      true,
		"last_verified_at": at,
	}).Error; err != nil {
		return err
	}
	s.IsVerified = true
	s.LastVerifiedAt = &at
	return nil
}

// FlagAsGhost sets is_ghost and clears is_verified in one update.
func (s *Staff) FlagAsGhost(ctx context.Context, tx *gorm.DB, reason string) error {
	if err := tx.WithContext(ctx).Model(s).Updates(map[string]interface{}{
		"is_ghost":     true,
		"ghost_reason": reason,
		"is_verified":  false,
	}).Error; err != nil {
		return err
	}
	s.IsGhost = true
	s.GhostReason = reason
	s.IsVerified = false
	return nil
}

// AgeAt returns completed years, or -1 when the date of birth is unknown.
func (s *Staff) AgeAt(now time.Time) int {
	if s.DateOfBirth == nil {
		return -1
	}
	return completedYears(*s.DateOfBirth, now)
}

// YearsOfServiceAt returns completed years since hire, or -1 when unknown.
func (s *Staff) YearsOfServiceAt(now time.Time) int {
	if s.DateOfHire == nil {
		return -1
	}
	return completedYears(*s.DateOfHire, now)
}

func completedYears(from, to time.Time) int {
	years := to.Year() - from.Year()
	if to.Month() < from.Month() || (to.Month() == from.Month() && to.Day() < from.Day()) {
		years--
	}
	return years
}
