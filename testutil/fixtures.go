package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/mmdatafocus/payroll_audit/models"
	"github.com/mmdatafocus/payroll_audit/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var staffSeq int

// StaffOption mutates a staff fixture before insert.
type StaffOption func(*models.Staff)

func WithStation(id int) StaffOption {
	return func(s *models.Staff) { s.StationId = &id }
}

func WithJobTitle(id int) StaffOption {
	return func(s *models.Staff) { s.JobTitleId = &id }
}

func WithSalary(v string) StaffOption {
	return func(s *models.Staff) { s.CurrentSalary = decimal.RequireFromString(v) }
}

func AsGhost(reason string) StaffOption {
	return func(s *models.Staff) {
		s.IsGhost = true
		s.GhostReason = reason
	}
}

func Inactive() StaffOption {
	return func(s *models.Staff) { s.IsActive = false }
}

func WithMobileMoney(number string) StaffOption {
	return func(s *models.Staff) { s.MobileMoneyNumber = &number }
}

func WithName(first, last string) StaffOption {
	return func(s *models.Staff) {
		s.FirstName = first
		s.LastName = last
	}
}

func CreateStaff(t testing.TB, db *gorm.DB, opts ...StaffOption) *models.Staff {
	t.Helper()
	staffSeq++
	s := &models.Staff{
		StaffNumber:      fmt.Sprintf("STF%05d", staffSeq),
		FirstName:        "Kofi",
		LastName:         fmt.Sprintf("Mensah%d", staffSeq),
		EmploymentStatus: models.EmploymentStatusActive,
		EmploymentType:   models.EmploymentTypePermanent,
		CurrentSalary:    decimal.NewFromInt(3000),
		IsActive:         true,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := db.Create(s).Error; err != nil {
		t.Fatalf("create staff: %v", err)
	}
	return s
}

func CreateStation(t testing.TB, db *gorm.DB, name string, lat, lng float64) *models.Station {
	t.Helper()
	st := &models.Station{Name: name, Code: name, Latitude: &lat, Longitude: &lng, ExpectedHeadcount: 10}
	if err := db.Create(st).Error; err != nil {
		t.Fatalf("create station: %v", err)
	}
	return st
}

// CreateGradedTitle creates a grade with the salary band and a job title on it.
func CreateGradedTitle(t testing.TB, db *gorm.DB, min, max string) *models.JobTitle {
	t.Helper()
	grade := &models.JobGrade{
		Name:      fmt.Sprintf("G-%s-%s", min, max),
		MinSalary: decimal.RequireFromString(min),
		MaxSalary: decimal.RequireFromString(max),
	}
	if err := db.Create(grade).Error; err != nil {
		t.Fatalf("create grade: %v", err)
	}
	title := &models.JobTitle{Name: "Officer " + grade.Name, JobGradeId: &grade.ID}
	if err := db.Create(title).Error; err != nil {
		t.Fatalf("create job title: %v", err)
	}
	return title
}

func CreateBank(t testing.TB, db *gorm.DB, name string) *models.Bank {
	t.Helper()
	b := &models.Bank{Name: name}
	if err := db.Create(b).Error; err != nil {
		t.Fatalf("create bank: %v", err)
	}
	return b
}

func CreateBankDetail(t testing.TB, db *gorm.DB, c utils.Cipher, h utils.LookupHasher, staffId, bankId int, account string) *models.BankDetail {
	t.Helper()
	bd := &models.BankDetail{
		StaffId:     staffId,
		BankId:      bankId,
		AccountName: "Test Account",
		AccountType: models.AccountTypeSavings,
		IsPrimary:   true,
		IsActive:    true,
	}
	if err := bd.SetAccountNumber(c, h, account); err != nil {
		t.Fatalf("encrypt account: %v", err)
	}
	if err := db.Create(bd).Error; err != nil {
		t.Fatalf("create bank detail: %v", err)
	}
	return bd
}

// CreatePayment stores a payment for the month containing paidOn, net == gross, no deductions.
func CreatePayment(t testing.TB, db *gorm.DB, staffId int, paidOn time.Time, net string) *models.MonthlyPayment {
	t.Helper()
	amount := decimal.RequireFromString(net)
	p := &models.MonthlyPayment{
		StaffId:         staffId,
		PaymentMonth:    utils.StartOfMonth(paidOn),
		PaymentDate:     paidOn,
		GrossAmount:     amount,
		DeductionsTotal: decimal.Zero,
		NetAmount:       amount,
		PaymentStatus:   models.PaymentStatusPaid,
	}
	if err := db.Create(p).Error; err != nil {
		t.Fatalf("create payment: %v", err)
	}
	return p
}

func CreateSession(t testing.TB, db *gorm.DB, name string, status models.HeadcountSessionStatus) *models.HeadcountSession {
	t.Helper()
	s := &models.HeadcountSession{Name: name, Status: status, CreatedBy: 1}
	if status == models.HeadcountSessionStatusInProgress {
		slot := 1
		s.ActiveSlot = &slot
	}
	if err := db.Create(s).Error; err != nil {
		t.Fatalf("create session: %v", err)
	}
	return s
}

func CreateVerification(t testing.TB, db *gorm.DB, sessionId, staffId int, status models.VerificationStatus, at time.Time, loc *models.VerificationLocation) *models.HeadcountVerification {
	t.Helper()
	v := &models.HeadcountVerification{
		HeadcountSessionId: sessionId,
		StaffId:            staffId,
		Status:             status,
		VerifiedAt:         at,
		VerifiedBy:         1,
	}
	if loc != nil {
		v.Location = datatypesLocation(*loc)
	} else {
		v.Location = datatypesLocation(models.VerificationLocation{})
	}
	if err := db.Create(v).Error; err != nil {
		t.Fatalf("create verification: %v", err)
	}
	return v
}

func CreateDiscrepancy(t testing.TB, db *gorm.DB, staffId int, typ models.DiscrepancyType, sev models.Severity, status models.DiscrepancyStatus, detectedAt time.Time) *models.Discrepancy {
	t.Helper()
	d := &models.Discrepancy{
		StaffId:         staffId,
		DiscrepancyType: typ,
		Severity:        sev,
		Status:          status,
		Description:     "fixture",
		DetectedBy:      SystemActor,
		DetectedAt:      detectedAt,
		IncidentAt:      &detectedAt,
	}
	if err := db.Create(d).Error; err != nil {
		t.Fatalf("create discrepancy: %v", err)
	}
	return d
}

func Float(v float64) *float64 { return &v }
