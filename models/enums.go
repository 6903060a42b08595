package models

import (
	"errors"
	"fmt"
)

type DiscrepancyType string

const (
	DiscrepancyTypeGhostEmployee         DiscrepancyType = "ghost_employee"
	DiscrepancyTypeDuplicateBankAccount  DiscrepancyType = "duplicate_bank_account"
	DiscrepancyTypeStationMismatch       DiscrepancyType = "station_mismatch"
	DiscrepancyTypeSalaryAnomaly         DiscrepancyType = "salary_anomaly"
	DiscrepancyTypeMissingData           DiscrepancyType = "missing_data"
	DiscrepancyTypeUnregisteredPersonnel DiscrepancyType = "unregistered_personnel"
	DiscrepancyTypeOther                 DiscrepancyType = "other"
)

var AllDiscrepancyTypes = []DiscrepancyType{
	DiscrepancyTypeGhostEmployee,
	DiscrepancyTypeDuplicateBankAccount,
	DiscrepancyTypeStationMismatch,
	DiscrepancyTypeSalaryAnomaly,
	DiscrepancyTypeMissingData,
	DiscrepancyTypeUnregisteredPersonnel,
	DiscrepancyTypeOther,
}

func (t DiscrepancyType) Label() string {
	switch t {
	case DiscrepancyTypeGhostEmployee:
		return "Ghost Employee"
	case DiscrepancyTypeDuplicateBankAccount:
		return "Duplicate Bank Account"
	case DiscrepancyTypeStationMismatch:
		return "Station Mismatch"
	case DiscrepancyTypeSalaryAnomaly:
		return "Salary Anomaly"
	case DiscrepancyTypeMissingData:
		return "Missing Data"
	case DiscrepancyTypeUnregisteredPersonnel:
		return "Unregistered Personnel"
	case DiscrepancyTypeOther:
		return "Other"
	}
	return ""
}

func (t DiscrepancyType) IsValid() bool { return t.Label() != "" }

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var AllSeverities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// Priority orders severities 1..4; 0 means the value is not a known severity.
func (s Severity) Priority() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

func (s Severity) Label() string {
	switch s {
	case SeverityLow:
		return "Low"
	case SeverityMedium:
		return "Medium"
	case SeverityHigh:
		return "High"
	case SeverityCritical:
		return "Critical"
	}
	return ""
}

func (s Severity) Color() string {
	switch s {
	case SeverityLow:
		return "blue"
	case SeverityMedium:
		return "yellow"
	case SeverityHigh:
		return "orange"
	case SeverityCritical:
		return "red"
	}
	return ""
}

func (s Severity) IsValid() bool { return s.Priority() > 0 }

type DiscrepancyStatus string

const (
	DiscrepancyStatusOpen        DiscrepancyStatus = "open"
	DiscrepancyStatusUnderReview DiscrepancyStatus = "under_review"
	DiscrepancyStatusResolved    DiscrepancyStatus = "resolved"
	DiscrepancyStatusDismissed   DiscrepancyStatus = "dismissed"
)

var AllDiscrepancyStatuses = []DiscrepancyStatus{
	DiscrepancyStatusOpen,
	DiscrepancyStatusUnderReview,
	DiscrepancyStatusResolved,
	DiscrepancyStatusDismissed,
}

func (s DiscrepancyStatus) Label() string {
	switch s {
	case DiscrepancyStatusOpen:
		return "Open"
	case DiscrepancyStatusUnderReview:
		return "Under Review"
	case DiscrepancyStatusResolved:
		return "Resolved"
	case DiscrepancyStatusDismissed:
		return "Dismissed"
	}
	return ""
}

func (s DiscrepancyStatus) Color() string {
	switch s {
	case DiscrepancyStatusOpen:
		return "red"
	case DiscrepancyStatusUnderReview:
		return "yellow"
	case DiscrepancyStatusResolved:
		return "green"
	case DiscrepancyStatusDismissed:
		return "gray"
	}
	return ""
}

// IsPending is true while the finding still awaits a decision.
func (s DiscrepancyStatus) IsPending() bool {
	return s == DiscrepancyStatusOpen || s == DiscrepancyStatusUnderReview
}

type ResolutionType string

const (
	ResolutionTypeCorrected        ResolutionType = "corrected"
	ResolutionTypeVerifiedValid    ResolutionType = "verified_valid"
	ResolutionTypeStaffRemoved     ResolutionType = "staff_removed"
	ResolutionTypeDataUpdated      ResolutionType = "data_updated"
	ResolutionTypeNoActionRequired ResolutionType = "no_action_required"
	ResolutionTypeEscalated        ResolutionType = "escalated"
)

func (t ResolutionType) Label() string {
	switch t {
	case ResolutionTypeCorrected:
		return "Corrected"
	case ResolutionTypeVerifiedValid:
		return "Verified Valid"
	case ResolutionTypeStaffRemoved:
		return "Staff Removed"
	case ResolutionTypeDataUpdated:
		return "Data Updated"
	case ResolutionTypeNoActionRequired:
		return "No Action Required"
	case ResolutionTypeEscalated:
		return "Escalated"
	}
	return ""
}

func (t ResolutionType) IsValid() bool { return t.Label() != "" }

type ResolutionOutcome string

const (
	ResolutionOutcomeResolved          ResolutionOutcome = "resolved"
	ResolutionOutcomePartiallyResolved ResolutionOutcome = "partially_resolved"
	ResolutionOutcomeUnresolved        ResolutionOutcome = "unresolved"
)

func (o ResolutionOutcome) Label() string {
	switch o {
	case ResolutionOutcomeResolved:
		return "Resolved"
	case ResolutionOutcomePartiallyResolved:
		return "Partially Resolved"
	case ResolutionOutcomeUnresolved:
		return "Unresolved"
	}
	return ""
}

func (o ResolutionOutcome) IsValid() bool { return o.Label() != "" }

type HeadcountSessionStatus string

const (
	HeadcountSessionStatusPlanned    HeadcountSessionStatus = "planned"
	HeadcountSessionStatusInProgress HeadcountSessionStatus = "in_progress"
	HeadcountSessionStatusPaused     HeadcountSessionStatus = "paused"
	HeadcountSessionStatusCompleted  HeadcountSessionStatus = "completed"
	HeadcountSessionStatusCancelled  HeadcountSessionStatus = "cancelled"
)

func (s HeadcountSessionStatus) Label() string {
	switch s {
	case HeadcountSessionStatusPlanned:
		return "Planned"
	case HeadcountSessionStatusInProgress:
		return "In Progress"
	case HeadcountSessionStatusPaused:
		return "Paused"
	case HeadcountSessionStatusCompleted:
		return "Completed"
	case HeadcountSessionStatusCancelled:
		return "Cancelled"
	}
	return ""
}

type VerificationStatus string

const (
	VerificationStatusPresent VerificationStatus = "present"
	VerificationStatusAbsent  VerificationStatus = "absent"
	VerificationStatusOnLeave VerificationStatus = "on_leave"
	VerificationStatusGhost   VerificationStatus = "ghost"
)

var AllVerificationStatuses = []VerificationStatus{
	VerificationStatusPresent,
	VerificationStatusAbsent,
	VerificationStatusOnLeave,
	VerificationStatusGhost,
}

func (s VerificationStatus) Label() string {
	switch s {
	case VerificationStatusPresent:
		return "Present"
	case VerificationStatusAbsent:
		return "Absent"
	case VerificationStatusOnLeave:
		return "On Leave"
	case VerificationStatusGhost:
		return "Ghost Employee"
	}
	return ""
}

func (s VerificationStatus) IsValid() bool { return s.Label() != "" }

// CountsAsMissing is true for statuses that extend a consecutive-absence run.
func (s VerificationStatus) CountsAsMissing() bool {
	switch s {
	case VerificationStatusAbsent, VerificationStatusGhost:
		return true
	case VerificationStatusPresent, VerificationStatusOnLeave:
		return false
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusApproved   PaymentStatus = "approved"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusPaid       PaymentStatus = "paid"
	PaymentStatusFailed     PaymentStatus = "failed"
)

func (s PaymentStatus) Label() string {
	switch s {
	case PaymentStatusPending:
		return "Pending"
	case PaymentStatusApproved:
		return "Approved"
	case PaymentStatusProcessing:
		return "Processing"
	case PaymentStatusPaid:
		return "Paid"
	case PaymentStatusFailed:
		return "Failed"
	}
	return ""
}

type PaymentElementType string

const (
	PaymentElementBasicSalary PaymentElementType = "basic_salary"
	PaymentElementAllowance   PaymentElementType = "allowance"
	PaymentElementDeduction   PaymentElementType = "deduction"
)

func (t PaymentElementType) Label() string {
	switch t {
	case PaymentElementBasicSalary:
		return "Basic Salary"
	case PaymentElementAllowance:
		return "Allowance"
	case PaymentElementDeduction:
		return "Deduction"
	}
	return ""
}

type EmploymentStatus string

const (
	EmploymentStatusActive     EmploymentStatus = "active"
	EmploymentStatusOnLeave    EmploymentStatus = "on_leave"
	EmploymentStatusSuspended  EmploymentStatus = "suspended"
	EmploymentStatusTerminated EmploymentStatus = "terminated"
)

type EmploymentType string

const (
	EmploymentTypePermanent EmploymentType = "permanent"
	EmploymentTypeContract  EmploymentType = "contract"
	EmploymentTypeTemporary EmploymentType = "temporary"
	EmploymentTypeIntern    EmploymentType = "intern"
)

type AccountType string

const (
	AccountTypeSavings  AccountType = "savings"
	AccountTypeCurrent  AccountType = "current"
	AccountTypeChecking AccountType = "checking"
)

type ImportType string

const (
	ImportTypeStaff           ImportType = "staff"
	ImportTypeBankDetails     ImportType = "bank_details"
	ImportTypeMonthlyPayments ImportType = "monthly_payments"
)

func (t ImportType) Label() string {
	switch t {
	case ImportTypeStaff:
		return "Staff Records"
	case ImportTypeBankDetails:
		return "Bank Details"
	case ImportTypeMonthlyPayments:
		return "Payroll Data"
	}
	return ""
}

// ParseImportType converts operator input to an import type.
func ParseImportType(s string) (ImportType, error) {
	switch s {
	case "staff":
		return ImportTypeStaff, nil
	case "bank_details":
		return ImportTypeBankDetails, nil
	case "monthly_payments", "payroll":
		return ImportTypeMonthlyPayments, nil
	}
	return "", fmt.Errorf("invalid import type %q", s)
}

type ImportStatus string

const (
	ImportStatusPending    ImportStatus = "pending"
	ImportStatusProcessing ImportStatus = "processing"
	ImportStatusCompleted  ImportStatus = "completed"
	ImportStatusFailed     ImportStatus = "failed"
)

// ImportedRecordKind tags the table an ImportedRecord points at.
type ImportedRecordKind string

const (
	ImportedRecordKindStaff          ImportedRecordKind = "staff"
	ImportedRecordKindBankDetail     ImportedRecordKind = "bank_detail"
	ImportedRecordKindMonthlyPayment ImportedRecordKind = "monthly_payment"
)

type ImportedRecordStatus string

const (
	ImportedRecordStatusProcessed  ImportedRecordStatus = "processed"
	ImportedRecordStatusRolledBack ImportedRecordStatus = "rolled_back"
)

type JobRunStatus string

const (
	JobRunStatusRunning   JobRunStatus = "running"
	JobRunStatusCompleted JobRunStatus = "completed"
	JobRunStatusFailed    JobRunStatus = "failed"
)

var errUnknownEnum = errors.New("unknown enum value")

// ParseSeverity converts operator input to a severity.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(s)
	if !sev.IsValid() {
		return "", fmt.Errorf("%w: severity %q", errUnknownEnum, s)
	}
	return sev, nil
}
