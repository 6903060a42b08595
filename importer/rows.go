package importer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/mmdatafocus/payroll_audit/utils"
	"github.com/shopspring/decimal"
)

// Row schemas. Values stay strings so every problem surfaces as a field error
// instead of a decode failure.
type staffRow struct {
	StaffNumber       string `csv:"staff_number" validate:"required,max=50"`
	FirstName         string `csv:"first_name" validate:"required,max=100"`
	MiddleName        string `csv:"middle_name" validate:"max=100"`
	LastName          string `csv:"last_name" validate:"required,max=100"`
	DateOfBirth       string `csv:"date_of_birth" validate:"required"`
	NationalId        string `csv:"national_id" validate:"required,max=50"`
	Gender            string `csv:"gender" validate:"required,oneof=male female other"`
	MaritalStatus     string `csv:"marital_status" validate:"required,oneof=single married divorced widowed"`
	Email             string `csv:"email" validate:"omitempty,email,max=255"`
	PhonePrimary      string `csv:"phone_primary" validate:"required,max=20,phone_region"`
	PhoneSecondary    string `csv:"phone_secondary" validate:"omitempty,max=20,phone_region"`
	Address           string `csv:"address" validate:"required"`
	City              string `csv:"city" validate:"required,max=100"`
	Region            string `csv:"region" validate:"required,max=100"`
	DepartmentId      string `csv:"department_id"`
	UnitId            string `csv:"unit_id"`
	JobTitleId        string `csv:"job_title_id"`
	StationId         string `csv:"station_id"`
	DateOfHire        string `csv:"date_of_hire" validate:"required"`
	EmploymentStatus  string `csv:"employment_status" validate:"required,oneof=active on_leave suspended terminated"`
	EmploymentType    string `csv:"employment_type" validate:"required,oneof=permanent contract temporary intern"`
	CurrentSalary     string `csv:"current_salary" validate:"required,numeric"`
	MobileMoneyNumber string `csv:"mobile_money_number" validate:"omitempty,max=20,phone_region"`
}

type bankDetailRow struct {
	StaffNumber   string `csv:"staff_number" validate:"required,max=50"`
	BankName      string `csv:"bank_name" validate:"required,max=150"`
	AccountNumber string `csv:"account_number" validate:"required,max=50"`
	AccountName   string `csv:"account_name" validate:"required,max=255"`
	AccountType   string `csv:"account_type" validate:"required,oneof=savings current checking"`
	Branch        string `csv:"branch" validate:"max=150"`
	IsPrimary     string `csv:"is_primary" validate:"omitempty,oneof=1 0 true false yes no y n"`
}

type paymentRow struct {
	StaffNumber  string `csv:"staff_number" validate:"required,max=50"`
	PaymentMonth string `csv:"payment_month" validate:"required,number"`
	PaymentYear  string `csv:"payment_year" validate:"required,number"`
	PaymentDate  string `csv:"payment_date"`
	BasicSalary  string `csv:"basic_salary" validate:"required,numeric"`
	Allowances   string `csv:"allowances" validate:"omitempty,numeric"`
	Bonuses      string `csv:"bonuses" validate:"omitempty,numeric"`
	Deductions   string `csv:"deductions" validate:"omitempty,numeric"`
	Tax          string `csv:"tax" validate:"required,numeric"`
	NetSalary    string `csv:"net_salary" validate:"required,numeric"`
}

// fields whose values are matched case-insensitively
var enumFields = []string{"gender", "marital_status", "employment_status", "employment_type", "account_type", "is_primary"}

// fields that may carry thousands separators
var amountFields = []string{"current_salary", "basic_salary", "allowances", "bonuses", "deductions", "tax", "net_salary"}

// RowError is one violated rule on one row.
type RowError struct {
	Field   string
	Message string
}

// normalizeValues lower-cases enum values and strips thousands separators from amounts.
func normalizeValues(values map[string]string) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = v
	}
	for _, f := range enumFields {
		if v, ok := out[f]; ok {
			out[f] = strings.ToLower(v)
		}
	}
	for _, f := range amountFields {
		if v, ok := out[f]; ok {
			out[f] = strings.ReplaceAll(v, ",", "")
		}
	}
	return out
}

func decodeRow(values map[string]string, dest interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "csv",
		Result:  dest,
	})
	if err != nil {
		return err
	}
	return dec.Decode(values)
}

// schemaErrors runs the validator and converts each failed field to a RowError.
func schemaErrors(v *validator.Validate, row interface{}) []RowError {
	err := v.Struct(row)
	if err == nil {
		return nil
	}
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return []RowError{{Message: err.Error()}}
	}
	out := make([]RowError, 0, len(ves))
	for _, fe := range ves {
		out = append(out, RowError{Field: fe.Field(), Message: utils.ValidationMessage(fe)})
	}
	return out
}

var dateLayouts = []string{"2006-01-02", "02/01/2006", "2006/01/02", "02-01-2006", "2 Jan 2006", "2006-01-02 15:04:05"}

// parseDate accepts ISO and day-first dates; the result is midnight UTC.
func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, strings.TrimSpace(s), time.UTC); err == nil {
			return utils.StartOfDay(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}

// amount parses an optional money value; absent means zero.
func amount(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := utils.ParseDecimal(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
