// Package importer turns uploaded staff, bank detail and payroll spreadsheets
// into domain rows, keeping an ImportHistory audit trail that can be rolled back.
package importer

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/mmdatafocus/payroll_audit/models"
)

// IgnoreColumn marks a header the operator chose to skip.
const IgnoreColumn = "__ignore__"

type Column struct {
	Field    string `json:"field"`
	Label    string `json:"label"`
	Required bool   `json:"required"`
}

var staffColumns = []Column{
	{"staff_number", "Staff Number", true},
	{"first_name", "First Name", true},
	{"middle_name", "Middle Name (Optional)", false},
	{"last_name", "Last Name", true},
	{"date_of_birth", "Date of Birth", true},
	{"national_id", "National ID", true},
	{"gender", "Gender", true},
	{"marital_status", "Marital Status", true},
	{"email", "Email (Optional)", false},
	{"phone_primary", "Primary Phone", true},
	{"phone_secondary", "Secondary Phone (Optional)", false},
	{"address", "Address", true},
	{"city", "City", true},
	{"region", "Region", true},
	{"department_id", "Department", false},
	{"unit_id", "Unit", false},
	{"job_title_id", "Job Title", false},
	{"station_id", "Station", false},
	{"date_of_hire", "Date of Hire", true},
	{"employment_status", "Employment Status", true},
	{"employment_type", "Employment Type", true},
	{"current_salary", "Current Salary", true},
	{"mobile_money_number", "Mobile Money Number (Optional)", false},
}

var bankDetailColumns = []Column{
	{"staff_number", "Staff Number", true},
	{"bank_name", "Bank Name", true},
	{"account_number", "Account Number", true},
	{"account_name", "Account Name", true},
	{"account_type", "Account Type", true},
	{"branch", "Branch (Optional)", false},
	{"is_primary", "Primary Account", false},
}

var paymentColumns = []Column{
	{"staff_number", "Staff Number", true},
	{"payment_month", "Payment Month", true},
	{"payment_year", "Payment Year", true},
	{"payment_date", "Payment Date (Optional)", false},
	{"basic_salary", "Basic Salary", true},
	{"allowances", "Allowances (Optional)", false},
	{"bonuses", "Bonuses (Optional)", false},
	{"deductions", "Deductions (Optional)", false},
	{"tax", "Tax", true},
	{"net_salary", "Net Salary", true},
}

// ExpectedColumns lists the target fields for an import type in display order.
func ExpectedColumns(t models.ImportType) ([]Column, error) {
	switch t {
	case models.ImportTypeStaff:
		return staffColumns, nil
	case models.ImportTypeBankDetails:
		return bankDetailColumns, nil
	case models.ImportTypeMonthlyPayments:
		return paymentColumns, nil
	}
	return nil, fmt.Errorf("invalid import type: %s", t)
}

var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9]`)

func normalizeColumnName(name string) string {
	return strings.ToLower(nonAlphanumeric.ReplaceAllString(name, ""))
}

// AutoMapColumns proposes a field for every header: an exact normalized match on
// field or label first, then containment either way. Unmatched headers map to "".
func AutoMapColumns(headers []string, expected []Column) map[string]string {
	mapping := make(map[string]string, len(headers))
	for _, header := range headers {
		h := normalizeColumnName(header)
		mapping[header] = ""
		if h == "" {
			continue
		}
		if field, ok := exactMatch(h, expected); ok {
			mapping[header] = field
			continue
		}
		for _, col := range expected {
			f, l := normalizeColumnName(col.Field), normalizeColumnName(col.Label)
			if strings.Contains(h, f) || strings.Contains(f, h) || strings.Contains(h, l) || strings.Contains(l, h) {
				mapping[header] = col.Field
				break
			}
		}
	}
	return mapping
}

func exactMatch(h string, expected []Column) (string, bool) {
	for _, col := range expected {
		if normalizeColumnName(col.Label) == h || normalizeColumnName(col.Field) == h {
			return col.Field, true
		}
	}
	return "", false
}

// MappingError lists everything wrong with a column mapping at once.
type MappingError struct {
	Unresolved      []string
	UnknownFields   []string
	DuplicateFields []string
	MissingRequired []string
}

func (e *MappingError) Error() string {
	var parts []string
	if len(e.Unresolved) > 0 {
		parts = append(parts, "unmapped columns: "+strings.Join(e.Unresolved, ", "))
	}
	if len(e.UnknownFields) > 0 {
		parts = append(parts, "unknown fields: "+strings.Join(e.UnknownFields, ", "))
	}
	if len(e.DuplicateFields) > 0 {
		parts = append(parts, "fields mapped more than once: "+strings.Join(e.DuplicateFields, ", "))
	}
	if len(e.MissingRequired) > 0 {
		parts = append(parts, "required fields not mapped: "+strings.Join(e.MissingRequired, ", "))
	}
	return "invalid column mapping: " + strings.Join(parts, "; ")
}

// ValidateMapping checks a confirmed header->field mapping before processing.
// Every header must be resolved to a field or IgnoreColumn.
func ValidateMapping(t models.ImportType, mapping map[string]string) error {
	expected, err := ExpectedColumns(t)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(expected))
	for _, c := range expected {
		known[c.Field] = true
	}

	e := &MappingError{}
	used := map[string]int{}
	for header, field := range mapping {
		switch {
		case field == "":
			e.Unresolved = append(e.Unresolved, header)
		case field == IgnoreColumn:
		case !known[field]:
			e.UnknownFields = append(e.UnknownFields, field)
		default:
			used[field]++
		}
	}
	for field, n := range used {
		if n > 1 {
			e.DuplicateFields = append(e.DuplicateFields, field)
		}
	}
	for _, c := range expected {
		if c.Required && used[c.Field] == 0 {
			e.MissingRequired = append(e.MissingRequired, c.Field)
		}
	}
	if len(e.Unresolved)+len(e.UnknownFields)+len(e.DuplicateFields)+len(e.MissingRequired) == 0 {
		return nil
	}
	sort.Strings(e.Unresolved)
	sort.Strings(e.UnknownFields)
	sort.Strings(e.DuplicateFields)
	return e
}
