package importer

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/mmdatafocus/payroll_audit/models"
	"github.com/mmdatafocus/payroll_audit/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// record is a validated row ready to be written.
type record struct {
	kind     models.ImportedRecordKind
	staff    *models.Staff
	bank     *models.BankDetail
	primary  bool
	payment  *models.MonthlyPayment
	elements []models.PaymentElement
}

// prepare validates row for the import type. RowErrors are data problems;
// the error return is reserved for store failures.
func (p *Processor) prepare(tx *gorm.DB, lk *lookups, t models.ImportType, row Row) (*record, []RowError, error) {
	values := normalizeValues(row.Values)
	switch t {
	case models.ImportTypeStaff:
		return p.prepareStaff(tx, lk, values)
	case models.ImportTypeBankDetails:
		return p.prepareBankDetail(tx, lk, values)
	case models.ImportTypeMonthlyPayments:
		return p.preparePayment(tx, lk, values)
	}
	return nil, nil, fmt.Errorf("invalid import type: %s", t)
}

func (p *Processor) prepareStaff(tx *gorm.DB, lk *lookups, values map[string]string) (*record, []RowError, error) {
	var r staffRow
	if err := decodeRow(values, &r); err != nil {
		return nil, nil, err
	}
	errs := schemaErrors(p.validate, &r)
	today := utils.StartOfDay(p.Clock.Now())

	var dob, hired time.Time
	if r.DateOfBirth != "" {
		d, err := parseDate(r.DateOfBirth)
		switch {
		case err != nil:
			errs = append(errs, RowError{"date_of_birth", "The date of birth is not a valid date."})
		case !d.Before(today):
			errs = append(errs, RowError{"date_of_birth", "The date of birth must be a date before today."})
		}
		dob = d
	}
	if r.DateOfHire != "" {
		d, err := parseDate(r.DateOfHire)
		switch {
		case err != nil:
			errs = append(errs, RowError{"date_of_hire", "The date of hire is not a valid date."})
		case d.After(today):
			errs = append(errs, RowError{"date_of_hire", "The date of hire must be a date before or equal to today."})
		}
		hired = d
	}
	salary := amount(r.CurrentSalary)
	if salary.IsNegative() {
		errs = append(errs, RowError{"current_salary", "The current salary must be at least 0."})
	}

	if r.StaffNumber != "" {
		id, err := lk.staffId(tx, r.StaffNumber)
		if err != nil {
			return nil, nil, err
		}
		if id > 0 {
			errs = append(errs, RowError{"staff_number", fmt.Sprintf("Staff number %s already exists in the database.", r.StaffNumber)})
		}
	}
	if r.NationalId != "" {
		taken, err := lk.nationalIdTaken(tx, r.NationalId)
		if err != nil {
			return nil, nil, err
		}
		if taken {
			errs = append(errs, RowError{"national_id", fmt.Sprintf("National ID %s already exists in the database.", r.NationalId)})
		}
	}

	refs := map[string]*int{}
	for _, ref := range []reference{departmentRef, unitRef, jobTitleRef, stationRef} {
		value := values[ref.field]
		if value == "" {
			continue
		}
		id, err := lk.resolve(tx, ref, value)
		if err != nil {
			return nil, nil, err
		}
		if id == 0 {
			errs = append(errs, lk.notFound(ref, value))
			continue
		}
		refs[ref.field] = &id
	}
	if len(errs) > 0 {
		return nil, errs, nil
	}

	primary, _ := utils.NormalizePhoneNumber(r.PhonePrimary, p.PhoneRegion)
	staff := &models.Staff{
		StaffNumber:      r.StaffNumber,
		FirstName:        r.FirstName,
		MiddleName:       r.MiddleName,
		LastName:         r.LastName,
		DateOfBirth:      &dob,
		Gender:           r.Gender,
		NationalId:       &r.NationalId,
		MaritalStatus:    r.MaritalStatus,
		Email:            r.Email,
		PhonePrimary:     primary,
		Address:          r.Address,
		City:             r.City,
		Region:           r.Region,
		DepartmentId:     refs[departmentRef.field],
		UnitId:           refs[unitRef.field],
		JobTitleId:       refs[jobTitleRef.field],
		StationId:        refs[stationRef.field],
		DateOfHire:       &hired,
		EmploymentStatus: models.EmploymentStatus(r.EmploymentStatus),
		EmploymentType:   models.EmploymentType(r.EmploymentType),
		CurrentSalary:    salary,
		IsActive:         models.EmploymentStatus(r.EmploymentStatus) != models.EmploymentStatusTerminated,
	}
	if r.PhoneSecondary != "" {
		staff.PhoneSecondary, _ = utils.NormalizePhoneNumber(r.PhoneSecondary, p.PhoneRegion)
	}
	if r.MobileMoneyNumber != "" {
		momo, _ := utils.NormalizePhoneNumber(r.MobileMoneyNumber, p.PhoneRegion)
		staff.MobileMoneyNumber = &momo
	}
	return &record{kind: models.ImportedRecordKindStaff, staff: staff}, nil, nil
}

func (p *Processor) prepareBankDetail(tx *gorm.DB, lk *lookups, values map[string]string) (*record, []RowError, error) {
	var r bankDetailRow
	if err := decodeRow(values, &r); err != nil {
		return nil, nil, err
	}
	errs := schemaErrors(p.validate, &r)

	staffId := 0
	if r.StaffNumber != "" {
		id, err := lk.staffId(tx, r.StaffNumber)
		if err != nil {
			return nil, nil, err
		}
		if id == 0 {
			errs = append(errs, RowError{"staff_number", fmt.Sprintf("Staff number %s not found in the database.", r.StaffNumber)})
		}
		staffId = id
	}
	if r.AccountNumber != "" {
		if !models.ValidateAccountNumber(r.AccountNumber) {
			errs = append(errs, RowError{"account_number", "The account number must be 10 to 16 digits."})
		} else {
			taken, err := lk.accountTaken(tx, p.Hasher.Hash(utils.NormalizeAccountNumber(r.AccountNumber)))
			if err != nil {
				return nil, nil, err
			}
			if taken {
				errs = append(errs, RowError{"account_number", fmt.Sprintf("Account number %s already exists in the database.", utils.MaskAccountNumber(r.AccountNumber))})
			}
		}
	}
	bankId := 0
	if r.BankName != "" {
		id, err := lk.resolve(tx, bankRef, r.BankName)
		if err != nil {
			return nil, nil, err
		}
		if id == 0 {
			errs = append(errs, lk.notFound(bankRef, r.BankName))
		}
		bankId = id
	}
	if len(errs) > 0 {
		return nil, errs, nil
	}

	detail := &models.BankDetail{
		StaffId:     staffId,
		BankId:      bankId,
		AccountName: r.AccountName,
		AccountType: models.AccountType(r.AccountType),
		Branch:      r.Branch,
		IsActive:    true,
	}
	if err := detail.SetAccountNumber(p.Cipher, p.Hasher, r.AccountNumber); err != nil {
		return nil, nil, err
	}
	return &record{kind: models.ImportedRecordKindBankDetail, bank: detail, primary: parseBool(r.IsPrimary)}, nil, nil
}

func (p *Processor) preparePayment(tx *gorm.DB, lk *lookups, values map[string]string) (*record, []RowError, error) {
	var r paymentRow
	if err := decodeRow(values, &r); err != nil {
		return nil, nil, err
	}
	errs := schemaErrors(p.validate, &r)

	month, _ := strconv.Atoi(r.PaymentMonth)
	year, _ := strconv.Atoi(r.PaymentYear)
	if r.PaymentMonth != "" && (month < 1 || month > 12) {
		errs = append(errs, RowError{"payment_month", "The payment month must be between 1 and 12."})
	}
	if r.PaymentYear != "" && (year < 2000 || year > 2100) {
		errs = append(errs, RowError{"payment_year", "The payment year must be between 2000 and 2100."})
	}
	var paymentMonth time.Time
	if month >= 1 && month <= 12 && year >= 2000 && year <= 2100 {
		paymentMonth = time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	}
	paidOn := utils.StartOfDay(utils.EndOfMonth(paymentMonth))
	if r.PaymentDate != "" {
		d, err := parseDate(r.PaymentDate)
		if err != nil {
			errs = append(errs, RowError{"payment_date", "The payment date is not a valid date."})
		}
		paidOn = d
	}

	basic, allowances, bonuses := amount(r.BasicSalary), amount(r.Allowances), amount(r.Bonuses)
	deductions, tax, net := amount(r.Deductions), amount(r.Tax), amount(r.NetSalary)
	for field, v := range map[string]decimal.Decimal{
		"basic_salary": basic, "allowances": allowances, "bonuses": bonuses,
		"deductions": deductions, "tax": tax, "net_salary": net,
	} {
		if v.IsNegative() {
			errs = append(errs, RowError{field, fmt.Sprintf("The %s must be at least 0.", field)})
		}
	}
	if r.BasicSalary != "" && r.Tax != "" && r.NetSalary != "" {
		expected := basic.Add(allowances).Add(bonuses).Sub(deductions).Sub(tax)
		if expected.Sub(net).Abs().GreaterThan(models.PaymentTolerance) {
			errs = append(errs, RowError{"net_salary", fmt.Sprintf("Net salary calculation mismatch. Expected %s, got %s.", expected.StringFixed(2), net.StringFixed(2))})
		}
	}

	staffId := 0
	if r.StaffNumber != "" {
		id, err := lk.staffId(tx, r.StaffNumber)
		if err != nil {
			return nil, nil, err
		}
		if id == 0 {
			errs = append(errs, RowError{"staff_number", fmt.Sprintf("Staff number %s not found in the database.", r.StaffNumber)})
		}
		staffId = id
	}
	if staffId > 0 && !paymentMonth.IsZero() {
		exists, err := lk.paymentExists(tx, staffId, paymentMonth)
		if err != nil {
			return nil, nil, err
		}
		if exists {
			errs = append(errs, RowError{"payment_month", fmt.Sprintf("A payment for staff number %s for %s already exists.", r.StaffNumber, paymentMonth.Format("January 2006"))})
		}
	}
	if len(errs) > 0 {
		return nil, errs, nil
	}

	payment := &models.MonthlyPayment{
		StaffId:       staffId,
		PaymentMonth:  paymentMonth,
		PaymentDate:   paidOn,
		PaymentStatus: models.PaymentStatusPaid,
		PaidAt:        &paidOn,
	}
	elements := []models.PaymentElement{{ElementType: models.PaymentElementBasicSalary, Description: "Basic Salary", Amount: basic}}
	for _, e := range []struct {
		typ  models.PaymentElementType
		desc string
		v    decimal.Decimal
	}{
		{models.PaymentElementAllowance, "Allowances", allowances},
		{models.PaymentElementAllowance, "Bonuses", bonuses},
		{models.PaymentElementDeduction, "Deductions", deductions},
		{models.PaymentElementDeduction, "Tax", tax},
	} {
		if e.v.IsPositive() {
			elements = append(elements, models.PaymentElement{ElementType: e.typ, Description: e.desc, Amount: e.v})
		}
	}
	return &record{kind: models.ImportedRecordKindMonthlyPayment, payment: payment, elements: elements}, nil, nil
}

// persist writes a prepared record and returns its id.
func (r *record) persist(ctx context.Context, tx *gorm.DB) (int, error) {
	switch r.kind {
	case models.ImportedRecordKindStaff:
		if err := tx.Create(r.staff).Error; err != nil {
			return 0, err
		}
		return r.staff.ID, nil
	case models.ImportedRecordKindBankDetail:
		if err := tx.Create(r.bank).Error; err != nil {
			return 0, err
		}
		if r.primary {
			if err := r.bank.MakePrimary(ctx, tx); err != nil {
				return 0, err
			}
		}
		return r.bank.ID, nil
	case models.ImportedRecordKindMonthlyPayment:
		if err := tx.Create(r.payment).Error; err != nil {
			return 0, err
		}
		for i := range r.elements {
			r.elements[i].MonthlyPaymentId = r.payment.ID
		}
		if err := tx.Create(&r.elements).Error; err != nil {
			return 0, err
		}
		if err := r.payment.CalculateTotals(ctx, tx); err != nil {
			return 0, err
		}
		return r.payment.ID, nil
	}
	return 0, fmt.Errorf("unknown record kind %q", r.kind)
}

// remember stages a successful write in the caches so later rows in the file see it.
func (r *record) remember(lk *lookups) {
	switch r.kind {
	case models.ImportedRecordKindStaff:
		stage(lk, lk.staff, r.staff.StaffNumber, r.staff.ID)
		if r.staff.NationalId != nil {
			stage(lk, lk.national, *r.staff.NationalId, true)
		}
	case models.ImportedRecordKindBankDetail:
		stage(lk, lk.accounts, r.bank.AccountNumberHash, true)
	case models.ImportedRecordKindMonthlyPayment:
		stage(lk, lk.payments, paymentKey(r.payment.StaffId, r.payment.PaymentMonth), true)
	}
}
