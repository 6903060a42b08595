package models_test

import (
	"context"
	"errors"
	"testing"

	"github.com/mmdatafocus/payroll_audit/models"
	"github.com/mmdatafocus/payroll_audit/testutil"
	"github.com/shopspring/decimal"
)

func TestCalculateTotals(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	staff := testutil.CreateStaff(t, db)
	p := testutil.CreatePayment(t, db, staff.ID, testutil.Now, "0")

	elements := []models.PaymentElement{
		{MonthlyPaymentId: p.ID, ElementType: models.PaymentElementBasicSalary, Amount: testutil.Money("2500.00")},
		{MonthlyPaymentId: p.ID, ElementType: models.PaymentElementAllowance, Amount: testutil.Money("350.50")},
		{MonthlyPaymentId: p.ID, ElementType: models.PaymentElementDeduction, Amount: testutil.Money("275.25")},
		{MonthlyPaymentId: p.ID, ElementType: models.PaymentElementDeduction, Amount: testutil.Money("-100.00")},
	}
	if err := db.Create(&elements).Error; err != nil {
		t.Fatalf("create elements: %v", err)
	}

	if err := p.CalculateTotals(ctx, db); err != nil {
		t.Fatalf("CalculateTotals: %v", err)
	}
	if !p.GrossAmount.Equal(testutil.Money("2850.50")) {
		t.Fatalf("gross = %s", p.GrossAmount)
	}
	if !p.DeductionsTotal.Equal(testutil.Money("375.25")) {
		t.Fatalf("deductions = %s", p.DeductionsTotal)
	}
	if !p.TotalsConsistent() {
		t.Fatalf("net %s != gross %s - deductions %s", p.NetAmount, p.GrossAmount, p.DeductionsTotal)
	}

	var stored models.MonthlyPayment
	db.Take(&stored, p.ID)
	if !stored.NetAmount.Equal(testutil.Money("2475.25")) || !stored.TotalsConsistent() {
		t.Fatalf("stored totals wrong: %+v", stored)
	}
}

func TestTotalsConsistentTolerance(t *testing.T) {
	tests := []struct {
		gross, ded, net string
		want            bool
	}{
		{"100.00", "10.00", "90.00", true},
		{"100.00", "10.00", "90.01", true},
		{"100.00", "10.00", "89.99", true},
		{"100.00", "10.00", "90.02", false},
		{"100.00", "0", "0", false},
	}
	for _, tt := range tests {
		p := models.MonthlyPayment{
			GrossAmount:     decimal.RequireFromString(tt.gross),
			DeductionsTotal: decimal.RequireFromString(tt.ded),
			NetAmount:       decimal.RequireFromString(tt.net),
		}
		if got := p.TotalsConsistent(); got != tt.want {
			t.Fatalf("TotalsConsistent(%s,%s,%s) = %v", tt.gross, tt.ded, tt.net, got)
		}
	}
}

func TestPaymentStatusTransitions(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	staff := testutil.CreateStaff(t, db)
	p := testutil.CreatePayment(t, db, staff.ID, testutil.Now, "1000")
	db.Model(p).Update("payment_status", models.PaymentStatusPending)
	p.PaymentStatus = models.PaymentStatusPending

	if err := p.MarkAsPaid(ctx, db, "REF-1", testutil.Now); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("pending -> paid should fail, got %v", err)
	}
	if err := p.Approve(ctx, db, 5, testutil.Now); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := p.MarkAsProcessing(ctx, db); err != nil {
		t.Fatalf("processing: %v", err)
	}
	if err := p.MarkAsPaid(ctx, db, "REF-1", testutil.Now); err != nil {
		t.Fatalf("paid: %v", err)
	}
	if err := p.MarkAsFailed(ctx, db, "bounced"); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("paid -> failed should fail, got %v", err)
	}

	var stored models.MonthlyPayment
	db.Take(&stored, p.ID)
	if stored.PaymentStatus != models.PaymentStatusPaid || stored.PaymentReference != "REF-1" || stored.ApprovedBy == nil {
		t.Fatalf("unexpected stored payment %+v", stored)
	}

	q := testutil.CreatePayment(t, db, staff.ID, testutil.Now.AddDate(0, -1, 0), "1000")
	db.Model(q).Update("payment_status", models.PaymentStatusApproved)
	if err := q.MarkAsFailed(ctx, db, "account closed"); err != nil {
		t.Fatalf("approved -> failed: %v", err)
	}
	if err := q.Approve(ctx, db, 5, testutil.Now); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("failed is terminal, got %v", err)
	}
}
