package models

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PaymentTolerance is the rounding slack allowed between stored totals and recomputed ones.
var PaymentTolerance = decimal.NewFromFloat(0.01)

type MonthlyPayment struct {
	ID               int              `gorm:"primary_key" json:"id"`
	StaffId          int              `gorm:"not null;uniqueIndex:idx_payment_staff_month" json:"staff_id"`
	Staff            *Staff           `gorm:"foreignKey:StaffId" json:"staff,omitempty"`
	PaymentMonth     time.Time        `gorm:"not null;uniqueIndex:idx_payment_staff_month" json:"payment_month"`
	PaymentDate      time.Time        `gorm:"not null;index" json:"payment_date"`
	GrossAmount      decimal.Decimal  `gorm:"type:decimal(15,2);not null" json:"gross_amount"`
	DeductionsTotal  decimal.Decimal  `gorm:"type:decimal(15,2);not null" json:"deductions_total"`
	NetAmount        decimal.Decimal  `gorm:"type:decimal(15,2);not null" json:"net_amount"`
	PaymentStatus    PaymentStatus    `gorm:"size:20;not null;index" json:"payment_status"`
	PaymentReference string           `gorm:"size:100" json:"payment_reference"`
	ApprovedBy       *int             `json:"approved_by"`
	ApprovedAt       *time.Time       `json:"approved_at"`
	PaidAt           *time.Time       `json:"paid_at"`
	FailureReason    string           `gorm:"type:text" json:"failure_reason"`
	Elements         []PaymentElement `gorm:"foreignKey:MonthlyPaymentId" json:"elements,omitempty"`
	CreatedAt        time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt        gorm.DeletedAt   `gorm:"index" json:"-"`
}

// PaymentElement amounts are positive magnitudes; deductions are subtracted at aggregation.
type PaymentElement struct {
	ID               int                `gorm:"primary_key" json:"id"`
	MonthlyPaymentId int                `gorm:"index;not null" json:"monthly_payment_id"`
	ElementType      PaymentElementType `gorm:"size:20;not null" json:"element_type"`
	Description      string             `gorm:"size:150" json:"description"`
	Amount           decimal.Decimal    `gorm:"type:decimal(15,2);not null" json:"amount"`
	CreatedAt        time.Time          `gorm:"autoCreateTime" json:"created_at"`
}

type PaymentBreakdown struct {
	BasicSalary decimal.Decimal `json:"basic_salary"`
	Allowances  decimal.Decimal `json:"allowances"`
	Deductions  decimal.Decimal `json:"deductions"`
	Gross       decimal.Decimal `json:"gross"`
	Net         decimal.Decimal `json:"net"`
}

// Breakdown sums the given elements by type.
func Breakdown(elements []PaymentElement) PaymentBreakdown {
	var b PaymentBreakdown
	for _, e := range elements {
		switch e.ElementType {
		case PaymentElementBasicSalary:
			b.BasicSalary = b.BasicSalary.Add(e.Amount)
		case PaymentElementAllowance:
			b.Allowances = b.Allowances.Add(e.Amount)
		case PaymentElementDeduction:
			b.Deductions = b.Deductions.Add(e.Amount.Abs())
		}
	}
	b.Gross = b.BasicSalary.Add(b.Allowances)
	b.Net = b.Gross.Sub(b.Deductions)
	return b
}

// CalculateTotals recomputes gross, deductions and net from the stored elements and saves them.
func (p *MonthlyPayment) CalculateTotals(ctx context.Context, tx *gorm.DB) error {
	var elements []PaymentElement
	if err := tx.WithContext(ctx).Where("monthly_payment_id = ?", p.ID).Find(&elements).Error; err != nil {
		return err
	}
	b := Breakdown(elements)
	if err := tx.WithContext(ctx).Model(p).Updates(map[string]interface{}{
		"gross_amount":     b.Gross,
		"deductions_total": b.Deductions,
		"net_amount":       b.Net,
	}).Error; err != nil {
		return err
	}
	p.Elements = elements
	p.GrossAmount = b.Gross
	p.DeductionsTotal = b.Deductions
	p.NetAmount = b.Net
	return nil
}

// TotalsConsistent reports net == gross - deductions within PaymentTolerance.
func (p *MonthlyPayment) TotalsConsistent() bool {
	return p.GrossAmount.Sub(p.DeductionsTotal).Sub(p.NetAmount).Abs().LessThanOrEqual(PaymentTolerance)
}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:    {PaymentStatusApproved, PaymentStatusFailed},
	PaymentStatusApproved:   {PaymentStatusProcessing, PaymentStatusFailed},
	PaymentStatusProcessing: {PaymentStatusPaid, PaymentStatusFailed},
}

func paymentSourcesFor(target PaymentStatus) []PaymentStatus {
	var from []PaymentStatus
	for src, targets := range paymentTransitions {
		for _, t := range targets {
			if t == target {
				from = append(from, src)
			}
		}
	}
	return from
}

func (p *MonthlyPayment) transition(ctx context.Context, tx *gorm.DB, action string, target PaymentStatus, extra map[string]interface{}) error {
	updates := map[string]interface{}{"payment_status": target}
	for k, v := range extra {
		updates[k] = v
	}
	res := tx.WithContext(ctx).Model(&MonthlyPayment{}).
		Where("id = ? AND payment_status IN ?", p.ID, paymentSourcesFor(target)).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var current MonthlyPayment
		if err := tx.WithContext(ctx).Select("payment_status").Take(&current, p.ID).Error; err != nil {
			return err
		}
		return &InvalidTransitionError{Entity: "payment", Id: p.ID, From: string(current.PaymentStatus), Action: action}
	}
	p.PaymentStatus = target
	return nil
}

func (p *MonthlyPayment) Approve(ctx context.Context, tx *gorm.DB, approvedBy int, at time.Time) error {
	if err := p.transition(ctx, tx, "approve", PaymentStatusApproved, map[string]interface{}{
		"approved_by": approvedBy,
		"approved_at": at,
	}); err != nil {
		return err
	}
	p.ApprovedBy = &approvedBy
	p.ApprovedAt = &at
	return nil
}

func (p *MonthlyPayment) MarkAsProcessing(ctx context.Context, tx *gorm.DB) error {
	return p.transition(ctx, tx, "process", PaymentStatusProcessing, nil)
}

func (p *MonthlyPayment) MarkAsPaid(ctx context.Context, tx *gorm.DB, reference string, at time.Time) error {
	if err := p.transition(ctx, tx, "mark as paid", PaymentStatusPaid, map[string]interface{}{
		"payment_reference": reference,
		"paid_at":           at,
	}); err != nil {
		return err
	}
	p.PaymentReference = reference
	p.PaidAt = &at
	return nil
}

func (p *MonthlyPayment) MarkAsFailed(ctx context.Context, tx *gorm.DB, reason string) error {
	if err := p.transition(ctx, tx, "mark as failed", PaymentStatusFailed, map[string]interface{}{
		"failure_reason": reason,
	}); err != nil {
		return err
	}
	p.FailureReason = reason
	return nil
}
