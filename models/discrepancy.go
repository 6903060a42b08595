package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

type Discrepancy struct {
	ID              int                    `gorm:"primary_key" json:"id"`
	StaffId         int                    `gorm:"not null;index:idx_discrepancy_staff_type" json:"staff_id"`
	Staff           *Staff                 `gorm:"foreignKey:StaffId" json:"staff,omitempty"`
	DiscrepancyType DiscrepancyType        `gorm:"size:40;not null;index:idx_discrepancy_staff_type" json:"discrepancy_type"`
	Rule            string                 `gorm:"size:60;index" json:"rule"`
	Severity        Severity               `gorm:"size:20;not null;index" json:"severity"`
	Status          DiscrepancyStatus      `gorm:"size:20;not null;index" json:"status"`
	Description     string                 `gorm:"type:text;not null" json:"description"`
	DetectedBy      int                    `gorm:"not null" json:"detected_by"`
	DetectedAt      time.Time              `gorm:"not null;index" json:"detected_at"`
	IncidentAt      *time.Time             `gorm:"index" json:"incident_at"`
	ResolvedAt      *time.Time             `json:"resolved_at"`
	Notes           []DiscrepancyNote      `gorm:"foreignKey:DiscrepancyId" json:"notes,omitempty"`
	Resolution      *DiscrepancyResolution `gorm:"foreignKey:DiscrepancyId" json:"resolution,omitempty"`
	CreatedAt       time.Time              `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time              `gorm:"autoUpdateTime" json:"updated_at"`
}

type DiscrepancyNote struct {
	ID            int       `gorm:"primary_key" json:"id"`
	DiscrepancyId int       `gorm:"index;not null" json:"discrepancy_id"`
	CreatedBy     int       `gorm:"not null" json:"created_by"`
	Content       string    `gorm:"type:text;not null" json:"content"`
	IsInternal    bool      `gorm:"not null" json:"is_internal"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type DiscrepancyResolution struct {
	ID             int               `gorm:"primary_key" json:"id"`
	DiscrepancyId  int               `gorm:"uniqueIndex;not null" json:"discrepancy_id"`
	ResolvedBy     int               `gorm:"not null" json:"resolved_by"`
	ResolutionType ResolutionType    `gorm:"size:30;not null" json:"resolution_type"`
	Notes          string            `gorm:"type:text" json:"notes"`
	Outcome        ResolutionOutcome `gorm:"size:30;not null" json:"outcome"`
	ResolvedAt     time.Time         `gorm:"not null" json:"resolved_at"`
	CreatedAt      time.Time         `gorm:"autoCreateTime" json:"created_at"`
}

// allowed source statuses per target status
var discrepancyTransitions = map[DiscrepancyStatus][]DiscrepancyStatus{
	DiscrepancyStatusUnderReview: {DiscrepancyStatusOpen},
	DiscrepancyStatusResolved:    {DiscrepancyStatusOpen, DiscrepancyStatusUnderReview},
	DiscrepancyStatusDismissed:   {DiscrepancyStatusOpen, DiscrepancyStatusUnderReview},
}

// CanTransition reports whether from -> to is an allowed move.
func CanTransition(from, to DiscrepancyStatus) bool {
	for _, s := range discrepancyTransitions[to] {
		if s == from {
			return true
		}
	}
	return false
}

// moveStatus performs a conditional update so a concurrent change cannot be overwritten.
func (d *Discrepancy) moveStatus(ctx context.Context, tx *gorm.DB, action string, target DiscrepancyStatus, extra map[string]interface{}) error {
	updates := map[string]interface{}{"status": target}
	for k, v := range extra {
		updates[k] = v
	}
	res := tx.WithContext(ctx).Model(&Discrepancy{}).
		Where("id = ? AND status IN ?", d.ID, discrepancyTransitions[target]).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var current Discrepancy
		if err := tx.WithContext(ctx).Select("id", "status").Take(&current, d.ID).Error; err != nil {
			return err
		}
		return &InvalidTransitionError{Entity: "discrepancy", Id: d.ID, From: string(current.Status), Action: action}
	}
	d.Status = target
	return nil
}

// MarkUnderReview moves an open discrepancy to under_review.
func (d *Discrepancy) MarkUnderReview(ctx context.Context, db *gorm.DB) error {
	return d.moveStatus(ctx, db, "mark under review", DiscrepancyStatusUnderReview, nil)
}

type ResolveInput struct {
	ResolvedBy     int               `json:"resolved_by" binding:"required"`
	ResolutionType ResolutionType    `json:"resolution_type" binding:"required"`
	Notes          string            `json:"notes"`
	Outcome        ResolutionOutcome `json:"outcome" binding:"required"`
}

func (input *ResolveInput) validate() error {
	if input.ResolvedBy <= 0 {
		return errors.New("resolved_by is required")
	}
	if !input.ResolutionType.IsValid() {
		return errors.New("invalid resolution type")
	}
	if !input.Outcome.IsValid() {
		return errors.New("invalid resolution outcome")
	}
	return nil
}

// Resolve closes the discrepancy and creates its single resolution record atomically.
func (d *Discrepancy) Resolve(ctx context.Context, db *gorm.DB, input ResolveInput, at time.Time) (*DiscrepancyResolution, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	resolution := DiscrepancyResolution{
		DiscrepancyId:  d.ID,
		ResolvedBy:     input.ResolvedBy,
		ResolutionType: input.ResolutionType,
		Notes:          input.Notes,
		Outcome:        input.Outcome,
		ResolvedAt:     at,
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := d.moveStatus(ctx, tx, "resolve", DiscrepancyStatusResolved, map[string]interface{}{"resolved_at": at}); err != nil {
			return err
		}
		if err := tx.Create(&resolution).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrResolutionExists
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	d.ResolvedAt = &at
	d.Resolution = &resolution
	return &resolution, nil
}

// Dismiss closes the discrepancy without a resolution; a non-empty reason is kept as an internal note.
func (d *Discrepancy) Dismiss(ctx context.Context, db *gorm.DB, actor int, reason string) error {
	reason = strings.TrimSpace(reason)
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := d.moveStatus(ctx, tx, "dismiss", DiscrepancyStatusDismissed, nil); err != nil {
			return err
		}
		if reason == "" {
			return nil
		}
		_, err := d.AddNote(ctx, tx, actor, "Dismissed: "+reason, true)
		return err
	})
}

func (d *Discrepancy) AddNote(ctx context.Context, db *gorm.DB, createdBy int, content string, isInternal bool) (*DiscrepancyNote, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errors.New("note content is required")
	}
	note := DiscrepancyNote{
		DiscrepancyId: d.ID,
		CreatedBy:     createdBy,
		Content:       content,
		IsInternal:    isInternal,
	}
	if err := db.WithContext(ctx).Create(&note).Error; err != nil {
		return nil, err
	}
	return &note, nil
}

// DaysOpen floors the time since detection to whole days.
func (d *Discrepancy) DaysOpen(now time.Time) int {
	if now.Before(d.DetectedAt) {
		return 0
	}
	return int(now.Sub(d.DetectedAt) / (24 * time.Hour))
}

func GetDiscrepancy(ctx context.Context, db *gorm.DB, id int) (*Discrepancy, error) {
	var d Discrepancy
	if err := db.WithContext(ctx).Preload("Notes").Preload("Resolution").Take(&d, id).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

type DiscrepancyFilter struct {
	Status   DiscrepancyStatus
	Type     DiscrepancyType
	Severity Severity
	StaffId  int
	Page     int
	PageSize int
}

// ListDiscrepancies orders by severity then age, newest first within a tier.
func ListDiscrepancies(ctx context.Context, db *gorm.DB, f DiscrepancyFilter) ([]Discrepancy, int64, error) {
	q := db.WithContext(ctx).Model(&Discrepancy{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Type != "" {
		q = q.Where("discrepancy_type = ?", f.Type)
	}
	if f.Severity != "" {
		q = q.Where("severity = ?", f.Severity)
	}
	if f.StaffId > 0 {
		q = q.Where("staff_id = ?", f.StaffId)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	pageSize := f.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 50
	}
	page := f.Page
	if page < 1 {
		page = 1
	}
	var rows []Discrepancy
	err := q.Order(severityOrderExpr + " DESC").Order("detected_at DESC").Order("id DESC").
		Limit(pageSize).Offset((page - 1) * pageSize).
		Find(&rows).Error
	return rows, total, err
}

const severityOrderExpr = "CASE severity WHEN 'critical' THEN 4 WHEN 'high' THEN 3 WHEN 'medium' THEN 2 WHEN 'low' THEN 1 ELSE 0 END"
