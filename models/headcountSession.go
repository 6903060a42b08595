package models

import (
	"context"
	"strings"
	"time"

	"github.com/mmdatafocus/payroll_audit/geo"
	"github.com/mmdatafocus/payroll_audit/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// activeSlotValue occupies the unique active_slot index while a session is in progress.
const activeSlotValue = 1

type HeadcountSession struct {
	ID          int                    `gorm:"primary_key" json:"id"`
	Name        string                 `gorm:"size:150;not null" json:"name"`
	Description string                 `gorm:"type:text" json:"description"`
	Status      HeadcountSessionStatus `gorm:"size:20;not null;index" json:"status"`
	ActiveSlot  *int                   `gorm:"uniqueIndex" json:"-"`
	StartDate   *time.Time             `json:"start_date"`
	EndDate     *time.Time             `json:"end_date"`
	Notes       string                 `gorm:"type:text" json:"notes"`
	CreatedBy   int                    `gorm:"not null" json:"created_by"`
	CreatedAt   time.Time              `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time              `gorm:"autoUpdateTime" json:"updated_at"`
}

// VerificationLocation is the GPS fix captured with a verification.
type VerificationLocation struct {
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	StationId *int     `json:"station_id,omitempty"`
}

func (l VerificationLocation) Point() (geo.Point, bool) {
	if l.Latitude == nil || l.Longitude == nil {
		return geo.Point{}, false
	}
	return geo.Point{Latitude: *l.Latitude, Longitude: *l.Longitude}, true
}

type HeadcountVerification struct {
	ID                 int                                       `gorm:"primary_key" json:"id"`
	HeadcountSessionId int                                       `gorm:"not null;uniqueIndex:idx_verification_session_staff" json:"headcount_session_id"`
	Session            *HeadcountSession                         `gorm:"foreignKey:HeadcountSessionId" json:"session,omitempty"`
	StaffId            int                                       `gorm:"not null;uniqueIndex:idx_verification_session_staff;index" json:"staff_id"`
	Staff              *Staff                                    `gorm:"foreignKey:StaffId" json:"staff,omitempty"`
	Status             VerificationStatus                        `gorm:"size:20;not null;index" json:"status"`
	VerifiedAt         time.Time                                 `gorm:"not null;index" json:"verified_at"`
	VerifiedBy         int                                       `gorm:"not null" json:"verified_by"`
	Location           datatypes.JSONType[VerificationLocation] `json:"location"`
	LocationValid      *bool                                     `json:"location_valid"`
	PhotoPath          string                                    `gorm:"size:255" json:"photo_path"`
	PhotoThumbnailPath string                                    `gorm:"size:255" json:"photo_thumbnail_path"`
	Notes              string                                    `gorm:"type:text" json:"notes"`
	CreatedAt          time.Time                                 `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time                                 `gorm:"autoUpdateTime" json:"updated_at"`
}

func sessionTransitionErr(s *HeadcountSession, action string) error {
	return &InvalidTransitionError{Entity: "headcount session", Id: s.ID, From: string(s.Status), Action: action}
}

func (s *HeadcountSession) reload(tx *gorm.DB) error {
	return tx.Take(s, s.ID).Error
}

// occupyActiveSlot moves the session to in_progress from one of the given states.
// The count check gives a readable error; the unique active_slot index closes the race.
func (s *HeadcountSession) occupyActiveSlot(ctx context.Context, db *gorm.DB, action string, from HeadcountSessionStatus, now time.Time) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.reload(tx); err != nil {
			return err
		}
		if s.Status != from {
			return sessionTransitionErr(s, action)
		}

		var active int64
		if err := tx.Model(&HeadcountSession{}).
			Where("status = ? AND id <> ?", HeadcountSessionStatusInProgress, s.ID).
			Count(&active).Error; err != nil {
			return err
		}
		if active > 0 {
			return ErrSessionAlreadyActive
		}

		slot := activeSlotValue
		updates := map[string]interface{}{
			"status":      HeadcountSessionStatusInProgress,
			"active_slot": slot,
		}
		if s.StartDate == nil {
			updates["start_date"] = now
		}
		res := tx.Model(&HeadcountSession{}).Where("id = ? AND status = ?", s.ID, from).Updates(updates)
		if res.Error != nil {
			if utils.IsDuplicateKeyErr(res.Error) {
				return ErrSessionAlreadyActive
			}
			return res.Error
		}
		if res.RowsAffected == 0 {
			return sessionTransitionErr(s, action)
		}
		s.Status = HeadcountSessionStatusInProgress
		s.ActiveSlot = &slot
		if s.StartDate == nil {
			s.StartDate = &now
		}
		return nil
	})
}

// Start moves a planned session to in_progress. Only one session may be in progress at a time.
func (s *HeadcountSession) Start(ctx context.Context, db *gorm.DB, now time.Time) error {
	return s.occupyActiveSlot(ctx, db, "start", HeadcountSessionStatusPlanned, now)
}

func (s *HeadcountSession) Resume(ctx context.Context, db *gorm.DB, now time.Time) error {
	return s.occupyActiveSlot(ctx, db, "resume", HeadcountSessionStatusPaused, now)
}

// releaseSlot moves the session out of in_progress (or another allowed state) and frees the slot.
func (s *HeadcountSession) releaseSlot(ctx context.Context, db *gorm.DB, action string, target HeadcountSessionStatus, from []HeadcountSessionStatus, extra map[string]interface{}) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"status":      target,
			"active_slot": nil,
		}
		for k, v := range extra {
			updates[k] = v
		}
		res := tx.Model(&HeadcountSession{}).Where("id = ? AND status IN ?", s.ID, from).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			if err := s.reload(tx); err != nil {
				return err
			}
			return sessionTransitionErr(s, action)
		}
		return s.reload(tx)
	})
}

func (s *HeadcountSession) Pause(ctx context.Context, db *gorm.DB) error {
	return s.releaseSlot(ctx, db, "pause", HeadcountSessionStatusPaused,
		[]HeadcountSessionStatus{HeadcountSessionStatusInProgress}, nil)
}

func (s *HeadcountSession) Complete(ctx context.Context, db *gorm.DB, now time.Time) error {
	return s.releaseSlot(ctx, db, "complete", HeadcountSessionStatusCompleted,
		[]HeadcountSessionStatus{HeadcountSessionStatusInProgress}, map[string]interface{}{"end_date": now})
}

// Cancel is allowed from any non-terminal state; the reason is appended to the notes.
func (s *HeadcountSession) Cancel(ctx context.Context, db *gorm.DB, reason string) error {
	notes := s.Notes
	if reason = strings.TrimSpace(reason); reason != "" {
		if notes != "" {
			notes += "\n"
		}
		notes += "Cancelled: " + reason
	}
	return s.releaseSlot(ctx, db, "cancel", HeadcountSessionStatusCancelled,
		[]HeadcountSessionStatus{HeadcountSessionStatusPlanned, HeadcountSessionStatusInProgress, HeadcountSessionStatusPaused},
		map[string]interface{}{"notes": notes})
}

type VerificationStats struct {
	Total   int64 `json:"total"`
	Present int64 `json:"present"`
	Absent  int64 `json:"absent"`
	OnLeave int64 `json:"on_leave"`
	Ghost   int64 `json:"ghost"`
}

func (s *HeadcountSession) VerificationStats(ctx context.Context, db *gorm.DB) (VerificationStats, error) {
	type row struct {
		Status VerificationStatus
		N      int64
	}
	var rows []row
	err := db.WithContext(ctx).Model(&HeadcountVerification{}).
		Select("status, COUNT(*) AS n").
		Where("headcount_session_id = ?", s.ID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return VerificationStats{}, err
	}
	var stats VerificationStats
	for _, r := range rows {
		stats.Total += r.N
		switch r.Status {
		case VerificationStatusPresent:
			stats.Present = r.N
		case VerificationStatusAbsent:
			stats.Absent = r.N
		case VerificationStatusOnLeave:
			stats.OnLeave = r.N
		case VerificationStatusGhost:
			stats.Ghost = r.N
		}
	}
	return stats, nil
}

// CompletionPercentage is verifications captured over active staff, 0..100.
func (s *HeadcountSession) CompletionPercentage(ctx context.Context, db *gorm.DB) (float64, error) {
	var activeStaff, verified int64
	if err := db.WithContext(ctx).Model(&Staff{}).Where("is_active = ?", true).Count(&activeStaff).Error; err != nil {
		return 0, err
	}
	if activeStaff == 0 {
		return 0, nil
	}
	if err := db.WithContext(ctx).Model(&HeadcountVerification{}).
		Where("headcount_session_id = ?", s.ID).Count(&verified).Error; err != nil {
		return 0, err
	}
	pct := float64(verified) / float64(activeStaff) * 100
	if pct > 100 {
		pct = 100
	}
	return pct, nil
}
