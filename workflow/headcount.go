package workflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/mmdatafocus/payroll_audit/config"
	"github.com/mmdatafocus/payroll_audit/models"
	"github.com/mmdatafocus/payroll_audit/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RuleHeadcountGhost tags ghost findings raised by a field officer rather than a detector.
const RuleHeadcountGhost = "ghost.headcount_verification"

const verificationPhotoDir = "verification-photos"

// HeadcountService captures verifications and drives session lifecycle.
type HeadcountService struct {
	DB     *gorm.DB
	Logger *logrus.Logger
	Clock  utils.Clock
	Files  utils.FileStore
}

type CaptureInput struct {
	SessionId  int                       `json:"headcount_session_id" validate:"required,gt=0"`
	StaffId    int                       `json:"staff_id" validate:"required,gt=0"`
	StationId  *int                      `json:"station_id"`
	Status     models.VerificationStatus `json:"verification_status" validate:"required"`
	Latitude   *float64                  `json:"latitude" validate:"omitempty,gte=-90,lte=90"`
	Longitude  *float64                  `json:"longitude" validate:"omitempty,gte=-180,lte=180"`
	Notes      string                    `json:"notes" validate:"max=1000"`
	VerifiedBy int                       `json:"-"`
	Photo      io.Reader                 `json:"-"`
}

func (s *HeadcountService) activeSession(ctx context.Context, tx *gorm.DB, id int) (*models.HeadcountSession, error) {
	var session models.HeadcountSession
	if err := tx.WithContext(ctx).Take(&session, id).Error; err != nil {
		return nil, err
	}
	if session.Status != models.HeadcountSessionStatusInProgress {
		return nil, models.ErrSessionNotActive
	}
	return &session, nil
}

// CaptureVerification records one staff verification in an in-progress session.
func (s *HeadcountService) CaptureVerification(ctx context.Context, input CaptureInput) (*models.HeadcountVerification, error) {
	if !input.Status.IsValid() {
		return nil, fmt.Errorf("invalid verification status %q", input.Status)
	}
	if (input.Latitude == nil) != (input.Longitude == nil) {
		return nil, errors.New("latitude and longitude must be provided together")
	}
	if _, err := s.activeSession(ctx, s.DB, input.SessionId); err != nil {
		return nil, err
	}
	var staff models.Staff
	if err := s.DB.WithContext(ctx).Take(&staff, input.StaffId).Error; err != nil {
		return nil, err
	}

	var exists int64
	if err := s.DB.WithContext(ctx).Model(&models.HeadcountVerification{}).
		Where("headcount_session_id = ? AND staff_id = ?", input.SessionId, input.StaffId).
		Count(&exists).Error; err != nil {
		return nil, err
	}
	if exists > 0 {
		return nil, models.ErrDuplicateVerification
	}

	stationId := input.StationId
	if stationId == nil {
		stationId = staff.StationId
	}
	location := models.VerificationLocation{Latitude: input.Latitude, Longitude: input.Longitude, StationId: stationId}
	var locationValid *bool
	if point, ok := location.Point(); ok && stationId != nil {
		var station models.Station
		if err := s.DB.WithContext(ctx).Take(&station, *stationId).Error; err != nil {
			return nil, err
		}
		if !station.ValidateGPSLocation(point) {
			return nil, models.ErrLocationOutsideStation
		}
		locationValid = utils.NewTrue()
	}

	now := s.Clock.Now()
	v := &models.HeadcountVerification{
		HeadcountSessionId: input.SessionId,
		StaffId:            input.StaffId,
		Status:             input.Status,
		VerifiedAt:         now,
		VerifiedBy:         input.VerifiedBy,
		Location:           datatypes.NewJSONType(location),
		LocationValid:      locationValid,
		Notes:              strings.TrimSpace(input.Notes),
	}

	var saved []string
	if input.Photo != nil {
		photo, thumb, err := s.storePhoto(ctx, input.SessionId, input.StaffId, input.Photo)
		if err != nil {
			return nil, err
		}
		v.PhotoPath, v.PhotoThumbnailPath = photo, thumb
		saved = append(saved, photo, thumb)
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(v).Error; err != nil {
			if utils.IsDuplicateKeyErr(err) {
				return models.ErrDuplicateVerification
			}
			return err
		}
		switch input.Status {
		case models.VerificationStatusPresent:
			return staff.MarkAsVerified(ctx, tx, now)
		case models.VerificationStatusGhost:
			desc := "Staff member flagged as ghost employee during headcount verification."
			if v.Notes != "" {
				desc += " Remarks: " + v.Notes
			}
			return s.raiseGhost(ctx, tx, &staff, v, input.VerifiedBy, desc,
				fmt.Sprintf("Detected during headcount session %d", input.SessionId))
		}
		return nil
	})
	if err != nil {
		s.discardFiles(saved)
		return nil, err
	}
	s.Logger.WithFields(logrus.Fields{
		"session_id": input.SessionId,
		"staff_id":   input.StaffId,
		"status":     input.Status,
	}).Info("verification captured")
	return v, nil
}

// storePhoto saves the original under a random name and a 320px jpeg thumbnail next to it.
func (s *HeadcountService) storePhoto(ctx context.Context, sessionId, staffId int, r io.Reader) (string, string, error) {
	if s.Files == nil {
		return "", "", errors.New("file store not configured")
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return "", "", err
	}
	thumb, err := utils.MakeThumbnail(bytes.NewReader(raw), utils.ThumbnailWidth)
	if err != nil {
		return "", "", err
	}
	base := fmt.Sprintf("%s/%d/%d-%s", verificationPhotoDir, sessionId, staffId, uuid.NewString())
	photoPath, err := s.Files.Save(ctx, base+".jpg", bytes.NewReader(raw))
	if err != nil {
		return "", "", err
	}
	thumbPath, err := s.Files.Save(ctx, base+"_thumb.jpg", bytes.NewReader(thumb))
	if err != nil {
		s.discardFiles([]string{photoPath})
		return "", "", err
	}
	return photoPath, thumbPath, nil
}

func (s *HeadcountService) discardFiles(paths []string) {
	for _, p := range paths {
		if err := s.Files.Delete(context.Background(), p); err != nil {
			config.LogError(s.Logger, "headcount.go", "discardFiles", p, nil, err)
		}
	}
}

func (s *HeadcountService) raiseGhost(ctx context.Context, tx *gorm.DB, staff *models.Staff, v *models.HeadcountVerification, actor int, description, reason string) error {
	at := v.VerifiedAt
	d := &models.Discrepancy{
		StaffId:         staff.ID,
		DiscrepancyType: models.DiscrepancyTypeGhostEmployee,
		Rule:            RuleHeadcountGhost,
		Severity:        models.SeverityCritical,
		Status:          models.DiscrepancyStatusOpen,
		Description:     description,
		DetectedBy:      actor,
		DetectedAt:      s.Clock.Now(),
		IncidentAt:      &at,
	}
	if err := tx.WithContext(ctx).Create(d).Error; err != nil {
		return err
	}
	return staff.FlagAsGhost(ctx, tx, reason)
}

// BulkVerify records the same non-ghost status for many staff; already verified staff are skipped.
func (s *HeadcountService) BulkVerify(ctx context.Context, sessionId int, staffIds []int, status models.VerificationStatus, stationId *int, actor int) (int, error) {
	if !status.IsValid() || status == models.VerificationStatusGhost {
		return 0, fmt.Errorf("invalid bulk verification status %q", status)
	}
	count := 0
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.activeSession(ctx, tx, sessionId); err != nil {
			return err
		}
		var done []int
		if err := tx.Model(&models.HeadcountVerification{}).
			Where("headcount_session_id = ?", sessionId).
			Pluck("staff_id", &done).Error; err != nil {
			return err
		}
		seen := make(map[int]bool, len(done))
		for _, id := range done {
			seen[id] = true
		}
		now := s.Clock.Now()
		for _, staffId := range utils.UniqueSlice(staffIds) {
			if seen[staffId] {
				continue
			}
			v := &models.HeadcountVerification{
				HeadcountSessionId: sessionId,
				StaffId:            staffId,
				Status:             status,
				VerifiedAt:         now,
				VerifiedBy:         actor,
				Location:           datatypes.NewJSONType(models.VerificationLocation{StationId: stationId}),
			}
			if err := tx.Create(v).Error; err != nil {
				return err
			}
			if status == models.VerificationStatusPresent {
				staff := models.Staff{ID: staffId}
				if err := staff.MarkAsVerified(ctx, tx, now); err != nil {
					return err
				}
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// MarkVerificationAsGhost corrects a verification to ghost, flags the staff and opens a critical finding.
func (s *HeadcountService) MarkVerificationAsGhost(ctx context.Context, verificationId int, reason string, actor int) (*models.HeadcountVerification, error) {
	reason = strings.TrimSpace(reason)
	var v models.HeadcountVerification
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Preload("Staff").Take(&v, verificationId).Error; err != nil {
			return err
		}
		if v.Staff == nil {
			return fmt.Errorf("verification %d has no staff record", verificationId)
		}
		if v.Status == models.VerificationStatusGhost {
			return &models.InvalidTransitionError{Entity: "verification", Id: v.ID, From: string(v.Status), Action: "mark as ghost"}
		}
		updates := map[string]interface{}{"status": models.VerificationStatusGhost}
		if reason != "" {
			updates["notes"] = reason
		}
		if err := tx.Model(&models.HeadcountVerification{}).Where("id = ?", v.ID).Updates(updates).Error; err != nil {
			return err
		}
		v.Status = models.VerificationStatusGhost
		if reason != "" {
			v.Notes = reason
		}
		desc := "Verification corrected to ghost employee."
		if reason != "" {
			desc += " Reason: " + reason
		}
		ghostReason := reason
		if ghostReason == "" {
			ghostReason = fmt.Sprintf("Marked as ghost in headcount session %d", v.HeadcountSessionId)
		}
		return s.raiseGhost(ctx, tx, v.Staff, &v, actor, desc, ghostReason)
	})
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *HeadcountService) session(ctx context.Context, id int) (*models.HeadcountSession, error) {
	var session models.HeadcountSession
	if err := s.DB.WithContext(ctx).Take(&session, id).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *HeadcountService) sessionAction(ctx context.Context, id int, action string, fn func(*models.HeadcountSession) error) (*models.HeadcountSession, error) {
	session, err := s.session(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(session); err != nil {
		return nil, err
	}
	s.Logger.WithFields(logrus.Fields{"session_id": id, "status": session.Status}).Info("headcount session " + action)
	return session, nil
}

func (s *HeadcountService) StartSession(ctx context.Context, id int) (*models.HeadcountSession, error) {
	return s.sessionAction(ctx, id, "started", func(hs *models.HeadcountSession) error {
		return hs.Start(ctx, s.DB, s.Clock.Now())
	})
}

func (s *HeadcountService) PauseSession(ctx context.Context, id int) (*models.HeadcountSession, error) {
	return s.sessionAction(ctx, id, "paused", func(hs *models.HeadcountSession) error {
		return hs.Pause(ctx, s.DB)
	})
}

func (s *HeadcountService) ResumeSession(ctx context.Context, id int) (*models.HeadcountSession, error) {
	return s.sessionAction(ctx, id, "resumed", func(hs *models.HeadcountSession) error {
		return hs.Resume(ctx, s.DB, s.Clock.Now())
	})
}

func (s *HeadcountService) CompleteSession(ctx context.Context, id int) (*models.HeadcountSession, error) {
	return s.sessionAction(ctx, id, "completed", func(hs *models.HeadcountSession) error {
		return hs.Complete(ctx, s.DB, s.Clock.Now())
	})
}

func (s *HeadcountService) CancelSession(ctx context.Context, id int, reason string) (*models.HeadcountSession, error) {
	return s.sessionAction(ctx, id, "cancelled", func(hs *models.HeadcountSession) error {
		return hs.Cancel(ctx, s.DB, reason)
	})
}
