package models_test

import (
	"context"
	"errors"
	"testing"

	"github.com/mmdatafocus/payroll_audit/models"
	"github.com/mmdatafocus/payroll_audit/testutil"
	"gorm.io/gorm"
)

func TestDiscrepancyTransitionsClosure(t *testing.T) {
	type action struct {
		name   string
		target models.DiscrepancyStatus
		run    func(ctx context.Context, d *models.Discrepancy, tc *lifecycleCase) error
	}
	actions := []action{
		{"mark under review", models.DiscrepancyStatusUnderReview, func(ctx context.Context, d *models.Discrepancy, tc *lifecycleCase) error {
			return d.MarkUnderReview(ctx, tc.db)
		}},
		{"resolve", models.DiscrepancyStatusResolved, func(ctx context.Context, d *models.Discrepancy, tc *lifecycleCase) error {
			_, err := d.Resolve(ctx, tc.db, models.ResolveInput{
				ResolvedBy:     7,
				ResolutionType: models.ResolutionTypeCorrected,
				Notes:          "payroll corrected",
				Outcome:        models.ResolutionOutcomeResolved,
			}, testutil.Now)
			return err
		}},
		{"dismiss", models.DiscrepancyStatusDismissed, func(ctx context.Context, d *models.Discrepancy, tc *lifecycleCase) error {
			return d.Dismiss(ctx, tc.db, 7, "false positive")
		}},
	}

	for _, from := range models.AllDiscrepancyStatuses {
		for _, a := range actions {
			t.Run(string(from)+"/"+a.name, func(t *testing.T) {
				ctx := context.Background()
				tc := newLifecycleCase(t)
				d := testutil.CreateDiscrepancy(t, tc.db, tc.staffId, models.DiscrepancyTypeGhostEmployee,
					models.SeverityHigh, from, testutil.Now)

				err := a.run(ctx, d, tc)
				allowed := models.CanTransition(from, a.target)

				var stored models.Discrepancy
				if e := tc.db.Take(&stored, d.ID).Error; e != nil {
					t.Fatalf("reload: %v", e)
				}
				var resolutions int64
				tc.db.Model(&models.DiscrepancyResolution{}).Where("discrepancy_id = ?", d.ID).Count(&resolutions)
				var notes int64
				tc.db.Model(&models.DiscrepancyNote{}).Where("discrepancy_id = ?", d.ID).Count(&notes)

				if allowed {
					if err != nil {
						t.Fatalf("expected %s from %s to succeed: %v", a.name, from, err)
					}
					if stored.Status != a.target {
						t.Fatalf("status = %s, want %s", stored.Status, a.target)
					}
					return
				}
				if !errors.Is(err, models.ErrInvalidTransition) {
					t.Fatalf("expected ErrInvalidTransition, got %v", err)
				}
				var ite *models.InvalidTransitionError
				if !errors.As(err, &ite) || ite.From != string(from) {
					t.Fatalf("expected InvalidTransitionError from %s, got %#v", from, err)
				}
				if stored.Status != from {
					t.Fatalf("status mutated to %s on rejected transition", stored.Status)
				}
				if resolutions != 0 || notes != 0 {
					t.Fatalf("rejected transition left side records: resolutions=%d notes=%d", resolutions, notes)
				}
			})
		}
	}
}

type lifecycleCase struct {
	db      *gorm.DB
	staffId int
}

func newLifecycleCase(t *testing.T) *lifecycleCase {
	t.Helper()
	db := testutil.NewDB(t)
	staff := testutil.CreateStaff(t, db)
	return &lifecycleCase{db: db, staffId: staff.ID}
}

func TestResolvedRejectsMarkUnderReview(t *testing.T) {
	ctx := context.Background()
	tc := newLifecycleCase(t)
	d := testutil.CreateDiscrepancy(t, tc.db, tc.staffId, models.DiscrepancyTypeSalaryAnomaly,
		models.SeverityMedium, models.DiscrepancyStatusOpen, testutil.Now)

	res, err := d.Resolve(ctx, tc.db, models.ResolveInput{
		ResolvedBy:     3,
		ResolutionType: models.ResolutionTypeVerifiedValid,
		Outcome:        models.ResolutionOutcomeResolved,
	}, testutil.Now)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.DiscrepancyId != d.ID || d.ResolvedAt == nil {
		t.Fatalf("unexpected resolution %+v", res)
	}
	if err := d.MarkUnderReview(ctx, tc.db); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if _, err := d.Resolve(ctx, tc.db, models.ResolveInput{
		ResolvedBy:     3,
		ResolutionType: models.ResolutionTypeVerifiedValid,
		Outcome:        models.ResolutionOutcomeResolved,
	}, testutil.Now); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("second resolve should fail, got %v", err)
	}
}

func TestDismissAddsInternalNote(t *testing.T) {
	ctx := context.Background()
	tc := newLifecycleCase(t)
	d := testutil.CreateDiscrepancy(t, tc.db, tc.staffId, models.DiscrepancyTypeStationMismatch,
		models.SeverityLow, models.DiscrepancyStatusUnderReview, testutil.Now)

	if err := d.Dismiss(ctx, tc.db, 4, "  GPS drift  "); err != nil {
		t.Fatalf("Dismiss: %v", err)
	}
	var notes []models.DiscrepancyNote
	tc.db.Where("discrepancy_id = ?", d.ID).Find(&notes)
	if len(notes) != 1 || notes[0].Content != "Dismissed: GPS drift" || !notes[0].IsInternal || notes[0].CreatedBy != 4 {
		t.Fatalf("unexpected notes %+v", notes)
	}

	d2 := testutil.CreateDiscrepancy(t, tc.db, tc.staffId, models.DiscrepancyTypeOther,
		models.SeverityLow, models.DiscrepancyStatusOpen, testutil.Now)
	if err := d2.Dismiss(ctx, tc.db, 4, ""); err != nil {
		t.Fatalf("Dismiss without reason: %v", err)
	}
	var count int64
	tc.db.Model(&models.DiscrepancyNote{}).Where("discrepancy_id = ?", d2.ID).Count(&count)
	if count != 0 {
		t.Fatalf("expected no note without reason, got %d", count)
	}
}

func TestResolveRejectsInvalidInput(t *testing.T) {
	tc := newLifecycleCase(t)
	d := testutil.CreateDiscrepancy(t, tc.db, tc.staffId, models.DiscrepancyTypeOther,
		models.SeverityLow, models.DiscrepancyStatusOpen, testutil.Now)
	_, err := d.Resolve(context.Background(), tc.db, models.ResolveInput{
		ResolvedBy:     1,
		ResolutionType: "guess",
		Outcome:        models.ResolutionOutcomeResolved,
	}, testutil.Now)
	if err == nil {
		t.Fatal("expected validation error")
	}
	var stored models.Discrepancy
	tc.db.Take(&stored, d.ID)
	if stored.Status != models.DiscrepancyStatusOpen {
		t.Fatalf("status changed to %s", stored.Status)
	}
}

func TestAddNoteRequiresContent(t *testing.T) {
	tc := newLifecycleCase(t)
	d := testutil.CreateDiscrepancy(t, tc.db, tc.staffId, models.DiscrepancyTypeOther,
		models.SeverityLow, models.DiscrepancyStatusResolved, testutil.Now)
	if _, err := d.AddNote(context.Background(), tc.db, 1, "   ", false); err == nil {
		t.Fatal("expected error for blank note")
	}
	note, err := d.AddNote(context.Background(), tc.db, 1, "follow-up call made", false)
	if err != nil || note.IsInternal {
		t.Fatalf("AddNote = %+v, %v", note, err)
	}
}
