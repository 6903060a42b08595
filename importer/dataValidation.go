package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/mmdatafocus/payroll_audit/models"
	"github.com/mmdatafocus/payroll_audit/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// Anomaly kinds stored in ImportOptions.Anomalies.
const (
	AnomalyMissingBankDetails = "missing_bank_details"
	AnomalySalaryOutOfRange   = "salary_out_of_range"
	AnomalyInsufficientBio    = "insufficient_bio_data"
	AnomalyAge                = "age_anomaly"
	AnomalyLongService        = "long_service_anomaly"
)

const (
	minWorkingAge   = 18
	maxWorkingAge   = 70
	maxServiceYears = 45
)

func hasSufficientBioData(s *models.Staff) bool {
	return s.FirstName != "" && s.LastName != "" && s.DateOfBirth != nil && s.Gender != "" &&
		s.NationalId != nil && *s.NationalId != "" && s.PhonePrimary != "" && s.Address != ""
}

// ValidateImportedData reviews the staff created by a completed staff import and stores
// the anomalies it finds on the import's options. Other import types are left untouched.
func (p *Processor) ValidateImportedData(ctx context.Context, importId int) ([]models.ImportAnomaly, error) {
	h, err := models.GetImportHistory(ctx, p.DB, importId)
	if err != nil {
		return nil, err
	}
	if h.ImportType != models.ImportTypeStaff {
		return nil, nil
	}

	var ids []int
	if err := p.DB.WithContext(ctx).Model(&models.ImportedRecord{}).
		Where("import_history_id = ? AND record_kind = ? AND status = ?", h.ID, models.ImportedRecordKindStaff, models.ImportedRecordStatusProcessed).
		Pluck("record_id", &ids).Error; err != nil {
		return nil, err
	}

	now := p.Clock.Now()
	anomalies := []models.ImportAnomaly{}
	for _, part := range utils.ChunkSlice(ids, DefaultChunkSize) {
		var staff []models.Staff
		if err := p.DB.WithContext(ctx).Preload("JobTitle.JobGrade").Where("id IN ?", part).Order("id").Find(&staff).Error; err != nil {
			return nil, err
		}
		var banked []int
		if err := p.DB.WithContext(ctx).Model(&models.BankDetail{}).
			Where("staff_id IN ? AND is_active = ?", part, true).
			Distinct().Pluck("staff_id", &banked).Error; err != nil {
			return nil, err
		}
		hasBank := make(map[int]bool, len(banked))
		for _, id := range banked {
			hasBank[id] = true
		}
		for i := range staff {
			anomalies = append(anomalies, staffAnomalies(&staff[i], hasBank[staff[i].ID], now)...)
		}
	}

	opts := h.Options.Data()
	opts.Anomalies = anomalies
	opts.ValidatedAt = &now
	if err := p.DB.WithContext(ctx).Model(h).Update("options", datatypes.NewJSONType(opts)).Error; err != nil {
		return nil, err
	}
	fields := logrus.Fields{"import_id": h.ID, "records_validated": len(ids), "anomalies_found": len(anomalies)}
	if len(anomalies) > 0 {
		p.Logger.WithFields(fields).Warn("Data anomalies detected in import")
	}
	p.Logger.WithFields(fields).Info("Post-import validation completed")
	return anomalies, nil
}

func staffAnomalies(s *models.Staff, hasBank bool, now time.Time) []models.ImportAnomaly {
	var out []models.ImportAnomaly
	add := func(kind, msg string) {
		out = append(out, models.ImportAnomaly{StaffId: s.ID, StaffNumber: s.StaffNumber, Kind: kind, Message: msg})
	}
	if !hasBank {
		add(AnomalyMissingBankDetails, "Staff member does not have complete bank details")
	}
	if s.JobTitle != nil && s.JobTitle.JobGrade != nil {
		g := s.JobTitle.JobGrade
		if s.CurrentSalary.LessThan(g.MinSalary) || s.CurrentSalary.GreaterThan(g.MaxSalary) {
			add(AnomalySalaryOutOfRange, fmt.Sprintf("Salary %s is outside job grade range (%s - %s)",
				utils.FormatMoney(s.CurrentSalary), utils.FormatMoney(g.MinSalary), utils.FormatMoney(g.MaxSalary)))
		}
	}
	if !hasSufficientBioData(s) {
		add(AnomalyInsufficientBio, "Staff member has insufficient biographical data")
	}
	if age := s.AgeAt(now); age >= 0 && (age < minWorkingAge || age > maxWorkingAge) {
		add(AnomalyAge, fmt.Sprintf("Staff age (%d) is outside normal range (%d-%d)", age, minWorkingAge, maxWorkingAge))
	}
	if years := s.YearsOfServiceAt(now); years > maxServiceYears {
		add(AnomalyLongService, fmt.Sprintf("Years of service (%d) exceeds %d years", years, maxServiceYears))
	}
	return out
}
