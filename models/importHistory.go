package models

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ImportErrorPageSize caps how many errors the operator sees per page.
const ImportErrorPageSize = 100

type ImportHistory struct {
	ID                int                                 `gorm:"primary_key" json:"id"`
	ImportType        ImportType                          `gorm:"size:30;not null;index" json:"import_type"`
	FileName          string                              `gorm:"size:255;not null" json:"file_name"`
	FilePath          string                              `gorm:"size:255;not null" json:"file_path"`
	ColumnMapping     datatypes.JSONType[map[string]string] `json:"column_mapping"`
	Options           datatypes.JSONType[ImportOptions]   `json:"options"`
	TotalRecords      int                                 `gorm:"not null" json:"total_records"`
	SuccessfulRecords int                                 `gorm:"not null" json:"successful_records"`
	FailedRecords     int                                 `gorm:"not null" json:"failed_records"`
	Status            ImportStatus                        `gorm:"size:20;not null;index" json:"status"`
	ErrorMessage      string                              `gorm:"type:text" json:"error_message"`
	UploadedBy        int                                 `gorm:"not null" json:"uploaded_by"`
	StartedAt         *time.Time                          `json:"started_at"`
	CompletedAt       *time.Time                          `json:"completed_at"`
	RolledBackAt      *time.Time                          `json:"rolled_back_at"`
	RolledBackBy      *int                                `json:"rolled_back_by"`
	CreatedAt         time.Time                           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time                           `gorm:"autoUpdateTime" json:"updated_at"`
}

// ImportOptions holds post-import findings.
type ImportOptions struct {
	Anomalies   []ImportAnomaly `json:"anomalies,omitempty"`
	ValidatedAt *time.Time      `json:"validated_at,omitempty"`
}

type ImportAnomaly struct {
	StaffId     int    `json:"staff_id"`
	StaffNumber string `json:"staff_number"`
	Kind        string `json:"kind"`
	Message     string `json:"message"`
}

type ImportError struct {
	ID              int            `gorm:"primary_key" json:"id"`
	ImportHistoryId int            `gorm:"index;not null" json:"import_history_id"`
	RowNumber       int            `gorm:"not null" json:"row_number"`
	FieldName       string         `gorm:"size:100" json:"field_name"`
	ErrorMessage    string         `gorm:"type:text;not null" json:"error_message"`
	RowData         datatypes.JSON `json:"row_data"`
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

// ImportedRecord is a tagged pointer {kind, id} at a row created by an import.
type ImportedRecord struct {
	ID              int                  `gorm:"primary_key" json:"id"`
	ImportHistoryId int                  `gorm:"index;not null" json:"import_history_id"`
	RecordKind      ImportedRecordKind   `gorm:"size:30;not null" json:"record_kind"`
	RecordId        int                  `gorm:"not null" json:"record_id"`
	RowNumber       int                  `gorm:"not null" json:"row_number"`
	Status          ImportedRecordStatus `gorm:"size:20;not null" json:"status"`
	CreatedAt       time.Time            `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time            `gorm:"autoUpdateTime" json:"updated_at"`
}

// RecordModel returns an empty model for the kind, used to soft-delete by id.
func (k ImportedRecordKind) RecordModel() (interface{}, bool) {
	switch k {
	case ImportedRecordKindStaff:
		return &Staff{}, true
	case ImportedRecordKindBankDetail:
		return &BankDetail{}, true
	case ImportedRecordKindMonthlyPayment:
		return &MonthlyPayment{}, true
	}
	return nil, false
}

func GetImportHistory(ctx context.Context, db *gorm.DB, id int) (*ImportHistory, error) {
	var h ImportHistory
	if err := db.WithContext(ctx).Take(&h, id).Error; err != nil {
		return nil, err
	}
	return &h, nil
}

// ListImportErrors returns one page (1-based) of at most ImportErrorPageSize errors and the total.
func ListImportErrors(ctx context.Context, db *gorm.DB, importId int, page int) ([]ImportError, int64, error) {
	if page < 1 {
		page = 1
	}
	q := db.WithContext(ctx).Model(&ImportError{}).Where("import_history_id = ?", importId)
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []ImportError
	err := q.Order("row_number ASC").Order("id ASC").
		Limit(ImportErrorPageSize).Offset((page - 1) * ImportErrorPageSize).
		Find(&rows).Error
	return rows, total, err
}

type JobRun struct {
	ID            int                                 `gorm:"primary_key" json:"id"`
	JobName       string                              `gorm:"size:60;not null;index" json:"job_name"`
	CorrelationId string                              `gorm:"size:64;index" json:"correlation_id"`
	Status        JobRunStatus                        `gorm:"size:20;not null" json:"status"`
	StartedAt     time.Time                           `gorm:"not null" json:"started_at"`
	CompletedAt   *time.Time                          `json:"completed_at"`
	Summary       datatypes.JSONType[map[string]int64] `json:"summary"`
	ErrorMessage  string                              `gorm:"type:text" json:"error_message"`
	CreatedAt     time.Time                           `gorm:"autoCreateTime" json:"created_at"`
}
