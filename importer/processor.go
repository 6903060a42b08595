package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/mmdatafocus/payroll_audit/config"
	"github.com/mmdatafocus/payroll_audit/models"
	"github.com/mmdatafocus/payroll_audit/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	moduleName       = "importer"
	DefaultChunkSize = 500
	uploadDir        = "imports"
)

var tracer = otel.Tracer("github.com/mmdatafocus/payroll_audit/importer")

type Processor struct {
	DB          *gorm.DB
	Logger      *logrus.Logger
	Clock       utils.Clock
	Files       utils.FileStore
	Cipher      utils.Cipher
	Hasher      utils.LookupHasher
	ChunkSize   int
	PhoneRegion string

	validate *validator.Validate
}

func NewProcessor(db *gorm.DB, logger *logrus.Logger, clock utils.Clock, files utils.FileStore, c utils.Cipher, h utils.LookupHasher, chunkSize int, phoneRegion string) *Processor {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if phoneRegion == "" {
		phoneRegion = utils.CountryCode
	}
	return &Processor{
		DB:          db,
		Logger:      logger,
		Clock:       clock,
		Files:       files,
		Cipher:      c,
		Hasher:      h,
		ChunkSize:   chunkSize,
		PhoneRegion: phoneRegion,
		validate:    utils.NewValidator(phoneRegion),
	}
}

type UploadInput struct {
	ImportType models.ImportType
	FileName   string
	Content    io.Reader
	UploadedBy int
}

type Upload struct {
	History  *models.ImportHistory `json:"import"`
	Preview  *Preview              `json:"preview"`
	Expected []Column              `json:"expected_columns"`
}

// CreateImport stores the uploaded file, previews it and opens a pending ImportHistory
// with an auto-mapped column mapping for the operator to confirm.
func (p *Processor) CreateImport(ctx context.Context, input UploadInput) (*Upload, error) {
	expected, err := ExpectedColumns(input.ImportType)
	if err != nil {
		return nil, err
	}
	content, err := readAllBytes(input.Content)
	if err != nil {
		return nil, err
	}
	preview, err := PreviewFile(input.FileName, content)
	if err != nil {
		return nil, err
	}
	if _, err := content.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	name := filepath.Base(input.FileName)
	path, err := p.Files.Save(ctx, fmt.Sprintf("%s/%s-%s", uploadDir, uuid.NewString(), name), content)
	if err != nil {
		return nil, err
	}
	h := &models.ImportHistory{
		ImportType:    input.ImportType,
		FileName:      name,
		FilePath:      path,
		ColumnMapping: datatypes.NewJSONType(AutoMapColumns(preview.Headers, expected)),
		Options:       datatypes.NewJSONType(models.ImportOptions{}),
		Status:        models.ImportStatusPending,
		UploadedBy:    input.UploadedBy,
	}
	if err := p.DB.WithContext(ctx).Create(h).Error; err != nil {
		if derr := p.Files.Delete(context.Background(), path); derr != nil {
			config.LogError(p.Logger, moduleName, "CreateImport", "Files.Delete", path, derr)
		}
		return nil, err
	}
	return &Upload{History: h, Preview: preview, Expected: expected}, nil
}

// ConfirmMapping validates and stores the operator's mapping on a pending import.
func (p *Processor) ConfirmMapping(ctx context.Context, importId int, mapping map[string]string) (*models.ImportHistory, error) {
	h, err := models.GetImportHistory(ctx, p.DB, importId)
	if err != nil {
		return nil, err
	}
	if h.Status != models.ImportStatusPending {
		return nil, &models.InvalidTransitionError{Entity: "import", Id: h.ID, From: string(h.Status), Action: "change the mapping of"}
	}
	if err := ValidateMapping(h.ImportType, mapping); err != nil {
		return nil, err
	}
	h.ColumnMapping = datatypes.NewJSONType(mapping)
	res := p.DB.WithContext(ctx).Model(&models.ImportHistory{}).
		Where("id = ? AND status = ?", h.ID, models.ImportStatusPending).
		Update("column_mapping", h.ColumnMapping)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, &models.InvalidTransitionError{Entity: "import", Id: h.ID, From: "changed", Action: "change the mapping of"}
	}
	return h, nil
}

func (p *Processor) openFile(ctx context.Context, h *models.ImportHistory) (RowReader, io.Closer, error) {
	f, err := p.Files.Open(ctx, h.FilePath)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to open file for reading: %w", err)
	}
	rr, err := NewRowReader(h.FileName, f)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return rr, f, nil
}

func (p *Processor) countRows(ctx context.Context, h *models.ImportHistory) (int, error) {
	f, err := p.Files.Open(ctx, h.FilePath)
	if err != nil {
		return 0, fmt.Errorf("unable to open file for reading: %w", err)
	}
	defer f.Close()
	return CountDataRows(h.FileName, f)
}

type counters struct {
	success int
	failed  int
}

// Process runs a pending import to completion. Row problems become ImportErrors;
// only unrecoverable errors stop the run, mark it failed and are returned.
func (p *Processor) Process(ctx context.Context, importId int) (*models.ImportHistory, error) {
	ctx, span := tracer.Start(ctx, "importer.Process")
	defer span.End()
	span.SetAttributes(attribute.Int("import_id", importId))

	h, err := models.GetImportHistory(ctx, p.DB, importId)
	if err != nil {
		return nil, err
	}
	mapping := h.ColumnMapping.Data()
	if err := ValidateMapping(h.ImportType, mapping); err != nil {
		return h, err
	}

	started := p.Clock.Now()
	res := p.DB.WithContext(ctx).Model(&models.ImportHistory{}).
		Where("id = ? AND status = ?", h.ID, models.ImportStatusPending).
		Updates(map[string]interface{}{"status": models.ImportStatusProcessing, "started_at": started})
	if res.Error != nil {
		return h, res.Error
	}
	if res.RowsAffected == 0 {
		return h, &models.InvalidTransitionError{Entity: "import", Id: h.ID, From: string(h.Status), Action: "process"}
	}
	h.Status = models.ImportStatusProcessing
	h.StartedAt = &started

	c, err := p.run(ctx, h, mapping)
	if err != nil {
		span.RecordError(err)
		p.fail(h, c, err)
		return h, err
	}

	completed := p.Clock.Now()
	if err := p.DB.WithContext(ctx).Model(h).Updates(map[string]interface{}{
		"status":       models.ImportStatusCompleted,
		"completed_at": completed,
	}).Error; err != nil {
		p.fail(h, c, err)
		return h, err
	}
	h.Status = models.ImportStatusCompleted
	h.CompletedAt = &completed
	p.Logger.WithFields(logrus.Fields{
		"import_id":  h.ID,
		"successful": c.success,
		"failed":     c.failed,
	}).Info(fmt.Sprintf("Import completed: %d successful, %d failed", c.success, c.failed))
	return h, nil
}

func (p *Processor) run(ctx context.Context, h *models.ImportHistory, mapping map[string]string) (counters, error) {
	var c counters
	total, err := p.countRows(ctx, h)
	if err != nil {
		return c, err
	}
	if err := p.DB.WithContext(ctx).Model(h).Update("total_records", total).Error; err != nil {
		return c, err
	}
	h.TotalRecords = total

	rr, f, err := p.openFile(ctx, h)
	if err != nil {
		return c, err
	}
	defer f.Close()
	defer rr.Close()

	fields := mappedFields(mapping)
	lk := newLookups()
	err = ReadChunks(rr, mapping, p.ChunkSize, func(rows []Row) error {
		chunk, err := p.processChunk(ctx, h, rows, fields, lk, c)
		if err != nil {
			return err
		}
		c = chunk
		return nil
	})
	return c, err
}

func mappedFields(mapping map[string]string) []string {
	var fields []string
	for _, f := range mapping {
		if f != "" && f != IgnoreColumn {
			fields = append(fields, f)
		}
	}
	return utils.UniqueSlice(fields)
}

// processChunk writes one chunk atomically: error rows, domain rows, ledger rows and counters.
// A store failure on a single row rolls back only that row's savepoint.
func (p *Processor) processChunk(ctx context.Context, h *models.ImportHistory, rows []Row, fields []string, lk *lookups, before counters) (counters, error) {
	c := before
	err := p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, row := range rows {
			rec, rowErrs, err := p.prepare(tx, lk, h.ImportType, row)
			if err != nil {
				return err
			}
			if len(rowErrs) > 0 {
				if err := p.recordErrors(tx, h.ID, row, fields, rowErrs); err != nil {
					return err
				}
				c.failed++
				continue
			}

			err = tx.Transaction(func(sp *gorm.DB) error {
				id, err := rec.persist(ctx, sp)
				if err != nil {
					return err
				}
				return sp.Create(&models.ImportedRecord{
					ImportHistoryId: h.ID,
					RecordKind:      rec.kind,
					RecordId:        id,
					RowNumber:       row.Number,
					Status:          models.ImportedRecordStatusProcessed,
				}).Error
			})
			if err != nil {
				p.Logger.WithFields(logrus.Fields{"import_id": h.ID, "row": row.Number}).Warn("Failed to import row: " + err.Error())
				msg := "Failed to import row: " + err.Error()
				if utils.IsDuplicateKeyErr(err) {
					msg = "Failed to import row: a record with the same unique value already exists."
				}
				if err := p.recordErrors(tx, h.ID, row, fields, []RowError{{Message: msg}}); err != nil {
					return err
				}
				c.failed++
				continue
			}
			rec.remember(lk)
			c.success++
		}
		return tx.Model(&models.ImportHistory{}).Where("id = ?", h.ID).Updates(map[string]interface{}{
			"successful_records": c.success,
			"failed_records":     c.failed,
		}).Error
	})
	if err != nil {
		lk.discard()
		return before, err
	}
	lk.commit()
	h.SuccessfulRecords, h.FailedRecords = c.success, c.failed
	return c, nil
}

func (p *Processor) recordErrors(tx *gorm.DB, importId int, row Row, fields []string, errs []RowError) error {
	snapshot, err := datatypesJSON(row.Snapshot(fields))
	if err != nil {
		return err
	}
	out := make([]models.ImportError, 0, len(errs))
	for _, e := range errs {
		out = append(out, models.ImportError{
			ImportHistoryId: importId,
			RowNumber:       row.Number,
			FieldName:       e.Field,
			ErrorMessage:    e.Message,
			RowData:         snapshot,
		})
	}
	return tx.Create(&out).Error
}

// fail records the failure with a fresh context so a cancelled run is still marked.
func (p *Processor) fail(h *models.ImportHistory, c counters, cause error) {
	config.LogError(p.Logger, moduleName, "Process", fmt.Sprintf("import %d", h.ID), c, cause)
	now := p.Clock.Now()
	msg := cause.Error()
	if err := p.DB.WithContext(context.Background()).Model(&models.ImportHistory{}).Where("id = ?", h.ID).Updates(map[string]interface{}{
		"status":        models.ImportStatusFailed,
		"completed_at":  now,
		"error_message": msg,
	}).Error; err != nil {
		config.LogError(p.Logger, moduleName, "fail", "update import history", h.ID, err)
	}
	h.Status = models.ImportStatusFailed
	h.CompletedAt = &now
	h.ErrorMessage = msg
}

// Rollback soft-deletes every row an import created. Allowed once, on completed imports only.
func (p *Processor) Rollback(ctx context.Context, importId int, actor int) (int, error) {
	removed := 0
	err := p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := p.Clock.Now()
		res := tx.Model(&models.ImportHistory{}).
			Where("id = ? AND status = ? AND rolled_back_at IS NULL", importId, models.ImportStatusCompleted).
			Updates(map[string]interface{}{"rolled_back_at": now, "rolled_back_by": actor})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var h models.ImportHistory
			if err := tx.Take(&h, importId).Error; err != nil {
				return err
			}
			if h.RolledBackAt != nil {
				return models.ErrImportAlreadyRolledBack
			}
			return models.ErrImportNotCompleted
		}

		var records []models.ImportedRecord
		if err := tx.Where("import_history_id = ? AND status = ?", importId, models.ImportedRecordStatusProcessed).
			Find(&records).Error; err != nil {
			return err
		}
		byKind := map[models.ImportedRecordKind][]int{}
		for _, r := range records {
			byKind[r.RecordKind] = append(byKind[r.RecordKind], r.RecordId)
		}
		for _, kind := range []models.ImportedRecordKind{
			models.ImportedRecordKindMonthlyPayment,
			models.ImportedRecordKindBankDetail,
			models.ImportedRecordKindStaff,
		} {
			ids := byKind[kind]
			if len(ids) == 0 {
				continue
			}
			model, ok := kind.RecordModel()
			if !ok {
				return fmt.Errorf("unknown record kind %q", kind)
			}
			for _, part := range utils.ChunkSlice(ids, DefaultChunkSize) {
				res := tx.Where("id IN ?", part).Delete(model)
				if res.Error != nil {
					return res.Error
				}
				removed += int(res.RowsAffected)
			}
		}
		return tx.Model(&models.ImportedRecord{}).
			Where("import_history_id = ? AND status = ?", importId, models.ImportedRecordStatusProcessed).
			Update("status", models.ImportedRecordStatusRolledBack).Error
	})
	if err != nil {
		if !errors.Is(err, models.ErrImportAlreadyRolledBack) && !errors.Is(err, models.ErrImportNotCompleted) {
			config.LogError(p.Logger, moduleName, "Rollback", fmt.Sprintf("import %d", importId), actor, err)
		}
		return 0, err
	}
	p.Logger.WithFields(logrus.Fields{"import_id": importId, "rolled_back_by": actor, "removed": removed}).Info("import rolled back")
	return removed, nil
}

// datatypesJSON marshals v into a datatypes.JSON column value.
func datatypesJSON(v interface{}) (datatypes.JSON, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}
