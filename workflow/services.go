package workflow

import (
	"context"
	"fmt"

	"github.com/mmdatafocus/payroll_audit/config"
	"github.com/mmdatafocus/payroll_audit/detection"
	"github.com/mmdatafocus/payroll_audit/importer"
	"github.com/mmdatafocus/payroll_audit/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Services holds the collaborators shared by the API server and the CLI.
type Services struct {
	DB         *gorm.DB
	Logger     *logrus.Logger
	Clock      utils.Clock
	Settings   *config.Settings
	Cipher     utils.Cipher
	Hasher     utils.LookupHasher
	Files      utils.FileStore
	Locker     JobLocker
	Thresholds detection.Thresholds
	Publish    RedetectPublisher
}

// NewServices builds the collaborators from settings around an open database.
// Redis is optional: without it jobs run under the no-op locker.
func NewServices(ctx context.Context, db *gorm.DB, logger *logrus.Logger, settings *config.Settings) (*Services, error) {
	c, err := utils.NewAccountCipher(settings.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}
	h, err := utils.NewLookupHasher(settings.LookupKey)
	if err != nil {
		return nil, fmt.Errorf("lookup hasher: %w", err)
	}
	files, err := utils.NewFileStoreFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("file store: %w", err)
	}
	return &Services{
		DB:         db,
		Logger:     logger,
		Clock:      utils.SystemClock{},
		Settings:   settings,
		Cipher:     c,
		Hasher:     h,
		Files:      files,
		Locker:     DefaultJobLocker(logger),
		Thresholds: detection.ThresholdsFromEnv(),
		Publish:    PublishRedetect,
	}, nil
}

func (s *Services) DetectionDeps() detection.Deps {
	return detection.Deps{
		DB:            s.DB,
		Logger:        s.Logger,
		Clock:         s.Clock,
		SystemActorId: s.Settings.SystemActorId,
		Thresholds:    s.Thresholds,
	}
}

func (s *Services) DetectJob() *DetectDiscrepanciesJob {
	return &DetectDiscrepanciesJob{Deps: s.DetectionDeps(), Cipher: s.Cipher, Locker: s.Locker}
}

func (s *Services) EscalateJob() *EscalateOverdueJob {
	return &EscalateOverdueJob{
		DB:            s.DB,
		Logger:        s.Logger,
		Clock:         s.Clock,
		SystemActorId: s.Settings.SystemActorId,
		Locker:        s.Locker,
	}
}

func (s *Services) Importer() *importer.Processor {
	return importer.NewProcessor(s.DB, s.Logger, s.Clock, s.Files, s.Cipher, s.Hasher, s.Settings.ImportChunk, s.Settings.PhoneRegion)
}

// ImportJob processes imports on behalf of actor.
func (s *Services) ImportJob(actor int) *ProcessImportJob {
	return &ProcessImportJob{Processor: s.Importer(), Locker: s.Locker, Publish: s.Publish, RequestedBy: actor}
}

func (s *Services) Headcount() *HeadcountService {
	return &HeadcountService{DB: s.DB, Logger: s.Logger, Clock: s.Clock, Files: s.Files}
}
