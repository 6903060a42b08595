// Package testutil provides an in-memory store and fixtures for package tests.
package testutil

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mmdatafocus/payroll_audit/config"
	"github.com/mmdatafocus/payroll_audit/models"
	"github.com/mmdatafocus/payroll_audit/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

// SystemActor is the actor id used by tests for automated findings.
const SystemActor = 9000

// Now is the fixed instant most tests run at.
var Now = time.Date(2025, time.June, 15, 10, 0, 0, 0, time.UTC)

// NewDB opens a private in-memory SQLite database with every table migrated.
// One connection only: code under test must use the tx handle inside transactions.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, dbSeq.Add(1))

	cfg := config.GormConfig()
	cfg.Logger = logger.Discard
	db, err := gorm.Open(sqlite.Open(dsn), cfg)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := models.MigrateTable(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// Logger returns a logrus logger that discards output below panic level.
func Logger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func Cipher(t testing.TB) utils.Cipher {
	t.Helper()
	c, err := utils.NewAccountCipher([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	return c
}

func Hasher(t testing.TB) utils.LookupHasher {
	t.Helper()
	h, err := utils.NewLookupHasher([]byte("lookup-key-for-tests"))
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	return h
}

func Money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func datatypesLocation(l models.VerificationLocation) datatypes.JSONType[models.VerificationLocation] {
	return datatypes.NewJSONType(l)
}
