package importer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mmdatafocus/payroll_audit/models"
	"gorm.io/gorm"
)

// lookups caches name->id resolution and existence checks for one import run.
// Every query takes the caller's handle so it runs inside the chunk transaction.
// Rows written by the open chunk are staged in the caches at once and undone
// if the chunk does not commit.
type lookups struct {
	byName   map[string]map[string]int
	staff    map[string]int
	national map[string]bool
	accounts map[string]bool
	payments map[string]bool
	undo     []func()
}

func newLookups() *lookups {
	return &lookups{
		byName:   map[string]map[string]int{},
		staff:    map[string]int{},
		national: map[string]bool{},
		accounts: map[string]bool{},
		payments: map[string]bool{},
	}
}

func stage[K comparable, V any](l *lookups, m map[K]V, key K, value V) {
	prev, had := m[key]
	l.undo = append(l.undo, func() {
		if had {
			m[key] = prev
		} else {
			delete(m, key)
		}
	})
	m[key] = value
}

// commit keeps everything staged since the last commit or discard.
func (l *lookups) commit() {
	l.undo = nil
}

// discard reverts the caches to the last commit.
func (l *lookups) discard() {
	for i := len(l.undo) - 1; i >= 0; i-- {
		l.undo[i]()
	}
	l.undo = nil
}

type reference struct {
	field string
	label string
	model interface{}
}

var (
	departmentRef = reference{"department_id", "Department", &models.Department{}}
	unitRef       = reference{"unit_id", "Unit", &models.Unit{}}
	jobTitleRef   = reference{"job_title_id", "Job title", &models.JobTitle{}}
	stationRef    = reference{"station_id", "Station", &models.Station{}}
	bankRef       = reference{"bank_name", "Bank", &models.Bank{}}
)

// resolve maps a numeric id or a name to an existing row id; 0 means not found.
// Names match case-insensitively, falling back to a substring match.
func (l *lookups) resolve(tx *gorm.DB, ref reference, value string) (int, error) {
	cache, ok := l.byName[ref.field]
	if !ok {
		cache = map[string]int{}
		l.byName[ref.field] = cache
	}
	key := strings.ToLower(strings.TrimSpace(value))
	if id, ok := cache[key]; ok {
		return id, nil
	}

	var ids []int
	q := tx.Model(ref.model).Limit(1)
	if n, err := strconv.Atoi(key); err == nil {
		q = q.Where("id = ?", n)
	} else {
		q = q.Where("LOWER(name) = ?", key)
	}
	if err := q.Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		if _, err := strconv.Atoi(key); err != nil {
			if err := tx.Model(ref.model).Where("LOWER(name) LIKE ?", "%"+key+"%").
				Order("id").Limit(1).Pluck("id", &ids).Error; err != nil {
				return 0, err
			}
		}
	}
	id := 0
	if len(ids) > 0 {
		id = ids[0]
	}
	cache[key] = id
	return id, nil
}

func (l *lookups) notFound(ref reference, value string) RowError {
	return RowError{Field: ref.field, Message: fmt.Sprintf("%s '%s' not found.", ref.label, value)}
}

// staffId returns the id of a live staff member by number, 0 when absent.
func (l *lookups) staffId(tx *gorm.DB, number string) (int, error) {
	if id, ok := l.staff[number]; ok {
		return id, nil
	}
	var s models.Staff
	err := tx.Select("id").Where("staff_number = ?", number).Take(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		l.staff[number] = 0
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	l.staff[number] = s.ID
	return s.ID, nil
}

func (l *lookups) nationalIdTaken(tx *gorm.DB, nationalId string) (bool, error) {
	if taken, ok := l.national[nationalId]; ok {
		return taken, nil
	}
	var n int64
	if err := tx.Model(&models.Staff{}).Where("national_id = ?", nationalId).Count(&n).Error; err != nil {
		return false, err
	}
	l.national[nationalId] = n > 0
	return n > 0, nil
}

// accountTaken compares keyed hashes so the table is never decrypted here.
func (l *lookups) accountTaken(tx *gorm.DB, hash string) (bool, error) {
	if taken, ok := l.accounts[hash]; ok {
		return taken, nil
	}
	var n int64
	if err := tx.Model(&models.BankDetail{}).Where("account_number_hash = ?", hash).Count(&n).Error; err != nil {
		return false, err
	}
	l.accounts[hash] = n > 0
	return n > 0, nil
}

func paymentKey(staffId int, month time.Time) string {
	return fmt.Sprintf("%d:%s", staffId, month.Format("2006-01"))
}

func (l *lookups) paymentExists(tx *gorm.DB, staffId int, month time.Time) (bool, error) {
	key := paymentKey(staffId, month)
	if exists, ok := l.payments[key]; ok {
		return exists, nil
	}
	var n int64
	if err := tx.Model(&models.MonthlyPayment{}).
		Where("staff_id = ? AND payment_month = ?", staffId, month).
		Count(&n).Error; err != nil {
		return false, err
	}
	l.payments[key] = n > 0
	return n > 0, nil
}
