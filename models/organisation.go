package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Department struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:150;uniqueIndex;not null" json:"name"`
	Code      string    `gorm:"size:20" json:"code"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type Unit struct {
	ID           int       `gorm:"primary_key" json:"id"`
	DepartmentId *int      `gorm:"index" json:"department_id"`
	Name         string    `gorm:"size:150;not null" json:"name"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// JobGrade bounds the salary expected for every job title on the grade.
type JobGrade struct {
	ID        int             `gorm:"primary_key" json:"id"`
	Name      string          `gorm:"size:50;uniqueIndex;not null" json:"name"`
	MinSalary decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"min_salary"`
	MaxSalary decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"max_salary"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type JobTitle struct {
	ID         int       `gorm:"primary_key" json:"id"`
	Name       string    `gorm:"size:150;not null" json:"name"`
	JobGradeId *int      `gorm:"index" json:"job_grade_id"`
	JobGrade   *JobGrade `gorm:"foreignKey:JobGradeId" json:"job_grade,omitempty"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type Bank struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:150;uniqueIndex;not null" json:"name"`
	Code      string    `gorm:"size:20" json:"code"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
