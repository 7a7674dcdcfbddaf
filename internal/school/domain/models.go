// Package domain contains tenancy models: schools, students and their
// association. Every ledger row carries a SchoolID and every store call takes
// it as an explicit parameter.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// School is the tenant. All billing rows are scoped to one school.
type School struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Name      string       `gorm:"type:text;not null" json:"name"`
	Slug      string       `gorm:"type:text;not null;uniqueIndex" json:"slug"`
	IsActive  bool         `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null" json:"updated_at"`
	DeletedAt *time.Time   `gorm:"index" json:"deleted_at,omitempty"`
}

func (School) TableName() string { return "schools" }

type Student struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	FirstName  string       `gorm:"type:text;not null" json:"first_name"`
	LastName   string       `gorm:"type:text;not null" json:"last_name"`
	ExternalID *string      `gorm:"type:text;uniqueIndex" json:"external_id,omitempty"`
	CreatedAt  time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time    `gorm:"not null" json:"updated_at"`
	DeletedAt  *time.Time   `gorm:"index" json:"deleted_at,omitempty"`
}

func (Student) TableName() string { return "students" }

// StudentSchool links a student to a school. A student may attend several
// schools over time; billing is always per (school, student).
type StudentSchool struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	StudentID snowflake.ID `gorm:"not null;index;uniqueIndex:ux_student_school" json:"student_id"`
	SchoolID  snowflake.ID `gorm:"not null;index;uniqueIndex:ux_student_school" json:"school_id"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
}

func (StudentSchool) TableName() string { return "student_schools" }
