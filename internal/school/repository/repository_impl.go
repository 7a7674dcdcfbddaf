package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	schooldomain "github.com/classbill/classbill/internal/school/domain"
	"github.com/classbill/classbill/pkg/apperr"
	"gorm.io/gorm"
)

type studentLookup struct {
	db *gorm.DB
}

func NewStudentLookup(db *gorm.DB) schooldomain.StudentLookup {
	return &studentLookup{db: db}
}

func (r *studentLookup) WithTrx(tx *gorm.DB) schooldomain.StudentLookup {
	return &studentLookup{db: tx}
}

func (r *studentLookup) GetStudentInSchool(ctx context.Context, schoolID, studentID snowflake.ID) (*schooldomain.Student, error) {
	var student schooldomain.Student
	err := r.db.WithContext(ctx).
		Joins("JOIN student_schools ON student_schools.student_id = students.id").
		Where("students.id = ?", studentID).
		Where("student_schools.school_id = ?", schoolID).
		Where("students.deleted_at IS NULL").
		First(&student).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.NotFound("Student not found")
		}
		return nil, err
	}
	return &student, nil
}

func (r *studentLookup) ListStudentIDs(ctx context.Context, schoolID snowflake.ID) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := r.db.WithContext(ctx).
		Model(&schooldomain.Student{}).
		Joins("JOIN student_schools ON student_schools.student_id = students.id").
		Where("student_schools.school_id = ?", schoolID).
		Where("students.deleted_at IS NULL").
		Order("students.id").
		Pluck("students.id", &ids).Error
	return ids, err
}
