package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// StudentLookup resolves students within a school for precondition checks.
type StudentLookup interface {
	// GetStudentInSchool returns the student when it exists, is not deleted and
	// is linked to the school; apperr.NotFound("Student not found") otherwise.
	GetStudentInSchool(ctx context.Context, schoolID, studentID snowflake.ID) (*Student, error)
	// ListStudentIDs returns the ids of all non-deleted students linked to the
	// school, ordered by id.
	ListStudentIDs(ctx context.Context, schoolID snowflake.ID) ([]snowflake.ID, error)
	WithTrx(tx *gorm.DB) StudentLookup
}
