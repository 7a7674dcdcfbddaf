package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// StudentError records one student's outcome in a school-wide batch run.
// Type is "skipped" for validation failures and "failed" for everything else.
type StudentError struct {
	StudentID snowflake.ID `json:"student_id"`
	Error     string       `json:"error"`
	Type      string       `json:"type"`
}

// BatchResult aggregates a school-wide generation pass. One student's failure
// never rolls back another's success.
type BatchResult struct {
	SchoolID          snowflake.ID   `json:"school_id"`
	ProcessedStudents int            `json:"processed_students"`
	GeneratedStudents int            `json:"generated_students"`
	SkippedStudents   int            `json:"skipped_students"`
	FailedStudents    int            `json:"failed_students"`
	Errors            []StudentError `json:"errors"`
}

type Service interface {
	// Generate closes any open invoice for the student, accrues delta
	// interest on overdue fees, and opens a new invoice from all unpaid
	// charges. Fails with a validation error when no unpaid charges exist.
	Generate(ctx context.Context, schoolID, studentID snowflake.ID, asOf time.Time) (*Invoice, error)
	// GenerateForSchool runs Generate for every student in the school,
	// isolating failures per student.
	GenerateForSchool(ctx context.Context, schoolID snowflake.ID, asOf time.Time) (*BatchResult, error)
	GetByID(ctx context.Context, schoolID, invoiceID snowflake.ID) (*Invoice, error)
	ListItems(ctx context.Context, schoolID, invoiceID snowflake.ID) ([]*InvoiceItem, error)
	ListForStudent(ctx context.Context, schoolID, studentID snowflake.ID) ([]*Invoice, error)
}
