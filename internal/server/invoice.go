package server

import (
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/classbill/classbill/internal/clock"
	"github.com/classbill/classbill/pkg/apperr"
	"github.com/gin-gonic/gin"
)

type generateInvoiceRequest struct {
	StudentID snowflake.ID `json:"student_id" binding:"required"`
	AsOf      *time.Time   `json:"as_of"`
}

type generateSchoolInvoicesRequest struct {
	AsOf *time.Time `json:"as_of"`
}

func (s *Server) GenerateInvoice(c *gin.Context) {
	schoolID, ok := pathID(c, "school_id")
	if !ok {
		return
	}

	var req generateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, apperr.Validation("Invalid request body"))
		return
	}

	invoice, err := s.invoiceSvc.Generate(c.Request.Context(), schoolID, req.StudentID, asOfOrNow(req.AsOf, s.clock))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": invoice})
}

func (s *Server) GenerateSchoolInvoices(c *gin.Context) {
	schoolID, ok := pathID(c, "school_id")
	if !ok {
		return
	}

	var req generateSchoolInvoicesRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, apperr.Validation("Invalid request body"))
			return
		}
	}

	result, err := s.invoiceSvc.GenerateForSchool(c.Request.Context(), schoolID, asOfOrNow(req.AsOf, s.clock))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) GetInvoice(c *gin.Context) {
	schoolID, ok := pathID(c, "school_id")
	if !ok {
		return
	}
	invoiceID, ok := pathID(c, "invoice_id")
	if !ok {
		return
	}

	invoice, err := s.invoiceSvc.GetByID(c.Request.Context(), schoolID, invoiceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	items, err := s.invoiceSvc.ListItems(c.Request.Context(), schoolID, invoiceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": invoice, "items": items})
}

func (s *Server) ListStudentInvoices(c *gin.Context) {
	schoolID, ok := pathID(c, "school_id")
	if !ok {
		return
	}
	studentID, ok := pathID(c, "student_id")
	if !ok {
		return
	}

	invoices, err := s.invoiceSvc.ListForStudent(c.Request.Context(), schoolID, studentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": invoices})
}

func asOfOrNow(asOf *time.Time, clk clock.Clock) time.Time {
	if asOf != nil {
		return asOf.UTC()
	}
	return clk.Now()
}
