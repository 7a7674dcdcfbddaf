package server

import (
	"net/http"

	chargedomain "github.com/classbill/classbill/internal/charge/domain"
	"github.com/classbill/classbill/pkg/apperr"
	"github.com/gin-gonic/gin"
)

func (s *Server) CreateCharge(c *gin.Context) {
	schoolID, ok := pathID(c, "school_id")
	if !ok {
		return
	}

	var req chargedomain.CreateChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, apperr.Validation("Invalid request body"))
		return
	}

	charge, err := s.chargeSvc.Create(c.Request.Context(), schoolID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": charge})
}

func (s *Server) GetCharge(c *gin.Context) {
	schoolID, ok := pathID(c, "school_id")
	if !ok {
		return
	}
	chargeID, ok := pathID(c, "charge_id")
	if !ok {
		return
	}

	charge, err := s.chargeSvc.GetByID(c.Request.Context(), schoolID, chargeID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": charge})
}

func (s *Server) UpdateCharge(c *gin.Context) {
	schoolID, ok := pathID(c, "school_id")
	if !ok {
		return
	}
	chargeID, ok := pathID(c, "charge_id")
	if !ok {
		return
	}

	var req chargedomain.UpdateChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, apperr.Validation("Invalid request body"))
		return
	}

	charge, err := s.chargeSvc.Update(c.Request.Context(), schoolID, chargeID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": charge})
}

func (s *Server) DeleteCharge(c *gin.Context) {
	schoolID, ok := pathID(c, "school_id")
	if !ok {
		return
	}
	chargeID, ok := pathID(c, "charge_id")
	if !ok {
		return
	}

	if err := s.chargeSvc.Delete(c.Request.Context(), schoolID, chargeID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListStudentCharges returns all of a student's charges, or only unbilled
// unpaid ones with their total when ?unbilled=true.
func (s *Server) ListStudentCharges(c *gin.Context) {
	schoolID, ok := pathID(c, "school_id")
	if !ok {
		return
	}
	studentID, ok := pathID(c, "student_id")
	if !ok {
		return
	}

	if c.Query("unbilled") == "true" {
		charges, total, err := s.chargeSvc.ListUnbilled(c.Request.Context(), schoolID, studentID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": charges, "total": total})
		return
	}

	charges, err := s.chargeSvc.ListForStudent(c.Request.Context(), schoolID, studentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": charges})
}
