package server

import (
	"net/http"

	feedomain "github.com/classbill/classbill/internal/fee/domain"
	"github.com/classbill/classbill/pkg/apperr"
	"github.com/gin-gonic/gin"
)

func (s *Server) CreateFee(c *gin.Context) {
	schoolID, ok := pathID(c, "school_id")
	if !ok {
		return
	}

	var req feedomain.CreateFeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, apperr.Validation("Invalid request body"))
		return
	}

	fee, err := s.feeSvc.Create(c.Request.Context(), schoolID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": fee})
}

func (s *Server) ListFees(c *gin.Context) {
	schoolID, ok := pathID(c, "school_id")
	if !ok {
		return
	}

	fees, err := s.feeSvc.List(c.Request.Context(), schoolID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": fees})
}

func (s *Server) GetFee(c *gin.Context) {
	schoolID, ok := pathID(c, "school_id")
	if !ok {
		return
	}
	feeID, ok := pathID(c, "fee_id")
	if !ok {
		return
	}

	fee, err := s.feeSvc.GetByID(c.Request.Context(), schoolID, feeID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": fee})
}

func (s *Server) UpdateFee(c *gin.Context) {
	schoolID, ok := pathID(c, "school_id")
	if !ok {
		return
	}
	feeID, ok := pathID(c, "fee_id")
	if !ok {
		return
	}

	var req feedomain.UpdateFeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, apperr.Validation("Invalid request body"))
		return
	}

	fee, err := s.feeSvc.Update(c.Request.Context(), schoolID, feeID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": fee})
}

func (s *Server) DeleteFee(c *gin.Context) {
	schoolID, ok := pathID(c, "school_id")
	if !ok {
		return
	}
	feeID, ok := pathID(c, "fee_id")
	if !ok {
		return
	}

	if err := s.feeSvc.Delete(c.Request.Context(), schoolID, feeID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
