package server

import (
	"net/http"

	paymentdomain "github.com/classbill/classbill/internal/payment/domain"
	"github.com/classbill/classbill/pkg/apperr"
	"github.com/gin-gonic/gin"
)

func (s *Server) ApplyPayment(c *gin.Context) {
	schoolID, ok := pathID(c, "school_id")
	if !ok {
		return
	}

	var req paymentdomain.ApplyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, apperr.Validation("Invalid request body"))
		return
	}

	payment, err := s.paymentSvc.Apply(c.Request.Context(), schoolID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": payment})
}

func (s *Server) GetPayment(c *gin.Context) {
	schoolID, ok := pathID(c, "school_id")
	if !ok {
		return
	}
	paymentID, ok := pathID(c, "payment_id")
	if !ok {
		return
	}

	payment, err := s.paymentSvc.GetByID(c.Request.Context(), schoolID, paymentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": payment})
}

func (s *Server) ListInvoicePayments(c *gin.Context) {
	schoolID, ok := pathID(c, "school_id")
	if !ok {
		return
	}
	invoiceID, ok := pathID(c, "invoice_id")
	if !ok {
		return
	}

	payments, err := s.paymentSvc.ListForInvoice(c.Request.Context(), schoolID, invoiceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": payments})
}
