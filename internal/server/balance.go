package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) GetStudentBalance(c *gin.Context) {
	schoolID, ok := pathID(c, "school_id")
	if !ok {
		return
	}
	studentID, ok := pathID(c, "student_id")
	if !ok {
		return
	}

	snapshot, err := s.balanceSvc.Snapshot(c.Request.Context(), schoolID, studentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": snapshot})
}
