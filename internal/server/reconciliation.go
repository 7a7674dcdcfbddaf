package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

type createReconciliationRunRequest struct {
	TriggeredByUserID *snowflake.ID `json:"triggered_by_user_id"`
}

func (s *Server) CreateReconciliationRun(c *gin.Context) {
	schoolID, ok := pathID(c, "school_id")
	if !ok {
		return
	}

	var req createReconciliationRunRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			req = createReconciliationRunRequest{}
		}
	}

	run, err := s.reconSvc.Run(c.Request.Context(), schoolID, req.TriggeredByUserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": run})
}

func (s *Server) ListReconciliationRuns(c *gin.Context) {
	schoolID, ok := pathID(c, "school_id")
	if !ok {
		return
	}

	runs, err := s.reconSvc.ListRuns(c.Request.Context(), schoolID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": runs})
}

func (s *Server) GetReconciliationRun(c *gin.Context) {
	schoolID, ok := pathID(c, "school_id")
	if !ok {
		return
	}
	runID, ok := pathID(c, "run_id")
	if !ok {
		return
	}

	result, err := s.reconSvc.GetRun(c.Request.Context(), schoolID, runID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result.Run, "findings": result.Findings})
}
