package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	reconciledomain "github.com/smallbiznis/seatbroker/internal/reconcile/domain"
)

const defaultRunsLimit = 20

func (s *Server) TriggerSync(c *gin.Context) {
	res, err := s.reconcileSvc.SyncResources(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": res})
}

func (s *Server) TriggerCleanup(c *gin.Context) {
	res, err := s.reconcileSvc.CleanupExpiredGrants(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": res})
}

func (s *Server) ListReconcileRuns(c *gin.Context) {
	job := reconciledomain.Job(strings.TrimSpace(c.Query("job")))
	switch job {
	case "", reconciledomain.JobResourceSync, reconciledomain.JobGrantCleanup:
	default:
		AbortWithError(c, newValidationError("job", "invalid_job", "job must be resource_sync or grant_cleanup"))
		return
	}

	limit, err := parseOptionalInt(c.Query("limit"))
	if err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "limit must be a number"))
		return
	}
	n := defaultRunsLimit
	if limit != nil && *limit > 0 {
		n = *limit
	}

	runs, err := s.reconcileSvc.RecentRuns(c.Request.Context(), job, n)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": runs})
}
