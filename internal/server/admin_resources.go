package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	resourcedomain "github.com/smallbiznis/seatbroker/internal/resource/domain"
)

const maxImportBatch = 500

func (s *Server) ListResources(c *gin.Context) {
	var req resourcedomain.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.resourceSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Resources, "page_info": resp.PageInfo})
}

func (s *Server) GetResource(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	res, err := s.resourceSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": res})
}

func (s *Server) ImportResource(c *gin.Context) {
	var req resourcedomain.ImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	res, created, err := s.resourceSvc.UpsertFromImport(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"data": res, "created": created})
}

type importResourcesRequest struct {
	Resources []resourcedomain.ImportRequest `json:"resources"`
}

func (s *Server) ImportResources(c *gin.Context) {
	var req importResourcesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if len(req.Resources) == 0 {
		AbortWithError(c, newValidationError("resources", "required", "resources is required"))
		return
	}
	if len(req.Resources) > maxImportBatch {
		AbortWithError(c, newValidationError("resources", "too_many", "at most 500 resources per batch"))
		return
	}

	results := s.resourceSvc.ImportBatch(c.Request.Context(), req.Resources)
	var created, failed int
	for _, r := range results {
		switch {
		case r.Error != "":
			failed++
		case r.Created:
			created++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"data":    results,
		"total":   len(results),
		"created": created,
		"failed":  failed,
	})
}

func (s *Server) UpdateResource(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req resourcedomain.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	res, err := s.resourceSvc.Update(c.Request.Context(), id, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": res})
}

func (s *Server) DeleteResource(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.resourceSvc.Delete(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
