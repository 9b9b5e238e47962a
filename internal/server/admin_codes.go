package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	redemptiondomain "github.com/smallbiznis/seatbroker/internal/redemption/domain"
)

func (s *Server) ListCodes(c *gin.Context) {
	var req redemptiondomain.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.codeSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Codes, "page_info": resp.PageInfo})
}

func (s *Server) GenerateCodes(c *gin.Context) {
	var req redemptiondomain.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	codes, err := s.codeSvc.Generate(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": codes, "total": len(codes)})
}

func (s *Server) GetCode(c *gin.Context) {
	code, err := s.codeSvc.Get(c.Request.Context(), strings.TrimSpace(c.Param("code")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": code})
}

func (s *Server) UpdateCode(c *gin.Context) {
	var req redemptiondomain.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	code, err := s.codeSvc.Update(c.Request.Context(), strings.TrimSpace(c.Param("code")), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": code})
}

func (s *Server) BulkUpdateCodes(c *gin.Context) {
	var req redemptiondomain.BulkUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	updated, err := s.codeSvc.BulkUpdate(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

func (s *Server) DeleteCode(c *gin.Context) {
	if err := s.codeSvc.Delete(c.Request.Context(), strings.TrimSpace(c.Param("code"))); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
