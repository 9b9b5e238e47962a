package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	redemptiondomain "github.com/smallbiznis/seatbroker/internal/redemption/domain"
	warrantydomain "github.com/smallbiznis/seatbroker/internal/warranty/domain"
)

type stockResponse struct {
	Available   int    `json:"available"`
	Resources   int    `json:"resources"`
	Price       string `json:"price"`
	ProductName string `json:"product_name"`
	SoldOut     bool   `json:"sold_out"`
}

func (s *Server) GetStock(c *gin.Context) {
	stock, err := s.resourceSvc.Stock(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := stockResponse{
		Available: stock.Available,
		Resources: stock.Resources,
		SoldOut:   stock.Available <= 0,
	}
	if s.storefront != nil {
		sf := s.storefront.Get()
		resp.Price = sf.Amount().StringFixed(2)
		resp.ProductName = sf.ProductName
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type redeemRequest struct {
	Code  string `json:"code"`
	Email string `json:"email"`
}

func (s *Server) Redeem(c *gin.Context) {
	var req redeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		AbortWithError(c, newValidationError("code", "required", "code is required"))
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		AbortWithError(c, newValidationError("email", "required", "email is required"))
		return
	}

	resp, err := s.codeSvc.Redeem(c.Request.Context(), redemptiondomain.RedeemRequest{
		Code:  req.Code,
		Email: req.Email,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type warrantyRequest struct {
	Query string `json:"query"`
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (r warrantyRequest) empty() bool {
	return strings.TrimSpace(r.Query) == "" && strings.TrimSpace(r.Email) == "" && strings.TrimSpace(r.Code) == ""
}

func (s *Server) CheckWarranty(c *gin.Context) {
	var req warrantyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.empty() {
		AbortWithError(c, newValidationError("query", "required", "email or code is required"))
		return
	}

	resp, err := s.warrantySvc.Check(c.Request.Context(), warrantydomain.CheckRequest{
		Email: req.Email,
		Code:  req.Code,
		Query: req.Query,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ValidateWarrantyReuse(c *gin.Context) {
	var req warrantyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.Code) == "" || strings.TrimSpace(req.Email) == "" {
		AbortWithError(c, newValidationError("code", "required", "code and email are required"))
		return
	}

	resp, err := s.warrantySvc.ValidateReuse(c.Request.Context(), warrantydomain.ReuseRequest{
		Code:  req.Code,
		Email: req.Email,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ReinviteWarranty(c *gin.Context) {
	var req warrantyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		AbortWithError(c, newValidationError("email", "required", "email is required"))
		return
	}

	resp, err := s.warrantySvc.Reinvite(c.Request.Context(), warrantydomain.ReinviteRequest{
		Email: req.Email,
		Code:  req.Code,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
