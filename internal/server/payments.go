package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/seatbroker/internal/observability/logger"
	"github.com/smallbiznis/seatbroker/internal/payment/adapters/epay"
	paymentdomain "github.com/smallbiznis/seatbroker/internal/payment/domain"
	"github.com/smallbiznis/seatbroker/pkg/errkind"
	"go.uber.org/zap"
)

const (
	notifyAckSuccess = "success"
	notifyAckFail    = "fail"
	maxNotifyBody    = 64 << 10
)

type createOrderRequest struct {
	Email   string `json:"email"`
	PayType string `json:"pay_type"`
}

func (s *Server) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		AbortWithError(c, newValidationError("email", "required", "email is required"))
		return
	}

	resp, err := s.paymentSvc.CreateOrder(c.Request.Context(), paymentdomain.CreateOrderRequest{
		Email:   req.Email,
		PayType: strings.TrimSpace(req.PayType),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetOrderStatus(c *gin.Context) {
	order, err := s.paymentSvc.GetStatus(c.Request.Context(), strings.TrimSpace(c.Param("order_no")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": order})
}

func (s *Server) ListOrdersByEmail(c *gin.Context) {
	email := strings.TrimSpace(c.Query("email"))
	if email == "" {
		AbortWithError(c, newValidationError("email", "required", "email is required"))
		return
	}

	orders, err := s.paymentSvc.ListByEmail(c.Request.Context(), email)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": orders})
}

// HandlePaymentNotify answers the gateway in plain text. "success" stops the
// gateway from retrying, so it is only sent once the callback is applied or
// was already applied.
func (s *Server) HandlePaymentNotify(c *gin.Context) {
	ctx := c.Request.Context()
	values, err := notifyValues(c)
	if err != nil {
		logger.FromContext(ctx).Warn("payment notify body unreadable", zap.Error(err))
		c.String(http.StatusBadRequest, notifyAckFail)
		return
	}

	raw := make(map[string]string, len(values))
	for k := range values {
		raw[k] = values.Get(k)
	}

	err = s.paymentSvc.HandleNotification(ctx, paymentdomain.Notification{
		Notification: epay.NotificationFromValues(values),
		Raw:          raw,
	})
	if err != nil {
		logger.FromContext(ctx).Warn("payment notify rejected",
			zap.String("order_no", values.Get("out_trade_no")),
			zap.String("reason", errkind.CodeOf(err)),
		)
		c.String(http.StatusOK, notifyAckFail)
		return
	}

	c.String(http.StatusOK, notifyAckSuccess)
}

// notifyValues merges query parameters with a form or JSON body.
func notifyValues(c *gin.Context) (url.Values, error) {
	values := url.Values{}
	for k, v := range c.Request.URL.Query() {
		values[k] = v
	}
	if c.Request.Method != http.MethodPost || c.Request.Body == nil {
		return values, nil
	}

	if strings.HasPrefix(c.ContentType(), "application/json") {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxNotifyBody))
		if err != nil {
			return nil, err
		}
		if len(body) == 0 {
			return values, nil
		}
		var payload map[string]any
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		if err := dec.Decode(&payload); err != nil {
			return nil, err
		}
		for k, v := range payload {
			switch v := v.(type) {
			case nil:
			case string:
				values.Set(k, v)
			case json.Number:
				values.Set(k, v.String())
			default:
				values.Set(k, fmt.Sprint(v))
			}
		}
		return values, nil
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxNotifyBody)
	if err := c.Request.ParseForm(); err != nil {
		return nil, err
	}
	for k, v := range c.Request.PostForm {
		values[k] = v
	}
	return values, nil
}

func (s *Server) ListOrders(c *gin.Context) {
	var req paymentdomain.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.paymentSvc.ListOrders(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Orders, "page_info": resp.PageInfo})
}

func (s *Server) ManualRedeemOrder(c *gin.Context) {
	order, err := s.paymentSvc.ManualRedeem(c.Request.Context(), strings.TrimSpace(c.Param("order_no")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": order})
}

type markFailedRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) MarkOrderFailed(c *gin.Context) {
	var req markFailedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	order, err := s.paymentSvc.MarkFailed(c.Request.Context(), strings.TrimSpace(c.Param("order_no")), strings.TrimSpace(req.Reason))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": order})
}
