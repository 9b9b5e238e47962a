// Package epay implements the EPay merchant protocol: MD5 signed redirect
// requests and MD5 signed asynchronous notifications.
package epay

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"net/url"
	"strings"

	"github.com/smallbiznis/seatbroker/pkg/errkind"
)

const (
	Provider           = "epay"
	TradeStatusSuccess = "TRADE_SUCCESS"
	SignTypeMD5        = "MD5"
	submitPath         = "/submit.php"
)

var (
	ErrInvalidSignature = errkind.New(errkind.KindSignatureInvalid, "invalid_signature")
	ErrMissingKey       = errkind.New(errkind.KindConfigurationMissing, "payment_not_configured")
)

// requestSignKeys is the ordered field set signed on the redirect request.
var requestSignKeys = []string{
	"money",
	"name",
	"notify_url",
	"out_trade_no",
	"pid",
	"return_url",
	"sitename",
	"type",
}

// Notification is the payment confirmation the gateway delivers to notify_url.
type Notification struct {
	PID         string `form:"pid" json:"pid"`
	TradeNo     string `form:"trade_no" json:"trade_no"`
	OutTradeNo  string `form:"out_trade_no" json:"out_trade_no"`
	Type        string `form:"type" json:"type"`
	Name        string `form:"name" json:"name"`
	Money       string `form:"money" json:"money"`
	TradeStatus string `form:"trade_status" json:"trade_status"`
	Sign        string `form:"sign" json:"sign"`
	SignType    string `form:"sign_type" json:"sign_type"`
}

// NotificationFromValues reads a notification from a query string or form body.
func NotificationFromValues(v url.Values) Notification {
	return Notification{
		PID:         strings.TrimSpace(v.Get("pid")),
		TradeNo:     strings.TrimSpace(v.Get("trade_no")),
		OutTradeNo:  strings.TrimSpace(v.Get("out_trade_no")),
		Type:        strings.TrimSpace(v.Get("type")),
		Name:        v.Get("name"),
		Money:       strings.TrimSpace(v.Get("money")),
		TradeStatus: strings.TrimSpace(v.Get("trade_status")),
		Sign:        strings.TrimSpace(v.Get("sign")),
		SignType:    strings.TrimSpace(v.Get("sign_type")),
	}
}

// Values returns the notification as form values, sign included.
func (n Notification) Values() url.Values {
	v := url.Values{}
	v.Set("pid", n.PID)
	v.Set("trade_no", n.TradeNo)
	v.Set("out_trade_no", n.OutTradeNo)
	v.Set("type", n.Type)
	v.Set("name", n.Name)
	v.Set("money", n.Money)
	v.Set("trade_status", n.TradeStatus)
	v.Set("sign", n.Sign)
	if n.SignType != "" {
		v.Set("sign_type", n.SignType)
	}
	return v
}

// NotificationSignString is the exact byte string the gateway hashes, key excluded.
func NotificationSignString(n Notification) string {
	var b strings.Builder
	b.WriteString("money=")
	b.WriteString(n.Money)
	b.WriteString("&name=")
	b.WriteString(n.Name)
	b.WriteString("&out_trade_no=")
	b.WriteString(n.OutTradeNo)
	b.WriteString("&pid=")
	b.WriteString(n.PID)
	b.WriteString("&trade_no=")
	b.WriteString(n.TradeNo)
	b.WriteString("&trade_status=")
	b.WriteString(n.TradeStatus)
	b.WriteString("&type=")
	b.WriteString(n.Type)
	return b.String()
}

// RequestSignString joins the non-empty request sign fields in their fixed order.
func RequestSignString(params map[string]string) string {
	parts := make([]string, 0, len(requestSignKeys))
	for _, k := range requestSignKeys {
		if v := params[k]; v != "" {
			parts = append(parts, k+"="+v)
		}
	}
	return strings.Join(parts, "&")
}

func digest(s, key string) string {
	sum := md5.Sum([]byte(s + key))
	return hex.EncodeToString(sum[:])
}

type Adapter struct {
	merchantID string
	key        string
	gatewayURL string
	sitename   string
}

func NewAdapter(merchantID, key, gatewayURL, sitename string) (*Adapter, error) {
	merchantID = strings.TrimSpace(merchantID)
	key = strings.TrimSpace(key)
	gatewayURL = strings.TrimRight(strings.TrimSpace(gatewayURL), "/")
	if merchantID == "" || key == "" || gatewayURL == "" {
		return nil, ErrMissingKey
	}
	return &Adapter{
		merchantID: merchantID,
		key:        key,
		gatewayURL: gatewayURL,
		sitename:   strings.TrimSpace(sitename),
	}, nil
}

func (a *Adapter) MerchantID() string { return a.merchantID }

// SignRequest returns the MD5 signature for an outbound request.
func (a *Adapter) SignRequest(params map[string]string) string {
	return digest(RequestSignString(params), a.key)
}

// PayRequest describes one redirect to the gateway checkout.
type PayRequest struct {
	OrderNo   string
	Name      string
	Money     string
	PayType   string
	NotifyURL string
	ReturnURL string
}

// PayURL builds the signed submit.php redirect.
func (a *Adapter) PayURL(req PayRequest) string {
	params := map[string]string{
		"pid":          a.merchantID,
		"type":         req.PayType,
		"out_trade_no": req.OrderNo,
		"notify_url":   req.NotifyURL,
		"return_url":   req.ReturnURL,
		"name":         req.Name,
		"money":        req.Money,
	}
	if a.sitename != "" {
		params["sitename"] = a.sitename
	}

	q := url.Values{}
	for k, v := range params {
		if v != "" {
			q.Set(k, v)
		}
	}
	q.Set("sign_type", SignTypeMD5)
	q.Set("sign", a.SignRequest(params))
	return a.gatewayURL + submitPath + "?" + q.Encode()
}

// Verify checks the notification signature and merchant id.
func (a *Adapter) Verify(n Notification) error {
	if n.Sign == "" {
		return ErrInvalidSignature
	}
	expected := digest(NotificationSignString(n), a.key)
	if subtle.ConstantTimeCompare([]byte(strings.ToLower(n.Sign)), []byte(expected)) != 1 {
		return ErrInvalidSignature
	}
	if n.PID != "" && n.PID != a.merchantID {
		return ErrInvalidSignature
	}
	return nil
}
