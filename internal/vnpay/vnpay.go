// Package vnpay signs payment redirects for the VNPay gateway and verifies the
// callbacks it sends back.
package vnpay

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/qltv/library_service/internal/httputil"
)

const (
	Version       = "2.1.0"
	CommandPay    = "pay"
	CommandQuery  = "querydr"
	CurrencyVND   = "VND"
	DefaultLocale = "vn"
	timeLayout    = "20060102150405"

	// ResponseSuccess is the response and transaction status code for a paid order.
	ResponseSuccess = "00"
)

var location = loadLocation()

func loadLocation() *time.Location {
	loc, err := time.LoadLocation("Asia/Ho_Chi_Minh")
	if err != nil {
		return time.FixedZone("ICT", 7*60*60)
	}
	return loc
}

// Config holds merchant credentials and endpoints.
type Config struct {
	TmnCode    string
	HashSecret string
	PayURL     string
	APIURL     string
	ReturnURL  string
	Locale     string
}

// Client builds and verifies gateway messages.
type Client struct {
	cfg  Config
	http *httputil.Client
	now  func() time.Time
}

// New creates a client. An empty APIURL disables QueryTransaction.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.TmnCode) == "" || strings.TrimSpace(cfg.HashSecret) == "" {
		return nil, errors.New("vnpay: tmn code and hash secret are required")
	}
	if strings.TrimSpace(cfg.PayURL) == "" {
		return nil, errors.New("vnpay: pay url is required")
	}
	if cfg.Locale == "" {
		cfg.Locale = DefaultLocale
	}
	c := &Client{cfg: cfg, now: time.Now}
	if cfg.APIURL != "" {
		c.http = httputil.NewClient(httputil.ClientConfig{BaseURL: cfg.APIURL, Timeout: 15 * time.Second, MaxRetries: 1})
	}
	return c, nil
}

// PaymentRequest describes one redirect to the gateway.
type PaymentRequest struct {
	TxnRef    string
	Amount    int64
	OrderInfo string
	OrderType string
	IPAddr    string
	CreatedAt time.Time
	Expire    time.Duration
}

// BuildPaymentURL returns the signed redirect URL.
func (c *Client) BuildPaymentURL(req PaymentRequest) (string, error) {
	if req.TxnRef == "" {
		return "", errors.New("vnpay: txn ref is required")
	}
	if req.Amount <= 0 {
		return "", errors.New("vnpay: amount must be positive")
	}
	created := req.CreatedAt
	if created.IsZero() {
		created = c.now()
	}
	expire := req.Expire
	if expire <= 0 {
		expire = 15 * time.Minute
	}
	orderType := req.OrderType
	if orderType == "" {
		orderType = "other"
	}
	ip := req.IPAddr
	if ip == "" {
		ip = "127.0.0.1"
	}

	params := map[string]string{
		"vnp_Version":    Version,
		"vnp_Command":    CommandPay,
		"vnp_TmnCode":    c.cfg.TmnCode,
		"vnp_Amount":     strconv.FormatInt(req.Amount*100, 10),
		"vnp_CurrCode":   CurrencyVND,
		"vnp_TxnRef":     req.TxnRef,
		"vnp_OrderInfo":  req.OrderInfo,
		"vnp_OrderType":  orderType,
		"vnp_Locale":     c.cfg.Locale,
		"vnp_ReturnUrl":  c.cfg.ReturnURL,
		"vnp_IpAddr":     ip,
		"vnp_CreateDate": FormatTime(created),
		"vnp_ExpireDate": FormatTime(created.Add(expire)),
	}
	query := canonicalQuery(params)
	return c.cfg.PayURL + "?" + query + "&vnp_SecureHash=" + Sign(c.cfg.HashSecret, query), nil
}

// Result is a verified gateway callback.
type Result struct {
	Valid             bool
	Success           bool
	TxnRef            string
	Amount            int64
	TransactionNo     string
	BankCode          string
	ResponseCode      string
	TransactionStatus string
	OrderInfo         string
	PayDate           time.Time
}

// VerifyReturn checks the signature of a return or IPN query. A bad signature
// yields Valid=false and no error; malformed amounts are errors.
func (c *Client) VerifyReturn(values url.Values) (Result, error) {
	received := values.Get("vnp_SecureHash")
	params := make(map[string]string, len(values))
	for key := range values {
		if !strings.HasPrefix(key, "vnp_") || key == "vnp_SecureHash" || key == "vnp_SecureHashType" {
			continue
		}
		params[key] = values.Get(key)
	}
	expected := Sign(c.cfg.HashSecret, canonicalQuery(params))
	if received == "" || !hmac.Equal([]byte(strings.ToLower(received)), []byte(expected)) {
		return Result{}, nil
	}

	res := Result{
		Valid:             true,
		TxnRef:            params["vnp_TxnRef"],
		TransactionNo:     params["vnp_TransactionNo"],
		BankCode:          params["vnp_BankCode"],
		ResponseCode:      params["vnp_ResponseCode"],
		TransactionStatus: params["vnp_TransactionStatus"],
		OrderInfo:         params["vnp_OrderInfo"],
	}
	if raw := params["vnp_Amount"]; raw != "" {
		amount, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Result{}, errors.New("vnpay: invalid amount")
		}
		res.Amount = amount / 100
	}
	if raw := params["vnp_PayDate"]; raw != "" {
		if t, err := ParseTime(raw); err == nil {
			res.PayDate = t
		}
	}
	res.Success = res.ResponseCode == ResponseSuccess &&
		(res.TransactionStatus == "" || res.TransactionStatus == ResponseSuccess)
	return res, nil
}

// Sign returns the lowercase hex HMAC-SHA512 of data.
func Sign(secret, data string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// FormatTime renders t in gateway time.
func FormatTime(t time.Time) string {
	return t.In(location).Format(timeLayout)
}

// ParseTime parses a gateway timestamp.
func ParseTime(raw string) (time.Time, error) {
	return time.ParseInLocation(timeLayout, raw, location)
}

var formEscaper = strings.NewReplacer("%2A", "*", "~", "%7E")

// encode matches the gateway's form encoding, which keeps '*' and escapes '~'.
func encode(v string) string {
	return formEscaper.Replace(url.QueryEscape(v))
}

// canonicalQuery sorts keys and skips empty values.
func canonicalQuery(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(encode(params[k]))
	}
	return b.String()
}
