package vnpay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// ErrQueryDisabled is returned when no API URL is configured.
var ErrQueryDisabled = errors.New("vnpay: query api not configured")

// QueryResult is the gateway's view of a transaction.
type QueryResult struct {
	ResponseCode      string
	Message           string
	TransactionStatus string
	TransactionNo     string
	BankCode          string
	Amount            int64
	PayDate           time.Time
}

// Paid reports whether the gateway settled the transaction.
func (r QueryResult) Paid() bool {
	return r.ResponseCode == ResponseSuccess && r.TransactionStatus == ResponseSuccess
}

// Pending reports whether the customer has not finished paying yet.
func (r QueryResult) Pending() bool {
	return r.ResponseCode == ResponseSuccess && (r.TransactionStatus == "01" || r.TransactionStatus == "")
}

// QueryTransaction asks the gateway for the status of txnRef.
func (c *Client) QueryTransaction(ctx context.Context, txnRef string, createdAt time.Time, clientIP string) (QueryResult, error) {
	if c.http == nil {
		return QueryResult{}, ErrQueryDisabled
	}
	if clientIP == "" {
		clientIP = "127.0.0.1"
	}
	requestID := strings.ReplaceAll(uuid.NewString(), "-", "")
	transactionDate := FormatTime(createdAt)
	createDate := FormatTime(c.now())
	orderInfo := "Truy van giao dich " + txnRef

	hashData := strings.Join([]string{
		requestID, Version, CommandQuery, c.cfg.TmnCode, txnRef,
		transactionDate, createDate, clientIP, orderInfo,
	}, "|")

	body := map[string]string{
		"vnp_RequestId":       requestID,
		"vnp_Version":         Version,
		"vnp_Command":         CommandQuery,
		"vnp_TmnCode":         c.cfg.TmnCode,
		"vnp_TxnRef":          txnRef,
		"vnp_OrderInfo":       orderInfo,
		"vnp_TransactionDate": transactionDate,
		"vnp_CreateDate":      createDate,
		"vnp_IpAddr":          clientIP,
		"vnp_SecureHash":      Sign(c.cfg.HashSecret, hashData),
	}

	raw, err := c.http.PostJSON(ctx, "", body)
	if err != nil {
		return QueryResult{}, fmt.Errorf("vnpay query %s: %w", txnRef, err)
	}
	if !gjson.ValidBytes(raw) {
		return QueryResult{}, fmt.Errorf("vnpay query %s: invalid json response", txnRef)
	}

	parsed := gjson.ParseBytes(raw)
	res := QueryResult{
		ResponseCode:      parsed.Get("vnp_ResponseCode").String(),
		Message:           parsed.Get("vnp_Message").String(),
		TransactionStatus: parsed.Get("vnp_TransactionStatus").String(),
		TransactionNo:     parsed.Get("vnp_TransactionNo").String(),
		BankCode:          parsed.Get("vnp_BankCode").String(),
		Amount:            parsed.Get("vnp_Amount").Int() / 100,
	}
	if pay := parsed.Get("vnp_PayDate").String(); pay != "" {
		if t, err := ParseTime(pay); err == nil {
			res.PayDate = t
		}
	}
	return res, nil
}
