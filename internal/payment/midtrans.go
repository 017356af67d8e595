package payment

import (
	"bytes"
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// 对账关心的 transaction_status 取值。
const (
	TxStatusCapture    = "capture"
	TxStatusSettlement = "settlement"
	TxStatusPending    = "pending"
	TxStatusCancel     = "cancel"
	TxStatusExpire     = "expire"
	TxStatusDeny       = "deny"

	FraudAccept    = "accept"
	FraudChallenge = "challenge"
	FraudDeny      = "deny"
)

// TransactionStatus 是网关状态查询接口返回的权威交易视图。
type TransactionStatus struct {
	OrderID           string `json:"order_id"`
	TransactionID     string `json:"transaction_id"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
}

// ChargeRequest 描述一次新交易（结账或续费）。
type ChargeRequest struct {
	OrderID     string
	GrossAmount float64
	FirstName   string
	Email       string
}

// ChargeResult 携带 Snap 跳转信息。
type ChargeResult struct {
	Token       string `json:"token"`
	RedirectURL string `json:"redirect_url"`
}

// StatusFetcher 抽象网关的交易状态查询，便于测试替换。
type StatusFetcher interface {
	TransactionStatus(ctx context.Context, orderID string) (*TransactionStatus, error)
}

// Client 封装 Midtrans HTTP API。
type Client struct {
	serverKey  string
	baseURL    string
	snapURL    string
	httpClient *http.Client
}

// NewClient 构造网关客户端。
func NewClient(serverKey, baseURL, snapURL string) *Client {
	return &Client{
		serverKey:  serverKey,
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		snapURL:    strings.TrimRight(strings.TrimSpace(snapURL), "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// VerifySignature 按网关文档重算签名并做常量时间比较。
// 签名 = SHA512(order_id + status_code + gross_amount + server_key) 的十六进制。
func (c *Client) VerifySignature(orderID, statusCode, grossAmount, signatureKey string) bool {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + c.serverKey))
	expected := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(signatureKey))) == 1
}

// TransactionStatus 查询网关侧的权威交易状态。
func (c *Client) TransactionStatus(ctx context.Context, orderID string) (*TransactionStatus, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("gateway base url missing")
	}

	targetURL := fmt.Sprintf("%s/v2/%s/status", c.baseURL, orderID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build status request: %w", err)
	}
	req.SetBasicAuth(c.serverKey, "")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request transaction status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
		return nil, fmt.Errorf("transaction status %s: http %d: %s",
			orderID, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var status TransactionStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode transaction status: %w", err)
	}
	return &status, nil
}

// ChargeTransaction 通过 Snap 创建一笔新交易，返回支付跳转信息。
// 结账与续费共用此入口；失败时由调用方回应 502。
func (c *Client) ChargeTransaction(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if c.snapURL == "" {
		return nil, fmt.Errorf("gateway snap url missing")
	}

	payload := map[string]any{
		"transaction_details": map[string]any{
			"order_id":     req.OrderID,
			"gross_amount": req.GrossAmount,
		},
		"customer_details": map[string]any{
			"first_name": req.FirstName,
			"email":      req.Email,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal charge payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.snapURL+"/transactions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build charge request: %w", err)
	}
	httpReq.SetBasicAuth(c.serverKey, "")
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request charge: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
		return nil, fmt.Errorf("charge %s: http %d: %s",
			req.OrderID, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var result ChargeResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode charge result: %w", err)
	}
	return &result, nil
}
