package api

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"phJobs/internal/database"
	"phJobs/internal/payment"
)

const testServerKey = "test-server-key"

type fakeStatusFetcher struct {
	status *payment.TransactionStatus
	err    error
}

func (f *fakeStatusFetcher) TransactionStatus(_ context.Context, _ string) (*payment.TransactionStatus, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.status, nil
}

func newWebhookTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&database.User{},
		&database.SubscriptionPlan{},
		&database.Subscription{},
		&database.Notification{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedPendingSubscription(t *testing.T, db *gorm.DB) database.Subscription {
	t.Helper()
	user := database.User{Username: "employer1", Email: "employer1@example.com", Role: "employer"}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	plan := database.SubscriptionPlan{Name: "Pro", Slug: "pro", Price: 150000, DurationDays: 30, IsActive: true}
	if err := db.Create(&plan).Error; err != nil {
		t.Fatalf("seed plan: %v", err)
	}
	sub := database.Subscription{
		UserID:        user.ID,
		PlanID:        plan.ID,
		Status:        payment.SubStatusPending,
		PaymentStatus: payment.PayStatusPending,
	}
	if err := db.Create(&sub).Error; err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
	return sub
}

func newWebhookRouter(db *gorm.DB, fetcher payment.StatusFetcher) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := slog.Default()
	verifier := payment.NewClient(testServerKey, "", "")
	reconciler := payment.NewReconciler(db, fetcher, logger)
	handler := NewWebhookHandler(db, verifier, reconciler, nil, logger)

	router := gin.New()
	router.POST("/v1/payments/midtrans/notify", handler.HandlePaymentNotification)
	return router
}

func signedNotification(sub database.Subscription, txStatus, fraudStatus string) map[string]string {
	orderID := fmt.Sprintf("%d", sub.ID)
	statusCode := "200"
	grossAmount := "150000.00"
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + testServerKey))
	return map[string]string{
		"order_id":           orderID,
		"transaction_status": txStatus,
		"transaction_id":     "tx-777",
		"fraud_status":       fraudStatus,
		"status_code":        statusCode,
		"gross_amount":       grossAmount,
		"signature_key":      hex.EncodeToString(sum[:]),
	}
}

func postNotification(t *testing.T, router *gin.Engine, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/payments/midtrans/notify", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestWebhook_BadPayload(t *testing.T) {
	db := newWebhookTestDB(t)
	router := newWebhookRouter(db, &fakeStatusFetcher{})

	w := postNotification(t, router, map[string]string{"order_id": "1"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestWebhook_InvalidSignatureRejectedWithoutWrite(t *testing.T) {
	db := newWebhookTestDB(t)
	sub := seedPendingSubscription(t, db)
	router := newWebhookRouter(db, &fakeStatusFetcher{status: &payment.TransactionStatus{
		TransactionStatus: payment.TxStatusSettlement,
	}})

	payload := signedNotification(sub, payment.TxStatusSettlement, payment.FraudAccept)
	payload["signature_key"] = strings.Repeat("ab", 64)

	w := postNotification(t, router, payload)
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}

	var stored database.Subscription
	if err := db.First(&stored, sub.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.Status != payment.SubStatusPending {
		t.Errorf("subscription mutated on bad signature: %s", stored.Status)
	}
}

func TestWebhook_SettlementActivatesAndNotifies(t *testing.T) {
	db := newWebhookTestDB(t)
	sub := seedPendingSubscription(t, db)
	router := newWebhookRouter(db, &fakeStatusFetcher{status: &payment.TransactionStatus{
		TransactionStatus: payment.TxStatusSettlement,
		FraudStatus:       payment.FraudAccept,
		TransactionID:     "tx-777",
	}})

	w := postNotification(t, router, signedNotification(sub, payment.TxStatusSettlement, payment.FraudAccept))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var stored database.Subscription
	if err := db.First(&stored, sub.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.Status != payment.SubStatusActive || stored.PaymentStatus != payment.PayStatusCompleted {
		t.Errorf("subscription = %s/%s, want ACTIVE/COMPLETED", stored.Status, stored.PaymentStatus)
	}
	if stored.EndDate == nil {
		t.Error("expected end date to be set")
	}

	var notifications int64
	if err := db.Model(&database.Notification{}).
		Where("user_id = ? AND type = ?", sub.UserID, "subscription").
		Count(&notifications).Error; err != nil {
		t.Fatalf("count notifications: %v", err)
	}
	if notifications != 1 {
		t.Errorf("notifications = %d, want 1", notifications)
	}
}

func TestWebhook_ReplayIsIdempotent(t *testing.T) {
	db := newWebhookTestDB(t)
	sub := seedPendingSubscription(t, db)
	router := newWebhookRouter(db, &fakeStatusFetcher{status: &payment.TransactionStatus{
		TransactionStatus: payment.TxStatusSettlement,
		FraudStatus:       payment.FraudAccept,
		TransactionID:     "tx-777",
	}})

	payload := signedNotification(sub, payment.TxStatusSettlement, payment.FraudAccept)
	if w := postNotification(t, router, payload); w.Code != http.StatusOK {
		t.Fatalf("first delivery: status = %d", w.Code)
	}

	var afterFirst database.Subscription
	if err := db.First(&afterFirst, sub.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}

	if w := postNotification(t, router, payload); w.Code != http.StatusOK {
		t.Fatalf("replay: status = %d", w.Code)
	}

	var afterReplay database.Subscription
	if err := db.First(&afterReplay, sub.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !afterReplay.EndDate.Equal(*afterFirst.EndDate) {
		t.Errorf("end date moved on replay: %v -> %v", afterFirst.EndDate, afterReplay.EndDate)
	}

	var notifications int64
	if err := db.Model(&database.Notification{}).Count(&notifications).Error; err != nil {
		t.Fatalf("count notifications: %v", err)
	}
	if notifications != 1 {
		t.Errorf("notifications = %d, want exactly 1 after replay", notifications)
	}
}

func TestWebhook_UnknownOrder(t *testing.T) {
	db := newWebhookTestDB(t)
	router := newWebhookRouter(db, &fakeStatusFetcher{status: &payment.TransactionStatus{
		TransactionStatus: payment.TxStatusSettlement,
	}})

	payload := signedNotification(database.Subscription{Model: gorm.Model{ID: 9999}}, payment.TxStatusSettlement, payment.FraudAccept)
	w := postNotification(t, router, payload)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}
