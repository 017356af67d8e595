package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"phJobs/internal/database"
)

type fakeGateway struct {
	status *TransactionStatus
	err    error
	calls  int
}

func (g *fakeGateway) TransactionStatus(_ context.Context, _ string) (*TransactionStatus, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return g.status, nil
}

func newTestDB(t *testing.T) *gorm.DB {
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
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedSubscription(t *testing.T, db *gorm.DB, status, payStatus string) database.Subscription {
	t.Helper()
	user := database.User{Username: "subscriber", Email: "subscriber@example.com"}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	plan := database.SubscriptionPlan{Name: "Pro", Slug: "pro", Price: 150000, DurationDays: 30}
	if err := db.Create(&plan).Error; err != nil {
		t.Fatalf("seed plan: %v", err)
	}
	sub := database.Subscription{
		UserID:        user.ID,
		PlanID:        plan.ID,
		Status:        status,
		PaymentStatus: payStatus,
	}
	if err := db.Create(&sub).Error; err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
	return sub
}

func notificationFor(sub database.Subscription, txStatus, fraudStatus string) WebhookNotification {
	return WebhookNotification{
		OrderID:           fmt.Sprintf("%d", sub.ID),
		TransactionStatus: txStatus,
		TransactionID:     "tx-001",
		FraudStatus:       fraudStatus,
		StatusCode:        "200",
		GrossAmount:       "150000.00",
	}
}

func TestReconcile_SettlementActivatesPendingSubscription(t *testing.T) {
	db := newTestDB(t)
	sub := seedSubscription(t, db, SubStatusPending, PayStatusPending)
	gateway := &fakeGateway{status: &TransactionStatus{
		TransactionStatus: TxStatusSettlement,
		FraudStatus:       FraudAccept,
		TransactionID:     "tx-001",
	}}
	r := NewReconciler(db, gateway, nil)

	result, err := r.Reconcile(context.Background(), notificationFor(sub, TxStatusSettlement, FraudAccept))
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Outcome != OutcomeActivated {
		t.Errorf("outcome = %s, want activated", result.Outcome)
	}
	got := result.Subscription
	if got.Status != SubStatusActive || got.PaymentStatus != PayStatusCompleted {
		t.Errorf("status = %s/%s", got.Status, got.PaymentStatus)
	}
	if got.StartDate == nil || got.EndDate == nil {
		t.Fatal("expected start/end dates to be set")
	}
	wantEnd := time.Now().AddDate(0, 0, 30)
	if diff := got.EndDate.Sub(wantEnd); diff < -time.Minute || diff > time.Minute {
		t.Errorf("end date = %v, want ~%v", got.EndDate, wantEnd)
	}
	if got.TransactionID != "tx-001" {
		t.Errorf("transaction id = %s", got.TransactionID)
	}
}

func TestReconcile_ReplayAfterActivationIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	sub := seedSubscription(t, db, SubStatusPending, PayStatusPending)
	gateway := &fakeGateway{status: &TransactionStatus{
		TransactionStatus: TxStatusSettlement,
		FraudStatus:       FraudAccept,
		TransactionID:     "tx-001",
	}}
	r := NewReconciler(db, gateway, nil)

	n := notificationFor(sub, TxStatusSettlement, FraudAccept)
	first, err := r.Reconcile(context.Background(), n)
	if err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	firstEnd := *first.Subscription.EndDate

	second, err := r.Reconcile(context.Background(), n)
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if second.Outcome != OutcomeAlreadyProcessed {
		t.Errorf("outcome = %s, want already_processed", second.Outcome)
	}
	if second.Changed {
		t.Error("replay must not write")
	}

	var stored database.Subscription
	if err := db.First(&stored, sub.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !stored.EndDate.Equal(firstEnd) {
		t.Errorf("end date moved on replay: %v -> %v", firstEnd, stored.EndDate)
	}
}

func TestReconcile_DenyCancels(t *testing.T) {
	db := newTestDB(t)
	sub := seedSubscription(t, db, SubStatusPending, PayStatusPending)
	gateway := &fakeGateway{status: &TransactionStatus{
		TransactionStatus: TxStatusDeny,
		TransactionID:     "tx-001",
	}}
	r := NewReconciler(db, gateway, nil)

	result, err := r.Reconcile(context.Background(), notificationFor(sub, TxStatusDeny, ""))
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Outcome != OutcomeCancelled {
		t.Errorf("outcome = %s, want cancelled", result.Outcome)
	}
	if result.Subscription.Status != SubStatusCancelled || result.Subscription.PaymentStatus != PayStatusFailed {
		t.Errorf("status = %s/%s", result.Subscription.Status, result.Subscription.PaymentStatus)
	}
}

func TestReconcile_FraudDenyOnSettlementCancels(t *testing.T) {
	db := newTestDB(t)
	sub := seedSubscription(t, db, SubStatusPending, PayStatusPending)
	gateway := &fakeGateway{status: &TransactionStatus{
		TransactionStatus: TxStatusCapture,
		FraudStatus:       FraudDeny,
		TransactionID:     "tx-001",
	}}
	r := NewReconciler(db, gateway, nil)

	result, err := r.Reconcile(context.Background(), notificationFor(sub, TxStatusCapture, FraudDeny))
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Subscription.Status != SubStatusCancelled {
		t.Errorf("status = %s, want CANCELLED", result.Subscription.Status)
	}
}

func TestReconcile_GatewayValuesOverrideNotification(t *testing.T) {
	db := newTestDB(t)
	sub := seedSubscription(t, db, SubStatusPending, PayStatusPending)
	// 通知声称 settlement，但网关权威状态是 deny。
	gateway := &fakeGateway{status: &TransactionStatus{
		TransactionStatus: TxStatusDeny,
		TransactionID:     "tx-real",
	}}
	r := NewReconciler(db, gateway, nil)

	result, err := r.Reconcile(context.Background(), notificationFor(sub, TxStatusSettlement, FraudAccept))
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Outcome != OutcomeCancelled {
		t.Errorf("outcome = %s, want cancelled (gateway is authoritative)", result.Outcome)
	}
	if result.Subscription.TransactionID != "tx-real" {
		t.Errorf("transaction id = %s, want gateway value", result.Subscription.TransactionID)
	}
}

func TestReconcile_GatewayLookupFailureFallsBackToNotification(t *testing.T) {
	db := newTestDB(t)
	sub := seedSubscription(t, db, SubStatusPending, PayStatusPending)
	gateway := &fakeGateway{err: errors.New("connection refused")}
	r := NewReconciler(db, gateway, nil)

	result, err := r.Reconcile(context.Background(), notificationFor(sub, TxStatusSettlement, FraudAccept))
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Outcome != OutcomeActivated {
		t.Errorf("outcome = %s, want activated via notification fallback", result.Outcome)
	}
}

func TestReconcile_UnknownStatusAcknowledgedWithoutChange(t *testing.T) {
	db := newTestDB(t)
	sub := seedSubscription(t, db, SubStatusPending, PayStatusPending)
	gateway := &fakeGateway{status: &TransactionStatus{
		TransactionStatus: "refund",
		TransactionID:     "tx-001",
	}}
	r := NewReconciler(db, gateway, nil)

	result, err := r.Reconcile(context.Background(), notificationFor(sub, "refund", ""))
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Outcome != OutcomeIgnored {
		t.Errorf("outcome = %s, want ignored", result.Outcome)
	}

	var stored database.Subscription
	if err := db.First(&stored, sub.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.Status != SubStatusPending {
		t.Errorf("status mutated: %s", stored.Status)
	}
}

func TestReconcile_UnknownOrderID(t *testing.T) {
	db := newTestDB(t)
	gateway := &fakeGateway{status: &TransactionStatus{TransactionStatus: TxStatusSettlement}}
	r := NewReconciler(db, gateway, nil)

	n := WebhookNotification{
		OrderID:           "9999",
		TransactionStatus: TxStatusSettlement,
		StatusCode:        "200",
		GrossAmount:       "150000.00",
	}
	if _, err := r.Reconcile(context.Background(), n); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}
}

func TestReconcile_PendingOnPendingSkipsWrite(t *testing.T) {
	db := newTestDB(t)
	sub := seedSubscription(t, db, SubStatusPending, PayStatusPending)
	gateway := &fakeGateway{status: &TransactionStatus{
		TransactionStatus: TxStatusPending,
	}}
	r := NewReconciler(db, gateway, nil)

	result, err := r.Reconcile(context.Background(), WebhookNotification{
		OrderID:           fmt.Sprintf("%d", sub.ID),
		TransactionStatus: TxStatusPending,
		StatusCode:        "201",
		GrossAmount:       "150000.00",
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Outcome != OutcomeUnchanged || result.Changed {
		t.Errorf("outcome = %s changed=%v, want unchanged/no write", result.Outcome, result.Changed)
	}
}
