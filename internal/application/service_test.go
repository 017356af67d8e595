package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"phJobs/internal/database"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&database.User{},
		&database.Company{},
		&database.JobPosting{},
		&database.JobApplication{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedApplication(t *testing.T, db *gorm.DB, status Status) database.JobApplication {
	t.Helper()
	user := database.User{Username: "candidate", Email: "candidate@example.com"}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	posting := database.JobPosting{Title: "Backend Engineer", Status: "open"}
	if err := db.Create(&posting).Error; err != nil {
		t.Fatalf("seed posting: %v", err)
	}
	app := database.JobApplication{
		UserID:       user.ID,
		JobPostingID: posting.ID,
		Status:       string(status),
	}
	if err := db.Create(&app).Error; err != nil {
		t.Fatalf("seed application: %v", err)
	}
	return app
}

func TestUpdateStatus_ValidTransitionSetsReviewedAt(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	app := seedApplication(t, db, StatusPending)

	updated, err := svc.UpdateStatus(context.Background(), app.ID, StatusReviewed, Options{AdminNotes: "looks solid"})
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if updated.Status != string(StatusReviewed) {
		t.Errorf("status = %s, want REVIEWED", updated.Status)
	}
	if updated.ReviewedAt == nil {
		t.Error("expected reviewed_at to be set")
	}
	if updated.AdminNotes != "looks solid" {
		t.Errorf("admin_notes = %q", updated.AdminNotes)
	}
}

func TestUpdateStatus_InvalidTransitionFromPending(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	app := seedApplication(t, db, StatusPending)

	_, err := svc.UpdateStatus(context.Background(), app.ID, StatusAccepted, Options{})
	var transitionErr *TransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("expected TransitionError, got %v", err)
	}

	var stored database.JobApplication
	if err := db.First(&stored, app.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.Status != string(StatusPending) {
		t.Errorf("status mutated on invalid transition: %s", stored.Status)
	}
}

func TestUpdateStatus_NotFound(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)

	_, err := svc.UpdateStatus(context.Background(), 9999, StatusReviewed, Options{})
	if !errors.Is(err, ErrApplicationNotFound) {
		t.Fatalf("expected ErrApplicationNotFound, got %v", err)
	}
}

func TestUpdateStatus_RejectionAttachesReason(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	app := seedApplication(t, db, StatusReviewed)

	updated, err := svc.UpdateStatus(context.Background(), app.ID, StatusRejected, Options{
		RejectionReason: "position filled",
	})
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if updated.RejectionReason != "position filled" {
		t.Errorf("rejection_reason = %q", updated.RejectionReason)
	}
	if updated.ReviewedAt == nil {
		t.Error("expected reviewed_at to be set on rejection")
	}
}

func TestBulkUpdateStatus_PartialFailure(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)

	first := seedApplication(t, db, StatusPending)

	user := database.User{Username: "second", Email: "second@example.com"}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	second := database.JobApplication{UserID: user.ID, JobPostingID: first.JobPostingID, Status: string(StatusPending)}
	if err := db.Create(&second).Error; err != nil {
		t.Fatalf("seed application: %v", err)
	}

	missingID := uint(9999)
	result := svc.BulkUpdateStatus(context.Background(), []uint{first.ID, second.ID, missingID}, StatusReviewed, Options{})

	if result.UpdatedCount != 2 {
		t.Errorf("updated count = %d, want 2", result.UpdatedCount)
	}
	if result.FailedCount != 1 {
		t.Errorf("failed count = %d, want 1", result.FailedCount)
	}
	if len(result.Failures) != 1 {
		t.Fatalf("failures = %v", result.Failures)
	}
	if result.Failures[0].ApplicationID != missingID {
		t.Errorf("failure id = %d, want %d", result.Failures[0].ApplicationID, missingID)
	}
	if !strings.Contains(result.Failures[0].Reason, "not found") {
		t.Errorf("failure reason = %q", result.Failures[0].Reason)
	}
}

func TestWithdraw(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	app := seedApplication(t, db, StatusReviewed)

	updated, err := svc.Withdraw(context.Background(), app.ID, app.UserID)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if updated.Status != string(StatusWithdrawn) {
		t.Errorf("status = %s, want WITHDRAWN", updated.Status)
	}

	// 终态不允许再次撤回。
	if _, err := svc.Withdraw(context.Background(), app.ID, app.UserID); err == nil {
		t.Error("expected error withdrawing terminal application")
	}
}
