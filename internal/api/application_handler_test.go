package api

import (
	"bytes"
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

	"phJobs/internal/application"
	"phJobs/internal/auth"
	"phJobs/internal/database"
)

func newApplicationTestDB(t *testing.T) *gorm.DB {
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
		&database.InterviewSchedule{},
		&database.Notification{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type applicationFixture struct {
	owner   database.User
	posting database.JobPosting
	apps    []database.JobApplication
}

func seedApplications(t *testing.T, db *gorm.DB, count int) applicationFixture {
	t.Helper()
	owner := database.User{Username: "acme-hr", Email: "hr@acme.example", Role: auth.RoleEmployer}
	if err := db.Create(&owner).Error; err != nil {
		t.Fatalf("seed owner: %v", err)
	}
	company := database.Company{Name: "Acme", Slug: "acme", OwnerID: owner.ID}
	if err := db.Create(&company).Error; err != nil {
		t.Fatalf("seed company: %v", err)
	}
	posting := database.JobPosting{CompanyID: company.ID, Title: "Backend Engineer", Description: "Go services", Status: "open"}
	if err := db.Create(&posting).Error; err != nil {
		t.Fatalf("seed posting: %v", err)
	}

	fixture := applicationFixture{owner: owner, posting: posting}
	for i := 0; i < count; i++ {
		candidate := database.User{
			Username: fmt.Sprintf("candidate-%d", i),
			Email:    fmt.Sprintf("candidate-%d@example.com", i),
			Role:     auth.RoleCandidate,
		}
		if err := db.Create(&candidate).Error; err != nil {
			t.Fatalf("seed candidate: %v", err)
		}
		app := database.JobApplication{
			UserID:       candidate.ID,
			JobPostingID: posting.ID,
			Status:       string(application.StatusPending),
		}
		if err := db.Create(&app).Error; err != nil {
			t.Fatalf("seed application: %v", err)
		}
		fixture.apps = append(fixture.apps, app)
	}
	return fixture
}

func newApplicationRouter(db *gorm.DB, userID uint, role string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("userID", userID)
		c.Set("userRole", role)
	})
	handler := NewApplicationHandler(db, application.NewService(db), nil, slog.Default())
	router.PATCH("/v1/employer/applications/:id/status", handler.UpdateStatus)
	router.POST("/v1/employer/applications/bulk-status", handler.BulkUpdateStatus)
	return router
}

func TestBulkUpdateStatus_PartialSuccessOnMissingID(t *testing.T) {
	db := newApplicationTestDB(t)
	fixture := seedApplications(t, db, 2)
	router := newApplicationRouter(db, fixture.owner.ID, auth.RoleEmployer)

	payload, _ := json.Marshal(map[string]any{
		"application_ids": []uint{fixture.apps[0].ID, fixture.apps[1].ID, 9999},
		"status":          string(application.StatusReviewed),
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/employer/applications/bulk-status", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var result application.BulkResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.UpdatedCount != 2 {
		t.Errorf("updated_count = %d, want 2", result.UpdatedCount)
	}
	if result.FailedCount != 1 {
		t.Errorf("failed_count = %d, want 1", result.FailedCount)
	}
	if len(result.Failures) != 1 || result.Failures[0].ApplicationID != 9999 {
		t.Fatalf("failures = %+v, want exactly one entry for id 9999", result.Failures)
	}
	if !strings.Contains(result.Failures[0].Reason, "not found") {
		t.Errorf("failure reason = %q, want a not-found message", result.Failures[0].Reason)
	}

	for _, seeded := range fixture.apps {
		var app database.JobApplication
		if err := db.First(&app, seeded.ID).Error; err != nil {
			t.Fatalf("reload %d: %v", seeded.ID, err)
		}
		if app.Status != string(application.StatusReviewed) {
			t.Errorf("application %d status = %s, want %s", seeded.ID, app.Status, application.StatusReviewed)
		}
	}
}

func TestBulkUpdateStatus_ForeignApplicationRecordedAsFailure(t *testing.T) {
	db := newApplicationTestDB(t)
	fixture := seedApplications(t, db, 1)

	rival := database.User{Username: "rival-hr", Email: "hr@rival.example", Role: auth.RoleEmployer}
	if err := db.Create(&rival).Error; err != nil {
		t.Fatalf("seed rival: %v", err)
	}
	router := newApplicationRouter(db, rival.ID, auth.RoleEmployer)

	payload, _ := json.Marshal(map[string]any{
		"application_ids": []uint{fixture.apps[0].ID},
		"status":          string(application.StatusReviewed),
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/employer/applications/bulk-status", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var result application.BulkResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.UpdatedCount != 0 || result.FailedCount != 1 {
		t.Errorf("counts = %d/%d, want 0 updated and 1 failed", result.UpdatedCount, result.FailedCount)
	}

	var app database.JobApplication
	if err := db.First(&app, fixture.apps[0].ID).Error; err != nil {
		t.Fatalf("reload application: %v", err)
	}
	if app.Status != string(application.StatusPending) {
		t.Errorf("application status = %s, want untouched %s", app.Status, application.StatusPending)
	}
}

func TestUpdateStatus_InterviewScheduledWithoutDetails(t *testing.T) {
	db := newApplicationTestDB(t)
	fixture := seedApplications(t, db, 1)
	router := newApplicationRouter(db, fixture.owner.ID, auth.RoleEmployer)

	payload, _ := json.Marshal(map[string]any{
		"status": string(application.StatusInterviewScheduled),
	})
	url := fmt.Sprintf("/v1/employer/applications/%d/status", fixture.apps[0].ID)
	req := httptest.NewRequest(http.MethodPatch, url, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var app database.JobApplication
	if err := db.First(&app, fixture.apps[0].ID).Error; err != nil {
		t.Fatalf("reload application: %v", err)
	}
	if app.Status != string(application.StatusInterviewScheduled) {
		t.Errorf("application status = %s, want %s", app.Status, application.StatusInterviewScheduled)
	}

	var schedules int64
	if err := db.Model(&database.InterviewSchedule{}).Count(&schedules).Error; err != nil {
		t.Fatalf("count schedules: %v", err)
	}
	if schedules != 0 {
		t.Errorf("interview schedules = %d, want none without supplied details", schedules)
	}
}
