package api

import (
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
)

func newJobTestDB(t *testing.T) *gorm.DB {
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
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedJobs(t *testing.T, db *gorm.DB) {
	t.Helper()
	owner := database.User{Username: "acme-hr", Email: "hr@acme.example", Role: "employer"}
	if err := db.Create(&owner).Error; err != nil {
		t.Fatalf("seed owner: %v", err)
	}
	company := database.Company{Name: "Acme", Slug: "acme", OwnerID: owner.ID}
	if err := db.Create(&company).Error; err != nil {
		t.Fatalf("seed company: %v", err)
	}

	postings := []database.JobPosting{
		{CompanyID: company.ID, Title: "Backend Engineer", Description: "Go services", Location: "Jakarta", JobType: "full_time", SalaryMin: 10_000_000, SalaryMax: 20_000_000, Status: "open"},
		{CompanyID: company.ID, Title: "Frontend Engineer", Description: "React apps", Location: "Bandung", JobType: "full_time", SalaryMin: 8_000_000, SalaryMax: 15_000_000, Status: "open"},
		{CompanyID: company.ID, Title: "Data Analyst", Description: "Dashboards", Location: "Jakarta", JobType: "contract", SalaryMin: 6_000_000, SalaryMax: 9_000_000, Status: "closed"},
	}
	for i := range postings {
		if err := db.Create(&postings[i]).Error; err != nil {
			t.Fatalf("seed posting: %v", err)
		}
	}
}

func listJobs(t *testing.T, db *gorm.DB, query string) (int, map[string]json.RawMessage) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	handler := NewJobHandler(db, slog.Default())
	router.GET("/v1/jobs", handler.ListJobs)

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs"+query, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var body map[string]json.RawMessage
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return w.Code, body
}

func itemCount(t *testing.T, body map[string]json.RawMessage) int {
	t.Helper()
	var items []json.RawMessage
	if err := json.Unmarshal(body["items"], &items); err != nil {
		t.Fatalf("unmarshal items: %v", err)
	}
	return len(items)
}

func TestListJobs_DefaultsToOpenOnly(t *testing.T) {
	db := newJobTestDB(t)
	seedJobs(t, db)

	code, body := listJobs(t, db, "")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if n := itemCount(t, body); n != 2 {
		t.Errorf("items = %d, want 2 open postings", n)
	}
}

func TestListJobs_KeywordFilter(t *testing.T) {
	db := newJobTestDB(t)
	seedJobs(t, db)

	code, body := listJobs(t, db, "?q=backend")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if n := itemCount(t, body); n != 1 {
		t.Errorf("items = %d, want 1", n)
	}
}

func TestListJobs_LocationAndTypeFilter(t *testing.T) {
	db := newJobTestDB(t)
	seedJobs(t, db)

	code, body := listJobs(t, db, "?location=jakarta&job_type=contract&only_open=false")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if n := itemCount(t, body); n != 1 {
		t.Errorf("items = %d, want 1 (closed contract role included when only_open=false)", n)
	}
}

func TestListJobs_SalaryOverlap(t *testing.T) {
	db := newJobTestDB(t)
	seedJobs(t, db)

	// 期望薪资 16M 以上的只剩 Backend（max 20M）。
	code, body := listJobs(t, db, "?salary_min=16000000")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if n := itemCount(t, body); n != 1 {
		t.Errorf("items = %d, want 1", n)
	}
}

func TestListJobs_Pagination(t *testing.T) {
	db := newJobTestDB(t)
	seedJobs(t, db)

	code, body := listJobs(t, db, "?per_page=1&page=2")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if n := itemCount(t, body); n != 1 {
		t.Errorf("items = %d, want 1 per page", n)
	}
	var total int64
	if err := json.Unmarshal(body["total"], &total); err != nil {
		t.Fatalf("unmarshal total: %v", err)
	}
	if total != 2 {
		t.Errorf("total = %d, want 2", total)
	}
}
