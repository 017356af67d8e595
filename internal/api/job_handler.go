package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"phJobs/internal/auth"
	"phJobs/internal/database"
	"phJobs/internal/payment"
)

// 没有生效订阅的雇主允许保留的在招职位数。
const freeOpenPostings = 1

// JobHandler 负责职位的发布、维护与公开检索。
type JobHandler struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewJobHandler 构造职位处理器。
func NewJobHandler(db *gorm.DB, logger *slog.Logger) *JobHandler {
	return &JobHandler{db: db, logger: logger}
}

type jobRequest struct {
	Title        string         `json:"title" binding:"required,max=255"`
	Description  string         `json:"description" binding:"required"`
	Requirements datatypes.JSON `json:"requirements"`
	Location     string         `json:"location" binding:"max=255"`
	JobType      string         `json:"job_type" binding:"omitempty,oneof=full_time part_time contract internship remote"`
	SalaryMin    int64          `json:"salary_min" binding:"gte=0"`
	SalaryMax    int64          `json:"salary_max" binding:"gte=0"`
	Deadline     *time.Time     `json:"deadline"`
}

type jobResponse struct {
	ID           uint           `json:"id"`
	CompanyID    uint           `json:"company_id"`
	CompanyName  string         `json:"company_name,omitempty"`
	Title        string         `json:"title"`
	Description  string         `json:"description"`
	Requirements datatypes.JSON `json:"requirements,omitempty"`
	Location     string         `json:"location"`
	JobType      string         `json:"job_type"`
	SalaryMin    int64          `json:"salary_min"`
	SalaryMax    int64          `json:"salary_max"`
	Status       string         `json:"status"`
	Deadline     *time.Time     `json:"deadline,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

func newJobResponse(posting database.JobPosting) jobResponse {
	resp := jobResponse{
		ID:           posting.ID,
		CompanyID:    posting.CompanyID,
		Title:        posting.Title,
		Description:  posting.Description,
		Requirements: posting.Requirements,
		Location:     posting.Location,
		JobType:      posting.JobType,
		SalaryMin:    posting.SalaryMin,
		SalaryMax:    posting.SalaryMax,
		Status:       posting.Status,
		Deadline:     posting.Deadline,
		CreatedAt:    posting.CreatedAt,
	}
	if posting.Company.ID != 0 {
		resp.CompanyName = posting.Company.Name
	}
	return resp
}

// CreateJob 为雇主的公司发布新职位，在招数量受订阅套餐限制。
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req jobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	if req.SalaryMax > 0 && req.SalaryMax < req.SalaryMin {
		BadRequest(c, "salary_max must be >= salary_min")
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	company, err := h.companyForOwner(c, userID)
	if err != nil {
		return
	}

	var openCount int64
	if err := h.db.WithContext(ctx).
		Model(&database.JobPosting{}).
		Where("company_id = ? AND status = ?", company.ID, "open").
		Count(&openCount).Error; err != nil {
		Internal(c, "failed to count open postings")
		return
	}

	if limit := h.postingLimit(c, userID); limit > 0 && openCount >= int64(limit) {
		Forbidden(c, "job posting limit reached, upgrade your subscription")
		return
	}

	posting := database.JobPosting{
		CompanyID:    company.ID,
		Title:        req.Title,
		Description:  req.Description,
		Requirements: req.Requirements,
		Location:     req.Location,
		JobType:      req.JobType,
		SalaryMin:    req.SalaryMin,
		SalaryMax:    req.SalaryMax,
		Status:       "open",
		Deadline:     req.Deadline,
	}
	if err := h.db.WithContext(ctx).Create(&posting).Error; err != nil {
		Internal(c, "failed to create job posting")
		return
	}

	c.JSON(http.StatusCreated, newJobResponse(posting))
}

// postingLimit 返回雇主当前可保留的在招职位数，0 表示不限。
func (h *JobHandler) postingLimit(c *gin.Context, userID uint) int {
	var sub database.Subscription
	err := h.db.WithContext(c.Request.Context()).
		Preload("Plan").
		Where("user_id = ? AND status = ?", userID, payment.SubStatusActive).
		Order("end_date desc").
		First(&sub).Error
	if err != nil {
		return freeOpenPostings
	}
	return sub.Plan.MaxJobPostings
}

// UpdateJob 覆盖雇主自己的职位内容。
func (h *JobHandler) UpdateJob(c *gin.Context) {
	var req jobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	posting, ok := h.postingForOwner(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	updates := map[string]any{
		"title":       req.Title,
		"description": req.Description,
		"location":    req.Location,
		"job_type":    req.JobType,
		"salary_min":  req.SalaryMin,
		"salary_max":  req.SalaryMax,
		"deadline":    req.Deadline,
	}
	if req.Requirements != nil {
		updates["requirements"] = req.Requirements
	}

	if err := h.db.WithContext(ctx).Model(posting).Updates(updates).Error; err != nil {
		Internal(c, "failed to update job posting")
		return
	}
	if err := h.db.WithContext(ctx).First(posting, posting.ID).Error; err != nil {
		Internal(c, "failed to reload job posting")
		return
	}

	c.JSON(http.StatusOK, newJobResponse(*posting))
}

// CloseJob 将职位下线，停止接收新申请。
func (h *JobHandler) CloseJob(c *gin.Context) {
	posting, ok := h.postingForOwner(c)
	if !ok {
		return
	}

	if err := h.db.WithContext(c.Request.Context()).
		Model(posting).
		Update("status", "closed").Error; err != nil {
		Internal(c, "failed to close job posting")
		return
	}

	c.Status(http.StatusNoContent)
}

// GetJob 返回单个职位详情（公开）。
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		BadRequest(c, "invalid job id")
		return
	}

	var posting database.JobPosting
	if err := h.db.WithContext(c.Request.Context()).
		Preload("Company").
		First(&posting, uint(jobID)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "job not found")
			return
		}
		Internal(c, "failed to query job")
		return
	}

	c.JSON(http.StatusOK, newJobResponse(posting))
}

// jobFilters 汇总检索条件，由 query 参数解析而来。
type jobFilters struct {
	Keyword   string
	Location  string
	JobType   string
	CompanyID uint
	SalaryMin int64
	SalaryMax int64
	OnlyOpen  bool
}

// applyJobFilters 把检索条件翻译成查询链。
func applyJobFilters(query *gorm.DB, f jobFilters) *gorm.DB {
	if f.Keyword != "" {
		pattern := "%" + strings.ToLower(f.Keyword) + "%"
		query = query.Where("LOWER(title) LIKE ? OR LOWER(description) LIKE ?", pattern, pattern)
	}
	if f.Location != "" {
		query = query.Where("LOWER(location) LIKE ?", "%"+strings.ToLower(f.Location)+"%")
	}
	if f.JobType != "" {
		query = query.Where("job_type = ?", f.JobType)
	}
	if f.CompanyID != 0 {
		query = query.Where("company_id = ?", f.CompanyID)
	}
	if f.SalaryMin > 0 {
		query = query.Where("salary_max >= ?", f.SalaryMin)
	}
	if f.SalaryMax > 0 {
		query = query.Where("salary_min <= ?", f.SalaryMax)
	}
	if f.OnlyOpen {
		query = query.Where("status = ?", "open")
	}
	return query
}

func parseJobFilters(c *gin.Context) jobFilters {
	f := jobFilters{
		Keyword:  strings.TrimSpace(c.Query("q")),
		Location: strings.TrimSpace(c.Query("location")),
		JobType:  strings.TrimSpace(c.Query("job_type")),
		OnlyOpen: c.DefaultQuery("only_open", "true") != "false",
	}
	if v, err := strconv.ParseUint(c.Query("company_id"), 10, 64); err == nil {
		f.CompanyID = uint(v)
	}
	if v, err := strconv.ParseInt(c.Query("salary_min"), 10, 64); err == nil && v > 0 {
		f.SalaryMin = v
	}
	if v, err := strconv.ParseInt(c.Query("salary_max"), 10, 64); err == nil && v > 0 {
		f.SalaryMax = v
	}
	return f
}

// ListJobs 按条件分页检索职位（公开）。
func (h *JobHandler) ListJobs(c *gin.Context) {
	filters := parseJobFilters(c)
	page, perPage := parsePagination(c)

	ctx := c.Request.Context()

	var total int64
	if err := applyJobFilters(h.db.WithContext(ctx).Model(&database.JobPosting{}), filters).
		Count(&total).Error; err != nil {
		Internal(c, "failed to count jobs")
		return
	}

	var postings []database.JobPosting
	if err := applyJobFilters(h.db.WithContext(ctx).Model(&database.JobPosting{}), filters).
		Preload("Company").
		Order("created_at DESC").
		Limit(perPage).
		Offset((page - 1) * perPage).
		Find(&postings).Error; err != nil {
		Internal(c, "failed to list jobs")
		return
	}

	items := make([]jobResponse, 0, len(postings))
	for _, p := range postings {
		items = append(items, newJobResponse(p))
	}

	c.JSON(http.StatusOK, gin.H{
		"items":    items,
		"total":    total,
		"page":     page,
		"per_page": perPage,
	})
}

func parsePagination(c *gin.Context) (page, perPage int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	if page <= 0 {
		page = 1
	}
	perPage, _ = strconv.Atoi(c.DefaultQuery("per_page", "20"))
	if perPage <= 0 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}
	return page, perPage
}

// companyForOwner 返回当前用户拥有的公司，不存在时回应 404。
func (h *JobHandler) companyForOwner(c *gin.Context, userID uint) (*database.Company, error) {
	var company database.Company
	if err := h.db.WithContext(c.Request.Context()).
		Where("owner_id = ?", userID).
		First(&company).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "company profile not found, create one first")
			return nil, err
		}
		Internal(c, "failed to query company")
		return nil, err
	}
	return &company, nil
}

// postingForOwner 返回路径参数指定、且归属当前用户公司的职位。
// admin 角色绕过归属检查。
func (h *JobHandler) postingForOwner(c *gin.Context) (*database.JobPosting, bool) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return nil, false
	}

	jobID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		BadRequest(c, "invalid job id")
		return nil, false
	}

	ctx := c.Request.Context()
	var posting database.JobPosting
	if err := h.db.WithContext(ctx).
		Preload("Company").
		First(&posting, uint(jobID)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "job not found")
			return nil, false
		}
		Internal(c, "failed to query job")
		return nil, false
	}

	if roleFromContext(c) != auth.RoleAdmin && posting.Company.OwnerID != userID {
		Forbidden(c, "not your job posting")
		return nil, false
	}

	return &posting, true
}
