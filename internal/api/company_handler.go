package api

import (
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"phJobs/internal/database"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// CompanyHandler 维护雇主的公司主页。每个雇主至多一家公司。
type CompanyHandler struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewCompanyHandler(db *gorm.DB, logger *slog.Logger) *CompanyHandler {
	return &CompanyHandler{db: db, logger: logger}
}

type companyRequest struct {
	Name        string `json:"name" binding:"required,max=255"`
	Slug        string `json:"slug" binding:"required,max=128"`
	Website     string `json:"website" binding:"omitempty,url,max=512"`
	Description string `json:"description"`
}

type companyResponse struct {
	ID          uint   `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Website     string `json:"website,omitempty"`
	Description string `json:"description,omitempty"`
}

func newCompanyResponse(company database.Company) companyResponse {
	return companyResponse{
		ID:          company.ID,
		Name:        company.Name,
		Slug:        company.Slug,
		Website:     company.Website,
		Description: company.Description,
	}
}

// CreateCompany 为当前雇主创建公司主页。
func (h *CompanyHandler) CreateCompany(c *gin.Context) {
	var req companyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	req.Slug = strings.ToLower(strings.TrimSpace(req.Slug))
	if !slugPattern.MatchString(req.Slug) {
		BadRequest(c, "slug must be lowercase letters, digits and hyphens")
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	var existing int64
	if err := h.db.WithContext(ctx).
		Model(&database.Company{}).
		Where("owner_id = ? OR slug = ?", userID, req.Slug).
		Count(&existing).Error; err != nil {
		Internal(c, "failed to check existing company")
		return
	}
	if existing > 0 {
		Conflict(c, "company already exists for this account or slug is taken")
		return
	}

	company := database.Company{
		Name:        req.Name,
		Slug:        req.Slug,
		Website:     req.Website,
		Description: req.Description,
		OwnerID:     userID,
	}
	if err := h.db.WithContext(ctx).Create(&company).Error; err != nil {
		Internal(c, "failed to create company")
		return
	}

	c.JSON(http.StatusCreated, newCompanyResponse(company))
}

// UpdateCompany 更新当前雇主的公司主页。slug 不允许改动。
func (h *CompanyHandler) UpdateCompany(c *gin.Context) {
	var req struct {
		Name        string `json:"name" binding:"required,max=255"`
		Website     string `json:"website" binding:"omitempty,url,max=512"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	var company database.Company
	if err := h.db.WithContext(ctx).
		Where("owner_id = ?", userID).
		First(&company).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "company profile not found")
			return
		}
		Internal(c, "failed to query company")
		return
	}

	updates := map[string]any{
		"name":        req.Name,
		"website":     req.Website,
		"description": req.Description,
	}
	if err := h.db.WithContext(ctx).Model(&company).Updates(updates).Error; err != nil {
		Internal(c, "failed to update company")
		return
	}
	if err := h.db.WithContext(ctx).First(&company, company.ID).Error; err != nil {
		Internal(c, "failed to reload company")
		return
	}

	c.JSON(http.StatusOK, newCompanyResponse(company))
}

// MyCompany 返回当前雇主自己的公司主页。
func (h *CompanyHandler) MyCompany(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var company database.Company
	if err := h.db.WithContext(c.Request.Context()).
		Where("owner_id = ?", userID).
		First(&company).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "company profile not found")
			return
		}
		Internal(c, "failed to query company")
		return
	}

	c.JSON(http.StatusOK, newCompanyResponse(company))
}

// GetCompanyBySlug 按 slug 返回公司主页（公开）。
func (h *CompanyHandler) GetCompanyBySlug(c *gin.Context) {
	slug := strings.ToLower(strings.TrimSpace(c.Param("slug")))
	if !slugPattern.MatchString(slug) {
		BadRequest(c, "invalid slug")
		return
	}

	var company database.Company
	if err := h.db.WithContext(c.Request.Context()).
		Where("slug = ?", slug).
		First(&company).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "company not found")
			return
		}
		Internal(c, "failed to query company")
		return
	}

	c.JSON(http.StatusOK, newCompanyResponse(company))
}

// ListCompanies 分页列出公司（公开）。
func (h *CompanyHandler) ListCompanies(c *gin.Context) {
	page, perPage := parsePagination(c)
	ctx := c.Request.Context()

	filtered := func() *gorm.DB {
		query := h.db.WithContext(ctx).Model(&database.Company{})
		if keyword := strings.TrimSpace(c.Query("q")); keyword != "" {
			query = query.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(keyword)+"%")
		}
		return query
	}

	var total int64
	if err := filtered().Count(&total).Error; err != nil {
		Internal(c, "failed to count companies")
		return
	}

	var companies []database.Company
	if err := filtered().
		Order("name ASC").
		Limit(perPage).
		Offset((page - 1) * perPage).
		Find(&companies).Error; err != nil {
		Internal(c, "failed to list companies")
		return
	}

	items := make([]companyResponse, 0, len(companies))
	for _, company := range companies {
		items = append(items, newCompanyResponse(company))
	}

	c.JSON(http.StatusOK, gin.H{
		"items":    items,
		"total":    total,
		"page":     page,
		"per_page": perPage,
	})
}
