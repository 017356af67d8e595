package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"phJobs/internal/api/middleware"
	"phJobs/internal/application"
	"phJobs/internal/auth"
	"phJobs/internal/database"
	"phJobs/internal/errcode"
	"phJobs/internal/tasks"
)

// ApplicationHandler 是申请状态机的 HTTP 入口，
// 状态校验与落库由 application.Service 负责，这里补齐面试安排、
// 站内通知与推送任务等副作用。
type ApplicationHandler struct {
	db          *gorm.DB
	service     *application.Service
	asynqClient *asynq.Client
	logger      *slog.Logger
}

func NewApplicationHandler(db *gorm.DB, service *application.Service, asynqClient *asynq.Client, logger *slog.Logger) *ApplicationHandler {
	return &ApplicationHandler{db: db, service: service, asynqClient: asynqClient, logger: logger}
}

type applyRequest struct {
	JobPostingID   uint   `json:"job_posting_id" binding:"required"`
	ExpectedSalary int64  `json:"expected_salary" binding:"gte=0"`
	CoverLetter    string `json:"cover_letter"`
}

type interviewDetails struct {
	ScheduledAt     time.Time `json:"scheduled_at" binding:"required"`
	DurationMinutes int       `json:"duration_minutes" binding:"omitempty,gte=15,lte=480"`
	InterviewType   string    `json:"interview_type" binding:"omitempty,oneof=onsite phone video"`
	Location        string    `json:"location" binding:"max=512"`
	Notes           string    `json:"notes"`
}

type updateStatusRequest struct {
	Status          string            `json:"status" binding:"required"`
	RejectionReason string            `json:"rejection_reason"`
	AdminNotes      string            `json:"admin_notes"`
	Interview       *interviewDetails `json:"interview"`
}

type bulkUpdateStatusRequest struct {
	ApplicationIDs  []uint `json:"application_ids" binding:"required,min=1,max=100"`
	Status          string `json:"status" binding:"required"`
	RejectionReason string `json:"rejection_reason"`
	AdminNotes      string `json:"admin_notes"`
}

type applicationResponse struct {
	ID              uint       `json:"id"`
	JobPostingID    uint       `json:"job_posting_id"`
	JobTitle        string     `json:"job_title,omitempty"`
	UserID          uint       `json:"user_id"`
	ApplicantName   string     `json:"applicant_name,omitempty"`
	Status          string     `json:"status"`
	StatusLabel     string     `json:"status_label"`
	ExpectedSalary  int64      `json:"expected_salary,omitempty"`
	CoverLetter     string     `json:"cover_letter,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	AdminNotes      string     `json:"admin_notes,omitempty"`
	ReviewedAt      *time.Time `json:"reviewed_at,omitempty"`
	AllowedNext     []string   `json:"allowed_next_statuses"`
	CreatedAt       time.Time  `json:"created_at"`
}

func newApplicationResponse(app database.JobApplication, includeNotes bool) applicationResponse {
	status := application.Status(app.Status)
	next := application.AllowedNext(status)
	allowed := make([]string, 0, len(next))
	for _, s := range next {
		allowed = append(allowed, string(s))
	}

	resp := applicationResponse{
		ID:              app.ID,
		JobPostingID:    app.JobPostingID,
		UserID:          app.UserID,
		Status:          app.Status,
		StatusLabel:     application.HumanStatus(status),
		ExpectedSalary:  app.ExpectedSalary,
		CoverLetter:     app.CoverLetter,
		RejectionReason: app.RejectionReason,
		ReviewedAt:      app.ReviewedAt,
		AllowedNext:     allowed,
		CreatedAt:       app.CreatedAt,
	}
	if app.JobPosting.ID != 0 {
		resp.JobTitle = app.JobPosting.Title
	}
	if app.User.ID != 0 {
		resp.ApplicantName = app.User.FullName
	}
	if includeNotes {
		resp.AdminNotes = app.AdminNotes
	}
	return resp
}

// Apply 提交申请。同一职位重复申请回 409，关闭/过期职位回 400。
func (h *ApplicationHandler) Apply(c *gin.Context) {
	var req applyRequest
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
	var posting database.JobPosting
	if err := h.db.WithContext(ctx).First(&posting, req.JobPostingID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "job not found")
			return
		}
		Internal(c, "failed to query job")
		return
	}
	if posting.Status != "open" {
		BadRequest(c, "job is no longer accepting applications")
		return
	}
	if posting.Deadline != nil && posting.Deadline.Before(time.Now()) {
		BadRequest(c, "application deadline has passed")
		return
	}

	var duplicate int64
	if err := h.db.WithContext(ctx).
		Model(&database.JobApplication{}).
		Where("user_id = ? AND job_posting_id = ?", userID, req.JobPostingID).
		Count(&duplicate).Error; err != nil {
		Internal(c, "failed to check existing application")
		return
	}
	if duplicate > 0 {
		Conflict(c, "you have already applied to this job")
		return
	}

	var user database.User
	if err := h.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		Internal(c, "failed to load user")
		return
	}

	app := database.JobApplication{
		UserID:         userID,
		JobPostingID:   req.JobPostingID,
		Status:         string(application.StatusPending),
		ExpectedSalary: req.ExpectedSalary,
		CoverLetter:    req.CoverLetter,
		// 申请时冻结简历对象键，之后换简历不影响已投出的申请。
		CvObjectKey: user.CvObjectKey,
	}
	if err := h.db.WithContext(ctx).Create(&app).Error; err != nil {
		Internal(c, "failed to create application")
		return
	}
	app.JobPosting = posting

	c.JSON(http.StatusCreated, newApplicationResponse(app, false))
}

// ListMine 返回当前用户的全部申请。
func (h *ApplicationHandler) ListMine(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var apps []database.JobApplication
	if err := h.db.WithContext(c.Request.Context()).
		Preload("JobPosting").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&apps).Error; err != nil {
		Internal(c, "failed to list applications")
		return
	}

	items := make([]applicationResponse, 0, len(apps))
	for _, app := range apps {
		items = append(items, newApplicationResponse(app, false))
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// ListForJob 返回某职位收到的申请，仅职位归属公司的所有者或 admin 可见。
func (h *ApplicationHandler) ListForJob(c *gin.Context) {
	jobID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		BadRequest(c, "invalid job id")
		return
	}

	if !h.authorizeJobAccess(c, uint(jobID)) {
		return
	}

	query := h.db.WithContext(c.Request.Context()).
		Preload("User").
		Preload("JobPosting").
		Where("job_posting_id = ?", uint(jobID))
	if status := c.Query("status"); status != "" {
		if !application.IsValidStatus(application.Status(status)) {
			BadRequest(c, "unknown status filter")
			return
		}
		query = query.Where("status = ?", status)
	}

	var apps []database.JobApplication
	if err := query.Order("created_at ASC").Find(&apps).Error; err != nil {
		Internal(c, "failed to list applications")
		return
	}

	items := make([]applicationResponse, 0, len(apps))
	for _, app := range apps {
		items = append(items, newApplicationResponse(app, true))
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// UpdateStatus 驱动一次状态流转，并处理面试安排与候选人通知副作用。
func (h *ApplicationHandler) UpdateStatus(c *gin.Context) {
	appID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		BadRequest(c, "invalid application id")
		return
	}

	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	target := application.Status(req.Status)
	reviewerID, app, ok := h.authorizeApplicationAccess(c, uint(appID))
	if !ok {
		return
	}

	ctx := c.Request.Context()
	updated, err := h.service.UpdateStatus(ctx, uint(appID), target, application.Options{
		RejectionReason: req.RejectionReason,
		AdminNotes:      req.AdminNotes,
		ReviewedBy:      &reviewerID,
	})
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	// 面试记录只在携带了安排详情时创建，纯状态流转不强制附带。
	if req.Interview != nil && target == application.StatusInterviewScheduled {
		schedule := database.InterviewSchedule{
			JobApplicationID: updated.ID,
			JobPostingID:     updated.JobPostingID,
			CandidateID:      updated.UserID,
			ScheduledAt:      req.Interview.ScheduledAt,
			DurationMinutes:  req.Interview.DurationMinutes,
			InterviewType:    req.Interview.InterviewType,
			Location:         req.Interview.Location,
			Notes:            req.Interview.Notes,
		}
		if schedule.DurationMinutes == 0 {
			schedule.DurationMinutes = 60
		}
		if err := h.db.WithContext(ctx).Create(&schedule).Error; err != nil {
			// 状态已流转成功，面试记录落库失败只告警。
			h.logger.Error("failed to persist interview schedule",
				slog.Uint64("application_id", uint64(updated.ID)),
				slog.Any("error", err),
			)
		}
	}

	// 同状态重放是合法的空操作，不再重复打扰候选人。
	if updated.Status != app.Status {
		h.notifyApplicant(c, updated)
	}

	c.JSON(http.StatusOK, newApplicationResponse(*updated, true))
}

// BulkUpdateStatus 对多条申请应用同一目标状态，逐条校验并汇总失败原因。
func (h *ApplicationHandler) BulkUpdateStatus(c *gin.Context) {
	var req bulkUpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	target := application.Status(req.Status)
	if !application.IsValidStatus(target) {
		BadRequest(c, "unknown status")
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	// 越权或不存在的条目记入失败清单，不中断其余条目。
	ctx := c.Request.Context()
	isAdmin := roleFromContext(c) == auth.RoleAdmin
	accessible := make([]uint, 0, len(req.ApplicationIDs))
	denied := []application.BulkFailure{}
	for _, id := range req.ApplicationIDs {
		var app database.JobApplication
		if err := h.db.WithContext(ctx).
			Preload("JobPosting.Company").
			First(&app, id).Error; err != nil {
			reason := "application not found"
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				reason = "failed to query application"
			}
			denied = append(denied, application.BulkFailure{ApplicationID: id, Reason: reason})
			continue
		}
		if !isAdmin && app.JobPosting.Company.OwnerID != userID {
			denied = append(denied, application.BulkFailure{ApplicationID: id, Reason: "not an application to your job posting"})
			continue
		}
		accessible = append(accessible, id)
	}

	result := h.service.BulkUpdateStatus(ctx, accessible, target, application.Options{
		RejectionReason: req.RejectionReason,
		AdminNotes:      req.AdminNotes,
		ReviewedBy:      &userID,
	})
	result.FailedCount += len(denied)
	result.Failures = append(denied, result.Failures...)

	if len(accessible) > 0 {
		var updated []database.JobApplication
		if err := h.db.WithContext(ctx).
			Preload("JobPosting").
			Where("id IN ? AND status = ?", accessible, string(target)).
			Find(&updated).Error; err == nil {
			for i := range updated {
				h.notifyApplicant(c, &updated[i])
			}
		}
	}

	c.JSON(http.StatusOK, result)
}

// Withdraw 让候选人撤回自己的申请。
func (h *ApplicationHandler) Withdraw(c *gin.Context) {
	appID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		BadRequest(c, "invalid application id")
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	updated, err := h.service.Withdraw(c.Request.Context(), uint(appID), userID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, newApplicationResponse(*updated, false))
}

// respondServiceError 把状态机服务层错误映射到 HTTP 语义。
func (h *ApplicationHandler) respondServiceError(c *gin.Context, err error) {
	var transitionErr *application.TransitionError
	switch {
	case errors.Is(err, application.ErrApplicationNotFound):
		ErrorCode(c, http.StatusNotFound, errcode.ResourceMissing, "application not found")
	case errors.Is(err, application.ErrInvalidStatus):
		BadRequest(c, "unknown status")
	case errors.As(err, &transitionErr):
		ErrorCode(c, http.StatusConflict, errcode.InvalidTransition, transitionErr.Error())
	default:
		h.logger.Error("application status update failed", slog.Any("error", err))
		ErrorCode(c, http.StatusInternalServerError, errcode.SystemError, "failed to update application")
	}
}

// notifyApplicant 写入站内通知并投递推送任务。两者都尽力而为。
func (h *ApplicationHandler) notifyApplicant(c *gin.Context, app *database.JobApplication) {
	ctx := c.Request.Context()
	status := application.Status(app.Status)

	data, _ := json.Marshal(map[string]any{
		"application_id": app.ID,
		"job_posting_id": app.JobPostingID,
		"status":         app.Status,
	})
	notification := database.Notification{
		UserID:  app.UserID,
		Type:    "application_status",
		Title:   "Application update",
		Message: fmt.Sprintf("Your application for %q is now %s.", app.JobPosting.Title, application.HumanStatus(status)),
		Data:    datatypes.JSON(data),
	}
	if err := h.db.WithContext(ctx).Create(&notification).Error; err != nil {
		h.logger.Error("failed to persist notification",
			slog.Uint64("application_id", uint64(app.ID)),
			slog.Any("error", err),
		)
		return
	}

	if h.asynqClient == nil {
		return
	}
	task, err := tasks.NewNotificationPushTask(notification.ID, middleware.GetCorrelationID(c))
	if err != nil {
		h.logger.Error("failed to build push task", slog.Any("error", err))
		return
	}
	if _, err := h.asynqClient.EnqueueContext(ctx, task); err != nil {
		h.logger.Error("failed to enqueue push task",
			slog.Uint64("notification_id", uint64(notification.ID)),
			slog.Any("error", err),
		)
	}
}

// authorizeJobAccess 校验当前用户可以管理该职位。
func (h *ApplicationHandler) authorizeJobAccess(c *gin.Context, jobID uint) bool {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return false
	}
	if roleFromContext(c) == auth.RoleAdmin {
		return true
	}

	var posting database.JobPosting
	if err := h.db.WithContext(c.Request.Context()).
		Preload("Company").
		First(&posting, jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "job not found")
			return false
		}
		Internal(c, "failed to query job")
		return false
	}
	if posting.Company.OwnerID != userID {
		Forbidden(c, "not your job posting")
		return false
	}
	return true
}

// authorizeApplicationAccess 校验当前用户可以评审该申请，
// 并返回评审者 ID 与申请当前快照。
func (h *ApplicationHandler) authorizeApplicationAccess(c *gin.Context, appID uint) (uint, *database.JobApplication, bool) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return 0, nil, false
	}

	var app database.JobApplication
	if err := h.db.WithContext(c.Request.Context()).
		Preload("JobPosting.Company").
		First(&app, appID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			ErrorCode(c, http.StatusNotFound, errcode.ResourceMissing, "application not found")
			return 0, nil, false
		}
		Internal(c, "failed to query application")
		return 0, nil, false
	}

	if roleFromContext(c) != auth.RoleAdmin && app.JobPosting.Company.OwnerID != userID {
		Forbidden(c, "not an application to your job posting")
		return 0, nil, false
	}
	return userID, &app, true
}
