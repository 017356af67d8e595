package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dutchcoders/go-clamd"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"phJobs/internal/auth"
	"phJobs/internal/database"
	"phJobs/internal/storage"
)

// CVHandler 负责候选人简历（PDF）的上传与访问，上传前做病毒扫描。
type CVHandler struct {
	db        *gorm.DB
	storage   *storage.Client
	logger    *slog.Logger
	clamdAddr string
	maxBytes  int64
}

func NewCVHandler(db *gorm.DB, storageClient *storage.Client, logger *slog.Logger, clamdAddr string, maxBytes int64) *CVHandler {
	return &CVHandler{
		db:        db,
		storage:   storageClient,
		logger:    logger,
		clamdAddr: clamdAddr,
		maxBytes:  maxBytes,
	}
}

// UploadCV 上传新简历并替换旧对象。已投出的申请保留各自的简历快照。
func (h *CVHandler) UploadCV(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		BadRequest(c, "missing file")
		return
	}
	if h.maxBytes > 0 && file.Size > h.maxBytes {
		BadRequest(c, fmt.Sprintf("file exceeds %d bytes", h.maxBytes))
		return
	}
	if contentType := file.Header.Get("Content-Type"); contentType != "application/pdf" {
		BadRequest(c, "only PDF resumes are accepted")
		return
	}

	clamdClient := clamd.NewClamd(h.clamdAddr)

	fileReader, err := file.Open()
	if err != nil {
		Internal(c, "failed to open file")
		return
	}

	abortChan := make(chan bool)
	scanChan, err := clamdClient.ScanStream(fileReader, abortChan)
	fileReader.Close()
	if err != nil {
		h.logger.Error("scan cv", slog.String("error", err.Error()))
		Internal(c, "failed to scan file")
		return
	}
	defer close(abortChan)

	for result := range scanChan {
		if result.Status != clamd.RES_OK {
			BadRequest(c, "malicious file detected")
			return
		}
	}

	fileReader, err = file.Open()
	if err != nil {
		Internal(c, "failed to reopen file")
		return
	}
	defer fileReader.Close()

	ctx := c.Request.Context()
	var user database.User
	if err := h.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		Internal(c, "failed to load user")
		return
	}

	objectKey := fmt.Sprintf("user-cv/%d/%s.pdf", userID, uuid.NewString())
	if _, err := h.storage.UploadFile(ctx, objectKey, fileReader, file.Size, "application/pdf"); err != nil {
		h.logger.Error("upload cv", slog.String("error", err.Error()))
		Internal(c, "failed to upload file")
		return
	}

	oldKey := user.CvObjectKey
	if err := h.db.WithContext(ctx).
		Model(&user).
		Update("cv_object_key", objectKey).Error; err != nil {
		Internal(c, "failed to record cv")
		return
	}

	if oldKey != "" && oldKey != objectKey {
		if err := h.storage.DeleteObject(ctx, oldKey); err != nil {
			h.logger.Warn("delete old cv object",
				slog.String("objectKey", oldKey),
				slog.String("error", err.Error()),
			)
		}
	}

	c.JSON(http.StatusCreated, gin.H{"objectKey": objectKey})
}

// MyCVURL 返回自己简历的临时预签名 URL。
func (h *CVHandler) MyCVURL(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var user database.User
	if err := h.db.WithContext(c.Request.Context()).First(&user, userID).Error; err != nil {
		Internal(c, "failed to load user")
		return
	}
	if user.CvObjectKey == "" {
		NotFound(c, "no cv uploaded")
		return
	}

	signedURL, err := h.storage.GeneratePresignedURL(c.Request.Context(), user.CvObjectKey, 15*time.Minute)
	if err != nil {
		h.logger.Error("generate presigned url", slog.String("error", err.Error()))
		Internal(c, "failed to generate url")
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": signedURL})
}

// ApplicationCVURL 返回某申请附带简历的预签名 URL，
// 仅职位归属公司的所有者或 admin 可取。
func (h *CVHandler) ApplicationCVURL(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	appID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		BadRequest(c, "invalid application id")
		return
	}

	ctx := c.Request.Context()
	var app database.JobApplication
	if err := h.db.WithContext(ctx).
		Preload("JobPosting.Company").
		First(&app, uint(appID)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "application not found")
			return
		}
		Internal(c, "failed to query application")
		return
	}

	if roleFromContext(c) != auth.RoleAdmin && app.JobPosting.Company.OwnerID != userID {
		Forbidden(c, "not an application to your job posting")
		return
	}
	if app.CvObjectKey == "" {
		NotFound(c, "no cv attached to this application")
		return
	}

	signedURL, err := h.storage.GeneratePresignedURL(ctx, app.CvObjectKey, 15*time.Minute)
	if err != nil {
		h.logger.Error("generate presigned url", slog.String("error", err.Error()))
		Internal(c, "failed to generate url")
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": signedURL})
}
