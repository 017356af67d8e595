package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"phJobs/internal/database"
)

// 服务层错误，由 API 层映射为 HTTP 状态码。
var (
	ErrApplicationNotFound = errors.New("application not found")
	ErrInvalidStatus       = errors.New("invalid application status")
)

// DatabaseError 包装底层存储错误，保留原始信息。
type DatabaseError struct {
	Err error
}

func (e *DatabaseError) Error() string { return fmt.Sprintf("database error: %v", e.Err) }
func (e *DatabaseError) Unwrap() error { return e.Err }

// Options 是一次状态更新可携带的附加字段。
type Options struct {
	RejectionReason string
	AdminNotes      string
	ReviewedBy      *uint
}

// BulkFailure 记录批量更新中单条失败的原因。
type BulkFailure struct {
	ApplicationID uint   `json:"application_id"`
	Reason        string `json:"reason"`
}

// BulkResult 汇总批量更新结果。
type BulkResult struct {
	UpdatedCount int           `json:"updated_count"`
	FailedCount  int           `json:"failed_count"`
	Failures     []BulkFailure `json:"failures"`
}

// Service 实现申请状态机的持久化更新。
type Service struct {
	db *gorm.DB
}

// NewService 构造状态引擎服务。
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// UpdateStatus 将指定申请迁移到新状态。
// 迁移合法性由状态机校验；每次更新是一次原子写入。
func (s *Service) UpdateStatus(ctx context.Context, applicationID uint, newStatus Status, opts Options) (*database.JobApplication, error) {
	if !IsValidStatus(newStatus) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStatus, newStatus)
	}

	var app database.JobApplication
	if err := s.db.WithContext(ctx).
		Preload("User").
		Preload("JobPosting").
		First(&app, applicationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrApplicationNotFound
		}
		return nil, &DatabaseError{Err: err}
	}

	if err := ValidateTransition(Status(app.Status), newStatus); err != nil {
		return nil, err
	}

	now := time.Now()
	updates := map[string]any{
		"status":     string(newStatus),
		"updated_at": now,
	}
	switch newStatus {
	case StatusReviewed, StatusRejected, StatusInterviewScheduled, StatusAccepted:
		updates["reviewed_at"] = now
	}
	if opts.RejectionReason != "" {
		updates["rejection_reason"] = opts.RejectionReason
	}
	if opts.AdminNotes != "" {
		updates["admin_notes"] = opts.AdminNotes
	}
	if opts.ReviewedBy != nil {
		updates["reviewed_by"] = *opts.ReviewedBy
	}

	if err := s.db.WithContext(ctx).
		Model(&database.JobApplication{}).
		Where("id = ?", app.ID).
		Updates(updates).Error; err != nil {
		return nil, &DatabaseError{Err: err}
	}

	if err := s.db.WithContext(ctx).
		Preload("User").
		Preload("JobPosting").
		First(&app, app.ID).Error; err != nil {
		return nil, &DatabaseError{Err: err}
	}

	return &app, nil
}

// BulkUpdateStatus 对一批申请逐条应用同一状态更新。
// 单条失败不会中断其余条目，失败原因逐条收集返回。
func (s *Service) BulkUpdateStatus(ctx context.Context, applicationIDs []uint, newStatus Status, opts Options) BulkResult {
	result := BulkResult{Failures: []BulkFailure{}}
	for _, id := range applicationIDs {
		if _, err := s.UpdateStatus(ctx, id, newStatus, opts); err != nil {
			result.FailedCount++
			result.Failures = append(result.Failures, BulkFailure{
				ApplicationID: id,
				Reason:        err.Error(),
			})
			continue
		}
		result.UpdatedCount++
	}
	return result
}

// Withdraw 由候选人撤回自己的申请。
// 撤回不走管理端迁移表：任何非终态都允许撤回。
func (s *Service) Withdraw(ctx context.Context, applicationID, userID uint) (*database.JobApplication, error) {
	var app database.JobApplication
	if err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", applicationID, userID).
		First(&app).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrApplicationNotFound
		}
		return nil, &DatabaseError{Err: err}
	}

	current := Status(app.Status)
	if IsTerminal(current) {
		return nil, &TransitionError{From: current, To: StatusWithdrawn}
	}

	if err := s.db.WithContext(ctx).
		Model(&database.JobApplication{}).
		Where("id = ?", app.ID).
		Updates(map[string]any{
			"status":     string(StatusWithdrawn),
			"updated_at": time.Now(),
		}).Error; err != nil {
		return nil, &DatabaseError{Err: err}
	}

	if err := s.db.WithContext(ctx).First(&app, app.ID).Error; err != nil {
		return nil, &DatabaseError{Err: err}
	}
	return &app, nil
}
