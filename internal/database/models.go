package database

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// User 表示系统中的账号信息。
// Role 取值：candidate / employer / admin。
type User struct {
	gorm.Model
	Username     string `gorm:"uniqueIndex;size:64"`
	Email        string `gorm:"uniqueIndex;size:255"`
	PasswordHash string `gorm:"size:255"`
	FullName     string `gorm:"size:255"`
	Role         string `gorm:"size:32;default:candidate"`
	CvObjectKey  string `gorm:"size:512"`
}

// Company 表示招聘方的公司主页信息，归属于创建者（OwnerID）。
type Company struct {
	gorm.Model
	Name          string `gorm:"size:255"`
	Slug          string `gorm:"uniqueIndex;size:128"`
	Website       string `gorm:"size:512"`
	Description   string `gorm:"type:text"`
	LogoObjectKey string `gorm:"size:512"`
	OwnerID       uint   `gorm:"index"`
	Owner         User   `gorm:"constraint:OnDelete:CASCADE"`
}

// JobPosting 表示公司发布的职位。
// Requirements 以 JSONB 存储技能/资格要求列表。
type JobPosting struct {
	gorm.Model
	CompanyID    uint           `gorm:"index"`
	Company      Company        `gorm:"constraint:OnDelete:CASCADE"`
	Title        string         `gorm:"size:255"`
	Description  string         `gorm:"type:text"`
	Requirements datatypes.JSON `gorm:"type:jsonb"`
	Location     string         `gorm:"size:255;index"`
	JobType      string         `gorm:"size:32;index"`
	SalaryMin    int64
	SalaryMax    int64
	Status       string `gorm:"size:32;default:open;index"`
	Deadline     *time.Time
}

// JobApplication 表示候选人对职位的一次申请。
// 同一用户对同一职位只允许一条记录。
type JobApplication struct {
	gorm.Model
	UserID          uint       `gorm:"uniqueIndex:idx_applications_user_posting"`
	User            User       `gorm:"constraint:OnDelete:CASCADE"`
	JobPostingID    uint       `gorm:"uniqueIndex:idx_applications_user_posting"`
	JobPosting      JobPosting `gorm:"constraint:OnDelete:CASCADE"`
	Status          string     `gorm:"size:32;default:PENDING;index"`
	ExpectedSalary  int64
	CoverLetter     string `gorm:"type:text"`
	CvObjectKey     string `gorm:"size:512"`
	RejectionReason string `gorm:"type:text"`
	AdminNotes      string `gorm:"type:text"`
	ReviewedAt      *time.Time
	ReviewedBy      *uint
}

// InterviewSchedule 表示为某次申请安排的面试，归属于唯一一条申请记录。
type InterviewSchedule struct {
	gorm.Model
	JobApplicationID uint           `gorm:"index"`
	JobApplication   JobApplication `gorm:"constraint:OnDelete:CASCADE"`
	JobPostingID     uint           `gorm:"index"`
	CandidateID      uint           `gorm:"index"`
	ScheduledAt      time.Time
	DurationMinutes  int
	InterviewType    string `gorm:"size:32"`
	Location         string `gorm:"size:512"`
	Notes            string `gorm:"type:text"`
	Status           string `gorm:"size:32;default:SCHEDULED"`
}

// SubscriptionPlan 表示可购买的订阅套餐。
type SubscriptionPlan struct {
	gorm.Model
	Name           string  `gorm:"size:128"`
	Slug           string  `gorm:"uniqueIndex;size:64"`
	Price          float64 `gorm:"not null"`
	DurationDays   int     `gorm:"not null"`
	Features       datatypes.JSON `gorm:"type:jsonb"`
	MaxJobPostings int
	IsActive       bool `gorm:"default:true"`
}

// Subscription 表示用户的一次订阅购买（含续费）。
// Status 由支付回调对账或用户取消/到期清理驱动。
type Subscription struct {
	gorm.Model
	UserID                 uint             `gorm:"index"`
	User                   User             `gorm:"constraint:OnDelete:CASCADE"`
	PlanID                 uint             `gorm:"index"`
	Plan                   SubscriptionPlan `gorm:"foreignKey:PlanID"`
	Status                 string           `gorm:"size:32;default:PENDING;index"`
	PaymentStatus          string           `gorm:"size:32;default:PENDING"`
	StartDate              *time.Time
	EndDate                *time.Time `gorm:"index"`
	TransactionID          string     `gorm:"size:128"`
	IsRenewal              bool       `gorm:"default:false"`
	OriginalSubscriptionID *uint
	CancelledAt            *time.Time
	RefundAmount           float64
	RefundStatus           string `gorm:"size:32"`
}

// Notification 表示展示在站内「我的通知」里的一条消息。
type Notification struct {
	gorm.Model
	UserID  uint   `gorm:"index"`
	Type    string `gorm:"size:64"`
	Title   string `gorm:"size:255"`
	Message string `gorm:"type:text"`
	Data    datatypes.JSON `gorm:"type:jsonb"`
	IsRead  bool   `gorm:"default:false;index"`
}
