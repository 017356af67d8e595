package database

import (
	"errors"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SeedPlans 确保默认套餐存在。按 slug 幂等，已有记录不覆盖。
func SeedPlans(db *gorm.DB) error {
	plans := []SubscriptionPlan{
		{
			Name:           "Basic",
			Slug:           "basic",
			Price:          50000,
			DurationDays:   30,
			MaxJobPostings: 3,
			Features:       datatypes.JSON([]byte(`["3 active job postings","applicant tracking"]`)),
			IsActive:       true,
		},
		{
			Name:           "Pro",
			Slug:           "pro",
			Price:          150000,
			DurationDays:   30,
			MaxJobPostings: 10,
			Features:       datatypes.JSON([]byte(`["10 active job postings","applicant tracking","interview scheduling"]`)),
			IsActive:       true,
		},
		{
			Name:           "Enterprise",
			Slug:           "enterprise",
			Price:          500000,
			DurationDays:   30,
			MaxJobPostings: 0,
			Features:       datatypes.JSON([]byte(`["unlimited job postings","applicant tracking","interview scheduling","priority support"]`)),
			IsActive:       true,
		},
	}

	for _, plan := range plans {
		var existing SubscriptionPlan
		switch err := db.Where("slug = ?", plan.Slug).First(&existing).Error; {
		case err == nil:
			continue
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := db.Create(&plan).Error; err != nil {
				return fmt.Errorf("seed plan %s: %w", plan.Slug, err)
			}
		default:
			return fmt.Errorf("query plan %s: %w", plan.Slug, err)
		}
	}
	return nil
}
