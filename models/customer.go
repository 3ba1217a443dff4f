package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/shipdocs_backend/config"
	"bitbucket.org/mmdatafocus/shipdocs_backend/utils"
	"gorm.io/gorm"
)

// Customers are created through back-office CRUD only; the intake pipeline may
// match against them but never creates one from unverified AI text.
type Customer struct {
	ID            int        `gorm:"primary_key" json:"id"`
	Name          string     `gorm:"size:255;not null;unique" json:"name"`
	Email         string     `gorm:"size:100" json:"email"`
	Phone         string     `gorm:"size:20" json:"phone"`
	IsActive      *bool      `gorm:"not null;default:true" json:"is_active"`
	LastMatchedAt *time.Time `gorm:"index" json:"last_matched_at"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewCustomer struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

func CreateCustomer(ctx context.Context, input *NewCustomer) (*Customer, error) {
	db := config.GetDB()

	var count int64
	if err := db.WithContext(ctx).Model(&Customer{}).Where("name = ?", input.Name).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, errors.New("duplicate name")
	}

	customer := Customer{
		Name:  input.Name,
		Email: input.Email,
		Phone: input.Phone,
	}
	if err := db.WithContext(ctx).Create(&customer).Error; err != nil {
		return nil, err
	}
	return &customer, nil
}

func GetCustomer(ctx context.Context, id int) (*Customer, error) {
	db := config.GetDB()
	var customer Customer
	if err := db.WithContext(ctx).Where("id = ?", id).First(&customer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &customer, nil
}
