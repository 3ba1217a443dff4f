package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/shipdocs_backend/config"
	"bitbucket.org/mmdatafocus/shipdocs_backend/utils"
	"gorm.io/gorm"
)

type User struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Username  string    `gorm:"size:100;not null;unique" json:"username"`
	Name      string    `gorm:"size:100;not null" json:"name"`
	Password  string    `gorm:"size:255;not null" json:"-"`
	Role      UserRole  `gorm:"type:varchar(1);default:O" json:"role"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type LoginInput struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func CreateUser(ctx context.Context, username, name, password string, role UserRole) (*User, error) {
	db := config.GetDB()

	hashed, err := utils.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := User{
		Username: username,
		Name:     name,
		Password: string(hashed),
		Role:     role,
	}
	if err := db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// Login verifies credentials and issues a JWT carrying the actor identity.
func Login(ctx context.Context, input *LoginInput) (string, *User, error) {
	db := config.GetDB()

	var user User
	if err := db.WithContext(ctx).Where("username = ?", input.Username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, errors.New("invalid username or password")
		}
		return "", nil, err
	}
	if user.IsActive != nil && !*user.IsActive {
		return "", nil, errors.New("user is inactive")
	}
	if err := utils.ComparePassword(user.Password, input.Password); err != nil {
		return "", nil, errors.New("invalid username or password")
	}

	token, err := utils.JwtGenerate(user.ID, user.Name, string(user.Role))
	if err != nil {
		return "", nil, err
	}
	return token, &user, nil
}
