package model

import (
	"time"
)

const (
	RoleRegular = "regular"
	RoleAdmin   = "admin"
)

// User 用户模型
type User struct {
	ID           int       `json:"id" gorm:"primaryKey"`
	Name         string    `json:"name" gorm:"not null;uniqueIndex"`
	Email        string    `json:"email" gorm:"not null;uniqueIndex"`
	PasswordHash string    `json:"-" gorm:"column:password;not null"`
	Role         string    `json:"role" gorm:"not null;default:regular"`
	CreatedAt    time.Time `json:"created_at"`
}

func (User) TableName() string { return "users" }

// ValidRole 角色是否合法
func ValidRole(role string) bool {
	return role == RoleRegular || role == RoleAdmin
}

// Review 影评
type Review struct {
	ID        int       `json:"id" gorm:"primaryKey"`
	UserID    int       `json:"user_id" gorm:"not null;index"`
	MovieID   int       `json:"movie_id" gorm:"not null;index"`
	Text      string    `json:"text" gorm:"type:text;not null"`
	Sentiment *float64  `json:"sentiment"` // -1 ~ +1
	Source    string    `json:"source" gorm:"index"`
	CreatedAt time.Time `json:"created_at"`
	User      *User     `json:"user,omitempty"`
}

func (Review) TableName() string { return "reviews" }
