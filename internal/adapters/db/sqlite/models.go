package sqlite

import "time"

type UserModel struct {
	ID           uint   `gorm:"primaryKey"`
	Email        string `gorm:"not null;uniqueIndex"`
	Role         string `gorm:"not null;default:'guest'"`
	PasswordHash string `gorm:"not null;default:''"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (UserModel) TableName() string { return "users" }

type SessionModel struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    uint   `gorm:"not null;index"`
	TokenHash string `gorm:"not null;uniqueIndex"`
	ExpiresAt time.Time
	CreatedAt time.Time
}

func (SessionModel) TableName() string { return "sessions" }

type APITokenModel struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    uint   `gorm:"not null;index"`
	Name      string `gorm:"not null"`
	TokenHash string `gorm:"not null;uniqueIndex"`
	ExpiresAt *time.Time
	CreatedAt time.Time
}

func (APITokenModel) TableName() string { return "api_tokens" }

type MagicLinkModel struct {
	ID         uint   `gorm:"primaryKey"`
	Email      string `gorm:"not null;index"`
	TokenHash  string `gorm:"not null;uniqueIndex"`
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	CreatedAt  time.Time
}

func (MagicLinkModel) TableName() string { return "magic_links" }

type AuditLogModel struct {
	ID          uint `gorm:"primaryKey"`
	ActorUserID *uint
	Action      string `gorm:"not null;index"`
	TargetType  string `gorm:"not null"`
	TargetKey   string `gorm:"not null;default:''"`
	Metadata    string `gorm:"not null;default:''"`
	CreatedAt   time.Time
}

func (AuditLogModel) TableName() string { return "audit_logs" }
