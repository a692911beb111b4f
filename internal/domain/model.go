package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	RoleAdmin = "admin"
	RoleGuest = "guest"
)

func ValidRole(role string) bool {
	return role == RoleAdmin || role == RoleGuest
}

type User struct {
	ID           uint      `json:"id"`
	Email        string    `json:"email"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type AuthSession struct {
	ID        uint
	UserID    uint
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

type APIToken struct {
	ID        uint
	UserID    uint
	Name      string
	TokenHash string
	ExpiresAt *time.Time
	CreatedAt time.Time
}

// MagicLink is a single-use login link delivered by mail.
type MagicLink struct {
	ID         uint
	Email      string
	TokenHash  string
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	CreatedAt  time.Time
}

type AuditLog struct {
	ID          uint
	ActorUserID *uint
	Action      string
	TargetType  string
	TargetKey   string
	Metadata    string
	CreatedAt   time.Time
}

type AuditRecord struct {
	ID             uint      `json:"id"`
	ActorUserID    *uint     `json:"actor_user_id"`
	ActorUserEmail string    `json:"actor_user_email"`
	Action         string    `json:"action"`
	TargetType     string    `json:"target_type"`
	TargetKey      string    `json:"target_key"`
	Metadata       string    `json:"metadata"`
	CreatedAt      time.Time `json:"created_at"`
}

// Identity is the resolved caller of a request.
type Identity struct {
	UserID uint   `json:"id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

type BrowseQuery struct {
	Skip  int   `json:"skip"`
	Take  int   `json:"take"`
	Order Order `json:"order"`
}

type Page struct {
	IDs   []string `json:"ids"`
	Skip  int      `json:"skip"`
	Take  int      `json:"take"`
	Total int64    `json:"total"`
}

// Record is every attribute of one entity that the domain model declares.
type Record struct {
	Domain string         `json:"domain"`
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// ValueRef addresses one attribute of one entity inside the served application.
type ValueRef struct {
	Domain string `json:"domain"`
	ID     string `json:"id"`
	Key    string `json:"key"`
}

func (r ValueRef) Validate() error {
	if strings.TrimSpace(r.Domain) == "" || strings.TrimSpace(r.ID) == "" || strings.TrimSpace(r.Key) == "" {
		return fmt.Errorf("%w: domain, id and key are required", ErrInvalidInput)
	}
	return nil
}

func (r ValueRef) String() string {
	return r.Domain + "/" + r.ID + "/" + r.Key
}

// ByteArray is a file value on the wire: a JSON array of numbers 0-255.
type ByteArray []byte

func (b ByteArray) MarshalJSON() ([]byte, error) {
	out := make([]int, len(b))
	for i, v := range b {
		out[i] = int(v)
	}
	return json.Marshal(out)
}

func (b *ByteArray) UnmarshalJSON(data []byte) error {
	var raw []int
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: file value must be an array of bytes", ErrInvalidInput)
	}
	out := make([]byte, len(raw))
	for i, v := range raw {
		if v < 0 || v > 255 {
			return fmt.Errorf("%w: byte %d out of range at index %d", ErrInvalidInput, v, i)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}
