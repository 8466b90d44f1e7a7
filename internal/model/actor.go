package model

import "time"

// Actor вызывающий пользователь, определяется на каждый запрос
type Actor struct {
	ID      int64  `json:"id"`
	StaffID *int64 `json:"staff_id"` // если аккаунт принадлежит сотруднику
	System  bool   `json:"system"`   // системный уровень, игнорирует окно отмены
}

// AccessLevel уровень доступа к учреждению
type AccessLevel string

const (
	AccessLevelViewer  AccessLevel = "viewer"
	AccessLevelManager AccessLevel = "manager"
)

// AccessGrant доступ аккаунта к учреждению
type AccessGrant struct {
	ID            int64       `json:"id"`
	AccountID     int64       `json:"account_id"`
	InstitutionID int64       `json:"institution_id"`
	Level         AccessLevel `json:"level"`
	GrantedAt     time.Time   `json:"granted_at"`
}

type Institution struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

type Staff struct {
	ID            int64     `json:"id"`
	InstitutionID int64     `json:"institution_id"`
	FullName      string    `json:"full_name"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
}
