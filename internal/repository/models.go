package repository

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateEmail is returned when an account already uses the email.
	ErrDuplicateEmail = errors.New("email already registered")
)

// Status is the verification state stored on a profile or user record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusVerified  Status = "verified"
	StatusRejected  Status = "rejected"
	StatusCompleted Status = "completed"
)

// StatusFor derives the status written for a verdict.
func StatusFor(match bool) Status {
	if match {
		return StatusVerified
	}
	return StatusPending
}

// User is the primary account record. The verification fields mirror the
// profile so the status read can be served from either location.
type User struct {
	ID           string `gorm:"primaryKey;size:64" bson:"_id"`
	Name         string `gorm:"size:255" bson:"name"`
	Email        string `gorm:"uniqueIndex;size:255" bson:"email"`
	PasswordHash string `gorm:"column:password;size:255" bson:"password,omitempty"`
	Role         string `gorm:"size:32;default:'user'" bson:"role"`
	Provider     string `gorm:"size:32" bson:"provider,omitempty"`
	Picture      string `gorm:"size:1024" bson:"picture,omitempty"`

	FaceVerified               *bool      `gorm:"column:face_verified" bson:"face_verified,omitempty"`
	VerificationStatus         Status     `gorm:"column:verification_status;size:20" bson:"verification_status,omitempty"`
	VerificationConfidence     *float64   `gorm:"column:verification_confidence" bson:"verification_confidence,omitempty"`
	VerificationDate           *time.Time `gorm:"column:verification_date" bson:"verification_date,omitempty"`
	VerificationCompleted      bool       `gorm:"column:verification_completed" bson:"verification_completed"`
	VerificationCompletionDate *time.Time `gorm:"column:verification_completion_date" bson:"verification_completion_date,omitempty"`

	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// TableName overrides the default table name.
func (User) TableName() string {
	return "users"
}

// Profile holds fan data keyed by user id, including the verification state.
type Profile struct {
	UserID                 string     `gorm:"column:user_id;primaryKey;size:64" bson:"user_id"`
	VerificationStatus     Status     `gorm:"column:verification_status;size:20;default:'pending'" bson:"verification_status"`
	FaceVerified           *bool      `gorm:"column:face_verified" bson:"face_verified"`
	VerificationConfidence *float64   `gorm:"column:verification_confidence" bson:"verification_confidence"`
	VerificationDate       *time.Time `gorm:"column:verification_date" bson:"verification_date"`
	FanLevel               string     `gorm:"column:fan_level;size:32;default:'Beginner'" bson:"fan_level"`
	FanPoints              int        `gorm:"column:fan_points;default:0" bson:"fan_points"`
	CreatedAt              time.Time  `bson:"created_at"`
	UpdatedAt              time.Time  `bson:"updated_at"`
}

// TableName overrides the default table name.
func (Profile) TableName() string {
	return "profiles"
}

// VerificationRecord is the reconciled verification state for one user.
type VerificationRecord struct {
	UserID           string
	Status           Status
	FaceVerified     bool
	Confidence       *float64
	VerificationDate *time.Time
	// Source names the record the state was read from: "user" or "profile".
	Source string
}

// VerificationAggregation summarises verification state across profiles.
type VerificationAggregation struct {
	Total             int64
	Verified          int64
	Pending           int64
	Completed         int64
	AverageConfidence float64
}

func recordFromUser(u *User) *VerificationRecord {
	status := u.VerificationStatus
	if status == "" {
		status = StatusFor(u.FaceVerified != nil && *u.FaceVerified)
	}
	return &VerificationRecord{
		UserID:           u.ID,
		Status:           status,
		FaceVerified:     u.FaceVerified != nil && *u.FaceVerified,
		Confidence:       u.VerificationConfidence,
		VerificationDate: u.VerificationDate,
		Source:           "user",
	}
}

func recordFromProfile(p *Profile) *VerificationRecord {
	status := p.VerificationStatus
	if status == "" {
		status = StatusPending
	}
	return &VerificationRecord{
		UserID:           p.UserID,
		Status:           status,
		FaceVerified:     p.FaceVerified != nil && *p.FaceVerified,
		Confidence:       p.VerificationConfidence,
		VerificationDate: p.VerificationDate,
		Source:           "profile",
	}
}
