package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/fan-verify/internal/logging"
	"github.com/example/fan-verify/internal/retry"
)

// PostgresStore persists users and verification state through gorm.
type PostgresStore struct {
	db     *gorm.DB
	logger *zap.Logger
	policy retry.Policy
	now    func() time.Time
}

// NewPostgresStore creates a new store instance.
func NewPostgresStore(db *gorm.DB, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logger.Named("postgres_store"),
		policy: retry.DefaultPolicy,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source used for verification timestamps.
func (s *PostgresStore) WithClock(now func() time.Time) *PostgresStore {
	s.now = now
	return s
}

// AutoMigrate ensures the schema is available.
func (s *PostgresStore) AutoMigrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&User{}, &Profile{})
}

func (s *PostgresStore) executeWithRetry(ctx context.Context, operation string, fn func() error) error {
	return retry.Do(ctx, s.policy, s.logger, operation, logging.RequestIDFromContext(ctx), fn)
}

// CreateUser inserts a new account.
func (s *PostgresStore) CreateUser(ctx context.Context, user *User) error {
	return s.executeWithRetry(ctx, "repository.create_user", func() error {
		err := s.db.WithContext(ctx).Create(user).Error
		if isUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return err
	})
}

// FindUserByID loads an account by id.
func (s *PostgresStore) FindUserByID(ctx context.Context, id string) (*User, error) {
	var user User
	err := s.executeWithRetry(ctx, "repository.find_user_by_id", func() error {
		return notFound(s.db.WithContext(ctx).Take(&user, "id = ?", id).Error)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// FindUserByEmail loads an account by email.
func (s *PostgresStore) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	err := s.executeWithRetry(ctx, "repository.find_user_by_email", func() error {
		return notFound(s.db.WithContext(ctx).Take(&user, "email = ?", email).Error)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UpsertVerification merges the verdict into the profile (creating it when
// absent) and mirrors it onto the user record, in one transaction.
func (s *PostgresStore) UpsertVerification(ctx context.Context, userID string, match bool, confidence *float64) error {
	now := s.now()
	status := StatusFor(match)
	return s.executeWithRetry(ctx, "repository.upsert_verification", func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			profile := Profile{
				UserID:                 userID,
				VerificationStatus:     status,
				FaceVerified:           &match,
				VerificationConfidence: confidence,
				VerificationDate:       &now,
				FanLevel:               "Beginner",
				CreatedAt:              now,
				UpdatedAt:              now,
			}
			err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "user_id"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"verification_status", "face_verified", "verification_confidence", "verification_date", "updated_at",
				}),
			}).Create(&profile).Error
			if err != nil {
				return err
			}

			return tx.Model(&User{}).Where("id = ?", userID).Updates(map[string]any{
				"face_verified":           match,
				"verification_status":     string(status),
				"verification_confidence": confidence,
				"verification_date":       now,
				"updated_at":              now,
			}).Error
		})
	})
}

// MarkCompleted flags the verification as completed on both records. It
// returns ErrNotFound when neither record holds a verdict.
func (s *PostgresStore) MarkCompleted(ctx context.Context, userID string) error {
	now := s.now()
	return s.executeWithRetry(ctx, "repository.mark_completed", func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			// Only a stored verdict can be completed; a bare user row is not one.
			var verdicts int64
			if err := tx.Model(&Profile{}).Where("user_id = ? AND face_verified IS NOT NULL", userID).Count(&verdicts).Error; err != nil {
				return err
			}
			if verdicts == 0 {
				if err := tx.Model(&User{}).Where("id = ? AND face_verified IS NOT NULL", userID).Count(&verdicts).Error; err != nil {
					return err
				}
			}
			if verdicts == 0 {
				return ErrNotFound
			}

			if err := tx.Model(&Profile{}).Where("user_id = ?", userID).Updates(map[string]any{
				"verification_status": string(StatusCompleted),
				"updated_at":          now,
			}).Error; err != nil {
				return err
			}
			return tx.Model(&User{}).Where("id = ?", userID).Updates(map[string]any{
				"verification_status":          string(StatusCompleted),
				"verification_completed":       true,
				"verification_completion_date": now,
				"updated_at":                   now,
			}).Error
		})
	})
}

// ReadVerification returns the user record state when it carries a verdict,
// falling back to the profile record.
func (s *PostgresStore) ReadVerification(ctx context.Context, userID string) (*VerificationRecord, error) {
	var record *VerificationRecord
	err := s.executeWithRetry(ctx, "repository.read_verification", func() error {
		var user User
		err := s.db.WithContext(ctx).Where("id = ? AND face_verified IS NOT NULL", userID).Take(&user).Error
		if err == nil {
			record = recordFromUser(&user)
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		var profile Profile
		err = s.db.WithContext(ctx).Where("user_id = ? AND face_verified IS NOT NULL", userID).Take(&profile).Error
		if err != nil {
			return notFound(err)
		}
		record = recordFromProfile(&profile)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// AggregateVerification counts profiles per status.
func (s *PostgresStore) AggregateVerification(ctx context.Context) (*VerificationAggregation, error) {
	var agg VerificationAggregation
	err := s.executeWithRetry(ctx, "repository.aggregate_verification", func() error {
		return s.db.WithContext(ctx).Model(&Profile{}).
			Select(`COUNT(*) AS total,
				COALESCE(SUM(CASE WHEN verification_status = 'verified' THEN 1 ELSE 0 END), 0) AS verified,
				COALESCE(SUM(CASE WHEN verification_status = 'pending' THEN 1 ELSE 0 END), 0) AS pending,
				COALESCE(SUM(CASE WHEN verification_status = 'completed' THEN 1 ELSE 0 END), 0) AS completed,
				COALESCE(AVG(verification_confidence), 0) AS average_confidence`).
			Where("face_verified IS NOT NULL").
			Scan(&agg).Error
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// SQLSTATE 23505 is unique_violation.
	return strings.Contains(err.Error(), "23505")
}
