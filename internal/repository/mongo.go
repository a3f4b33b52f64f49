package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/example/fan-verify/internal/logging"
	"github.com/example/fan-verify/internal/retry"
)

const (
	usersCollection    = "users"
	profilesCollection = "profiles"
)

// MongoStore persists users and verification state as documents. Multi
// document writes run inside a session transaction, which needs a replica set.
type MongoStore struct {
	client   *mongo.Client
	users    *mongo.Collection
	profiles *mongo.Collection
	logger   *zap.Logger
	policy   retry.Policy
	now      func() time.Time
}

// NewMongoStore binds the store to a database.
func NewMongoStore(client *mongo.Client, database string, logger *zap.Logger) *MongoStore {
	db := client.Database(database)
	policy := retry.DefaultPolicy
	policy.Transient = isTransientMongoError
	return &MongoStore{
		client:   client,
		users:    db.Collection(usersCollection),
		profiles: db.Collection(profilesCollection),
		logger:   logger.Named("mongo_store"),
		policy:   policy,
		now:      func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}
}

// WithClock replaces the time source used for verification timestamps.
func (s *MongoStore) WithClock(now func() time.Time) *MongoStore {
	s.now = now
	return s
}

// EnsureIndexes creates the unique email index and the profile lookup index.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	if _, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return logging.NewOperationError("repository.ensure_indexes", "", err)
	}
	_, err := s.profiles.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "face_verified", Value: 1}},
	})
	return logging.NewOperationError("repository.ensure_indexes", "", err)
}

func (s *MongoStore) executeWithRetry(ctx context.Context, operation string, fn func() error) error {
	return retry.Do(ctx, s.policy, s.logger, operation, logging.RequestIDFromContext(ctx), fn)
}

// CreateUser inserts a new account.
func (s *MongoStore) CreateUser(ctx context.Context, user *User) error {
	return s.executeWithRetry(ctx, "repository.create_user", func() error {
		_, err := s.users.InsertOne(ctx, user)
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateEmail
		}
		return err
	})
}

// FindUserByID loads an account by id.
func (s *MongoStore) FindUserByID(ctx context.Context, id string) (*User, error) {
	return s.findUser(ctx, "repository.find_user_by_id", bson.M{"_id": id})
}

// FindUserByEmail loads an account by email.
func (s *MongoStore) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.findUser(ctx, "repository.find_user_by_email", bson.M{"email": email})
}

func (s *MongoStore) findUser(ctx context.Context, operation string, filter bson.M) (*User, error) {
	var user User
	err := s.executeWithRetry(ctx, operation, func() error {
		return noDocuments(s.users.FindOne(ctx, filter).Decode(&user))
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UpsertVerification merges the verdict into the profile document (creating
// it when absent) and mirrors it onto the user document, in one transaction.
func (s *MongoStore) UpsertVerification(ctx context.Context, userID string, match bool, confidence *float64) error {
	now := s.now()
	status := StatusFor(match)
	return s.executeWithRetry(ctx, "repository.upsert_verification", func() error {
		return s.withTransaction(ctx, func(sc mongo.SessionContext) error {
			_, err := s.profiles.UpdateOne(sc,
				bson.M{"_id": userID},
				bson.M{
					"$set": bson.M{
						"verification_status":     status,
						"face_verified":           match,
						"verification_confidence": confidence,
						"verification_date":       now,
						"updated_at":              now,
					},
					"$setOnInsert": bson.M{
						"user_id":    userID,
						"fan_level":  "Beginner",
						"fan_points": 0,
						"created_at": now,
					},
				},
				options.Update().SetUpsert(true),
			)
			if err != nil {
				return err
			}

			_, err = s.users.UpdateOne(sc, bson.M{"_id": userID}, bson.M{"$set": bson.M{
				"face_verified":           match,
				"verification_status":     status,
				"verification_confidence": confidence,
				"verification_date":       now,
				"updated_at":              now,
			}})
			return err
		})
	})
}

// MarkCompleted flags the verification as completed on both documents. It
// returns ErrNotFound when neither document holds a verdict.
func (s *MongoStore) MarkCompleted(ctx context.Context, userID string) error {
	now := s.now()
	return s.executeWithRetry(ctx, "repository.mark_completed", func() error {
		return s.withTransaction(ctx, func(sc mongo.SessionContext) error {
			withVerdict := bson.M{"$ne": nil}
			verdicts, err := s.profiles.CountDocuments(sc, bson.M{"user_id": userID, "face_verified": withVerdict})
			if err != nil {
				return err
			}
			if verdicts == 0 {
				verdicts, err = s.users.CountDocuments(sc, bson.M{"_id": userID, "face_verified": withVerdict})
				if err != nil {
					return err
				}
			}
			if verdicts == 0 {
				return ErrNotFound
			}

			if _, err := s.profiles.UpdateOne(sc, bson.M{"_id": userID}, bson.M{"$set": bson.M{
				"verification_status": StatusCompleted,
				"updated_at":          now,
			}}); err != nil {
				return err
			}
			_, err = s.users.UpdateOne(sc, bson.M{"_id": userID}, bson.M{"$set": bson.M{
				"verification_status":          StatusCompleted,
				"verification_completed":       true,
				"verification_completion_date": now,
				"updated_at":                   now,
			}})
			return err
		})
	})
}

// ReadVerification returns the user document state when it carries a verdict,
// falling back to the first profile document for the user.
func (s *MongoStore) ReadVerification(ctx context.Context, userID string) (*VerificationRecord, error) {
	var record *VerificationRecord
	err := s.executeWithRetry(ctx, "repository.read_verification", func() error {
		var user User
		err := s.users.FindOne(ctx, bson.M{"_id": userID, "face_verified": bson.M{"$ne": nil}}).Decode(&user)
		if err == nil {
			record = recordFromUser(&user)
			return nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return err
		}

		var profile Profile
		err = s.profiles.FindOne(ctx, bson.M{"user_id": userID, "face_verified": bson.M{"$ne": nil}}).Decode(&profile)
		if err != nil {
			return noDocuments(err)
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
func (s *MongoStore) AggregateVerification(ctx context.Context) (*VerificationAggregation, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"face_verified": bson.M{"$ne": nil}}}},
		{{Key: "$group", Value: bson.M{
			"_id":                nil,
			"total":              bson.M{"$sum": 1},
			"verified":           bson.M{"$sum": statusCount(StatusVerified)},
			"pending":            bson.M{"$sum": statusCount(StatusPending)},
			"completed":          bson.M{"$sum": statusCount(StatusCompleted)},
			"average_confidence": bson.M{"$avg": "$verification_confidence"},
		}}},
	}

	var agg VerificationAggregation
	err := s.executeWithRetry(ctx, "repository.aggregate_verification", func() error {
		cursor, err := s.profiles.Aggregate(ctx, pipeline)
		if err != nil {
			return err
		}
		var rows []struct {
			Total             int64    `bson:"total"`
			Verified          int64    `bson:"verified"`
			Pending           int64    `bson:"pending"`
			Completed         int64    `bson:"completed"`
			AverageConfidence *float64 `bson:"average_confidence"`
		}
		if err := cursor.All(ctx, &rows); err != nil {
			return err
		}
		agg = VerificationAggregation{}
		if len(rows) == 1 {
			row := rows[0]
			agg = VerificationAggregation{Total: row.Total, Verified: row.Verified, Pending: row.Pending, Completed: row.Completed}
			if row.AverageConfidence != nil {
				agg.AverageConfidence = *row.AverageConfidence
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

func (s *MongoStore) withTransaction(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

func statusCount(status Status) bson.M {
	return bson.M{"$cond": bson.A{bson.M{"$eq": bson.A{"$verification_status", status}}, 1, 0}}
}

func noDocuments(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return err
}

func isTransientMongoError(err error) bool {
	if err == nil || errors.Is(err, ErrNotFound) {
		return false
	}
	return mongo.IsTimeout(err) || mongo.IsNetworkError(err) || retry.IsTransient(err)
}
