//go:build integration

package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcmongo "github.com/testcontainers/testcontainers-go/modules/mongodb"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/example/fan-verify/internal/repository"
)

type store interface {
	CreateUser(ctx context.Context, user *repository.User) error
	FindUserByID(ctx context.Context, id string) (*repository.User, error)
	FindUserByEmail(ctx context.Context, email string) (*repository.User, error)
	UpsertVerification(ctx context.Context, userID string, match bool, confidence *float64) error
	MarkCompleted(ctx context.Context, userID string) error
	ReadVerification(ctx context.Context, userID string) (*repository.VerificationRecord, error)
	AggregateVerification(ctx context.Context) (*repository.VerificationAggregation, error)
}

var fixedNow = time.Date(2025, 4, 20, 12, 0, 0, 0, time.UTC)

type StoreSuite struct {
	suite.Suite
	store store
}

func (s *StoreSuite) newUser() *repository.User {
	id := uuid.NewString()
	user := &repository.User{
		ID:        id,
		Name:      "Fan " + id[:8],
		Email:     id + "@example.com",
		Role:      "user",
		CreatedAt: fixedNow,
		UpdatedAt: fixedNow,
	}
	s.Require().NoError(s.store.CreateUser(context.Background(), user))
	return user
}

func (s *StoreSuite) TestDuplicateEmailRejected() {
	ctx := context.Background()
	user := s.newUser()

	dup := *user
	dup.ID = uuid.NewString()
	s.ErrorIs(s.store.CreateUser(ctx, &dup), repository.ErrDuplicateEmail)

	found, err := s.store.FindUserByEmail(ctx, user.Email)
	s.Require().NoError(err)
	s.Equal(user.ID, found.ID)
}

func (s *StoreSuite) TestReadWithoutUpsertIsNotFound() {
	user := s.newUser()

	_, err := s.store.ReadVerification(context.Background(), user.ID)
	s.ErrorIs(err, repository.ErrNotFound)

	_, err = s.store.ReadVerification(context.Background(), uuid.NewString())
	s.ErrorIs(err, repository.ErrNotFound)
}

func (s *StoreSuite) TestUpsertThenRead() {
	ctx := context.Background()
	user := s.newUser()
	confidence := 0.92

	s.Require().NoError(s.store.UpsertVerification(ctx, user.ID, true, &confidence))

	record, err := s.store.ReadVerification(ctx, user.ID)
	s.Require().NoError(err)
	s.True(record.FaceVerified)
	s.Equal(repository.StatusVerified, record.Status)
	s.Require().NotNil(record.Confidence)
	s.InDelta(0.92, *record.Confidence, 1e-9)
	s.Equal("user", record.Source)
}

func (s *StoreSuite) TestUpsertWithoutUserFallsBackToProfile() {
	ctx := context.Background()
	userID := uuid.NewString()

	s.Require().NoError(s.store.UpsertVerification(ctx, userID, false, nil))

	record, err := s.store.ReadVerification(ctx, userID)
	s.Require().NoError(err)
	s.False(record.FaceVerified)
	s.Equal(repository.StatusPending, record.Status)
	s.Nil(record.Confidence)
	s.Equal("profile", record.Source)
}

func (s *StoreSuite) TestUpsertIsIdempotent() {
	ctx := context.Background()
	user := s.newUser()
	confidence := 0.5

	s.Require().NoError(s.store.UpsertVerification(ctx, user.ID, true, &confidence))
	first, err := s.store.ReadVerification(ctx, user.ID)
	s.Require().NoError(err)

	s.Require().NoError(s.store.UpsertVerification(ctx, user.ID, true, &confidence))
	second, err := s.store.ReadVerification(ctx, user.ID)
	s.Require().NoError(err)

	s.Equal(first.Status, second.Status)
	s.Equal(first.FaceVerified, second.FaceVerified)
	s.Equal(*first.Confidence, *second.Confidence)
	s.True(first.VerificationDate.Equal(*second.VerificationDate))
}

func (s *StoreSuite) TestMarkCompleted() {
	ctx := context.Background()
	user := s.newUser()

	s.ErrorIs(s.store.MarkCompleted(ctx, uuid.NewString()), repository.ErrNotFound)

	s.Require().NoError(s.store.UpsertVerification(ctx, user.ID, true, nil))
	s.Require().NoError(s.store.MarkCompleted(ctx, user.ID))

	record, err := s.store.ReadVerification(ctx, user.ID)
	s.Require().NoError(err)
	s.Equal(repository.StatusCompleted, record.Status)

	stored, err := s.store.FindUserByID(ctx, user.ID)
	s.Require().NoError(err)
	s.True(stored.VerificationCompleted)
	s.NotNil(stored.VerificationCompletionDate)
}

func (s *StoreSuite) TestMarkCompletedWithoutVerdictIsNotFound() {
	ctx := context.Background()
	user := s.newUser()

	s.ErrorIs(s.store.MarkCompleted(ctx, user.ID), repository.ErrNotFound)

	stored, err := s.store.FindUserByID(ctx, user.ID)
	s.Require().NoError(err)
	s.False(stored.VerificationCompleted)
	s.Nil(stored.VerificationCompletionDate)

	_, err = s.store.ReadVerification(ctx, user.ID)
	s.ErrorIs(err, repository.ErrNotFound)
}

func (s *StoreSuite) TestAggregateVerification() {
	ctx := context.Background()
	high, low := 0.9, 0.1
	s.Require().NoError(s.store.UpsertVerification(ctx, s.newUser().ID, true, &high))
	s.Require().NoError(s.store.UpsertVerification(ctx, s.newUser().ID, false, &low))

	agg, err := s.store.AggregateVerification(ctx)
	s.Require().NoError(err)
	s.GreaterOrEqual(agg.Total, int64(2))
	s.GreaterOrEqual(agg.Verified, int64(1))
	s.GreaterOrEqual(agg.Pending, int64(1))
}

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("fanverify"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open gorm: %v", err)
	}

	pg := repository.NewPostgresStore(db, zap.NewNop()).WithClock(func() time.Time { return fixedNow })
	if err := pg.AutoMigrate(ctx); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}

	suite.Run(t, &StoreSuite{store: pg})
}

func TestMongoStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	container, err := tcmongo.Run(ctx, "mongo:7", tcmongo.WithReplicaSet("rs0"))
	if err != nil {
		t.Fatalf("failed to start mongo container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetDirect(true))
	if err != nil {
		t.Fatalf("failed to connect to mongo: %v", err)
	}
	t.Cleanup(func() { _ = client.Disconnect(ctx) })

	ms := repository.NewMongoStore(client, "fanverify_test", zap.NewNop()).WithClock(func() time.Time { return fixedNow })
	if err := ms.EnsureIndexes(ctx); err != nil {
		t.Fatalf("ensure indexes failed: %v", err)
	}

	suite.Run(t, &StoreSuite{store: ms})
}
