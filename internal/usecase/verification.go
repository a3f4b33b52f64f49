package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/fan-verify/internal/apperr"
	"github.com/example/fan-verify/internal/logging"
	"github.com/example/fan-verify/internal/metrics"
	"github.com/example/fan-verify/internal/repository"
	"github.com/example/fan-verify/internal/retry"
	"github.com/example/fan-verify/internal/verdict"
	"github.com/example/fan-verify/internal/visionclassifier"
)

// VerificationStore defines the persistence operations needed by the use case.
type VerificationStore interface {
	UpsertVerification(ctx context.Context, userID string, match bool, confidence *float64) error
	MarkCompleted(ctx context.Context, userID string) error
	ReadVerification(ctx context.Context, userID string) (*repository.VerificationRecord, error)
	AggregateVerification(ctx context.Context) (*repository.VerificationAggregation, error)
}

// Options tunes the verification flow.
type Options struct {
	ClassifierTimeout time.Duration
	MaxImageBytes     int64
	// ClassifierRetry applies to the classifier call within ClassifierTimeout.
	ClassifierRetry retry.Policy
	StatusTTL       time.Duration
}

// DefaultOptions mirrors the configuration defaults.
var DefaultOptions = Options{
	ClassifierTimeout: 15 * time.Second,
	MaxImageBytes:     5 << 20,
	ClassifierRetry:   retry.Policy{Attempts: 1},
	StatusTTL:         5 * time.Minute,
}

const (
	msgVerified       = "Verificação concluída e salva com sucesso"
	msgNotMatched     = "As faces não correspondem"
	msgResultSaved    = "Resultado da verificação salvo com sucesso"
	msgCompleted      = "Verificação marcada como completa com sucesso"
	msgNoUserContext  = "no user context"
	msgStatusNotFound = "Dados de verificação não encontrados"
)

// VerificationUseCase encapsulates business logic for the verification flow.
type VerificationUseCase struct {
	store      VerificationStore
	cache      Cache
	classifier visionclassifier.Client
	metrics    *metrics.Metrics
	logger     *zap.Logger
	opts       Options
}

// VerificationResult is the outcome of one identity verification attempt.
type VerificationResult struct {
	FaceVerified bool
	Confidence   *float64
	Reasons      []string
	Message      string
	// Degraded is set when the classifier answer needed the keyword fallback.
	Degraded bool
}

// StatusView is the reconciled verification state returned to clients.
type StatusView struct {
	Status           repository.Status `json:"status"`
	FaceVerified     bool              `json:"faceVerified"`
	Confidence       *float64          `json:"confidence"`
	VerificationDate *time.Time        `json:"verificationDate"`
}

// NewVerificationUseCase constructs a new use case instance.
func NewVerificationUseCase(store VerificationStore, cache Cache, classifier visionclassifier.Client, m *metrics.Metrics, logger *zap.Logger, opts Options) *VerificationUseCase {
	if cache == nil {
		cache = NoopCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ClassifierTimeout <= 0 {
		opts.ClassifierTimeout = DefaultOptions.ClassifierTimeout
	}
	if opts.MaxImageBytes <= 0 {
		opts.MaxImageBytes = DefaultOptions.MaxImageBytes
	}
	if opts.ClassifierRetry.Attempts <= 0 {
		opts.ClassifierRetry = DefaultOptions.ClassifierRetry
	}
	if opts.StatusTTL <= 0 {
		opts.StatusTTL = DefaultOptions.StatusTTL
	}
	return &VerificationUseCase{
		store:      store,
		cache:      cache,
		classifier: classifier,
		metrics:    m,
		logger:     logger.Named("verification_usecase"),
		opts:       opts,
	}
}

// VerifyIdentity validates both images, asks the classifier to compare them,
// interprets the answer and persists the verdict for userID.
func (uc *VerificationUseCase) VerifyIdentity(ctx context.Context, userID string, document, selfie visionclassifier.Image) (*VerificationResult, error) {
	requestID := logging.RequestIDFromContext(ctx)
	opLogger := logging.WithOperation(uc.logger, "usecase.verify_identity", requestID).With(zap.String("user_id", userID))

	if userID == "" {
		return nil, apperr.New(apperr.KindAuth, msgNoUserContext)
	}
	if len(document.Data) == 0 || len(selfie.Data) == 0 {
		uc.metrics.ObserveAttempt(metrics.OutcomeInvalid)
		return nil, apperr.Wrap(visionclassifier.ErrMissingImage, apperr.KindValidation, visionclassifier.ErrMissingImage.Error())
	}
	for _, img := range []visionclassifier.Image{document, selfie} {
		if err := img.Validate(uc.opts.MaxImageBytes); err != nil {
			uc.metrics.ObserveAttempt(metrics.OutcomeInvalid)
			return nil, apperr.Wrap(err, apperr.KindValidation, err.Error())
		}
	}

	raw, err := uc.classify(ctx, requestID, []visionclassifier.Image{document, selfie})
	if err != nil {
		uc.metrics.ObserveAttempt(metrics.OutcomeClassifierError)
		opLogger.Error("vision classifier failed", logging.ErrorFields(err)...)
		if errors.Is(err, visionclassifier.ErrNoAnswer) {
			return nil, apperr.Wrap(err, apperr.KindInternal, "identity classifier gave no answer")
		}
		return nil, apperr.Wrap(err, apperr.KindClassifierUnavailable, "identity classifier unavailable, try again later")
	}

	out := verdict.Decode(raw)
	v := verdict.Resolve(out)
	degraded := verdict.Degraded(out)
	if degraded {
		uc.metrics.ObserveParse(metrics.ParseHeuristic)
		opLogger.Warn("classifier answer was not structured, using keyword fallback",
			zap.Bool("match", v.Match), zap.Int("response_length", len(raw)))
	} else {
		uc.metrics.ObserveParse(metrics.ParseStructured)
	}

	if err := uc.store.UpsertVerification(ctx, userID, v.Match, v.Confidence); err != nil {
		uc.metrics.ObserveAttempt(metrics.OutcomeStorageError)
		opLogger.Error("failed to persist verdict", logging.ErrorFields(err)...)
		return nil, apperr.Wrap(err, apperr.KindStorage, "verification result could not be saved")
	}
	uc.invalidateStatus(ctx, requestID, userID)

	if v.Match {
		uc.metrics.ObserveAttempt(metrics.OutcomeVerified)
	} else {
		uc.metrics.ObserveAttempt(metrics.OutcomePending)
	}
	opLogger.Info("identity verification stored", zap.Bool("match", v.Match), zap.Bool("degraded", degraded))

	result := &VerificationResult{
		FaceVerified: v.Match,
		Confidence:   v.Confidence,
		Reasons:      v.Reasons,
		Message:      msgNotMatched,
		Degraded:     degraded,
	}
	if v.Match {
		result.Message = msgVerified
	}
	return result, nil
}

func (uc *VerificationUseCase) classify(ctx context.Context, requestID string, images []visionclassifier.Image) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, uc.opts.ClassifierTimeout)
	defer cancel()

	started := time.Now()
	var raw string
	err := retry.Do(ctx, uc.opts.ClassifierRetry, uc.logger, "usecase.classify", requestID, func() error {
		text, err := uc.classifier.Classify(ctx, verificationPrompt, images)
		if err != nil {
			return err
		}
		raw = text
		return nil
	})
	uc.metrics.ObserveClassifierLatency(time.Since(started))
	if err != nil {
		return "", err
	}
	return raw, nil
}

// SaveResult records an externally computed verdict for userID.
func (uc *VerificationUseCase) SaveResult(ctx context.Context, userID string, faceVerified bool, confidence *float64) (string, error) {
	if userID == "" {
		return "", apperr.New(apperr.KindAuth, msgNoUserContext)
	}
	requestID := logging.RequestIDFromContext(ctx)
	if err := uc.store.UpsertVerification(ctx, userID, faceVerified, confidence); err != nil {
		logging.WithOperation(uc.logger, "usecase.save_result", requestID).Error("failed to save verification result", logging.ErrorFields(err)...)
		return "", apperr.Wrap(err, apperr.KindStorage, "Erro ao salvar resultado da verificação")
	}
	uc.invalidateStatus(ctx, requestID, userID)
	return msgResultSaved, nil
}

// CompleteVerification marks the verification flow of userID as finished.
func (uc *VerificationUseCase) CompleteVerification(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", apperr.New(apperr.KindAuth, msgNoUserContext)
	}
	requestID := logging.RequestIDFromContext(ctx)
	if err := uc.store.MarkCompleted(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", apperr.Wrap(err, apperr.KindNotFound, msgStatusNotFound)
		}
		logging.WithOperation(uc.logger, "usecase.complete_verification", requestID).Error("failed to complete verification", logging.ErrorFields(err)...)
		return "", apperr.Wrap(err, apperr.KindStorage, "Erro ao completar o processo de verificação")
	}
	uc.invalidateStatus(ctx, requestID, userID)
	return msgCompleted, nil
}

// GetStatus returns the verification state of targetUserID. Users may only
// read their own state; an empty target means the session user.
func (uc *VerificationUseCase) GetStatus(ctx context.Context, sessionUserID, targetUserID string) (*StatusView, error) {
	if sessionUserID == "" {
		return nil, apperr.New(apperr.KindAuth, msgNoUserContext)
	}
	if targetUserID != "" && targetUserID != sessionUserID {
		return nil, apperr.New(apperr.KindForbidden, "not allowed to read another user's verification")
	}

	requestID := logging.RequestIDFromContext(ctx)
	opLogger := logging.WithOperation(uc.logger, "usecase.get_status", requestID)
	key := statusCacheKey(sessionUserID)

	if cached, err := uc.cacheGet(ctx, requestID, key); err == nil {
		var view StatusView
		decodeErr := json.Unmarshal([]byte(cached), &view)
		if decodeErr == nil {
			return &view, nil
		}
		opLogger.Warn("failed to decode cached status", zap.Error(decodeErr))
	} else if !errors.Is(err, redis.Nil) {
		opLogger.Warn("failed to read cache", zap.Error(err))
	}

	record, err := uc.store.ReadVerification(ctx, sessionUserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.Wrap(err, apperr.KindNotFound, msgStatusNotFound)
		}
		opLogger.Error("failed to read verification", logging.ErrorFields(err)...)
		return nil, apperr.Wrap(err, apperr.KindStorage, "Erro ao buscar o status de verificação")
	}

	view := &StatusView{
		Status:           record.Status,
		FaceVerified:     record.FaceVerified,
		Confidence:       record.Confidence,
		VerificationDate: record.VerificationDate,
	}
	if serialized, err := json.Marshal(view); err == nil {
		if err := retry.Do(ctx, retry.DefaultPolicy, uc.logger, "cache.set.status", requestID, func() error {
			return uc.cache.Set(ctx, key, string(serialized), uc.opts.StatusTTL)
		}); err != nil {
			opLogger.Warn("failed to cache status", zap.Error(err))
		}
	}
	return view, nil
}

func (uc *VerificationUseCase) cacheGet(ctx context.Context, requestID, key string) (string, error) {
	var result string
	err := retry.Do(ctx, retry.DefaultPolicy, uc.logger, "cache.get.status", requestID, func() error {
		value, err := uc.cache.Get(ctx, key)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

// invalidateStatus drops the cached status after a write. Failures only
// delay visibility until the entry expires.
func (uc *VerificationUseCase) invalidateStatus(ctx context.Context, requestID, userID string) {
	if err := retry.Do(ctx, retry.DefaultPolicy, uc.logger, "cache.del.status", requestID, func() error {
		return uc.cache.Del(ctx, statusCacheKey(userID))
	}); err != nil {
		logging.WithOperation(uc.logger, "usecase.invalidate_status", requestID).Warn("failed to invalidate cached status", zap.Error(err))
	}
}

func statusCacheKey(userID string) string {
	return fmt.Sprintf("verification:status:%s", userID)
}
