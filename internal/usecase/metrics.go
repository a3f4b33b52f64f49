package usecase

import (
	"context"

	"github.com/example/fan-verify/internal/apperr"
	"github.com/example/fan-verify/internal/logging"
)

// MetricsSummary represents aggregated verification insights.
type MetricsSummary struct {
	TotalProfiles     int64   `json:"total_profiles"`
	Verified          int64   `json:"verified"`
	Pending           int64   `json:"pending"`
	Completed         int64   `json:"completed"`
	VerificationRate  float64 `json:"verification_rate"`
	AverageConfidence float64 `json:"average_confidence"`
}

// GetMetricsSummary aggregates verification state across stored profiles.
func (uc *VerificationUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.store.AggregateVerification(ctx)
	if err != nil {
		logging.WithOperation(uc.logger, "usecase.metrics_summary", logging.RequestIDFromContext(ctx)).
			Error("failed to aggregate verification state", logging.ErrorFields(err)...)
		return nil, apperr.Wrap(err, apperr.KindStorage, "failed to load verification summary")
	}

	summary := &MetricsSummary{
		TotalProfiles:     aggregation.Total,
		Verified:          aggregation.Verified,
		Pending:           aggregation.Pending,
		Completed:         aggregation.Completed,
		AverageConfidence: aggregation.AverageConfidence,
	}

	if aggregation.Total > 0 {
		summary.VerificationRate = float64(aggregation.Verified+aggregation.Completed) / float64(aggregation.Total)
	}

	return summary, nil
}
