package store

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/hearth-ai/assistant/pkg/apperrors"
	"github.com/hearth-ai/assistant/pkg/models"
)

// RecordCost appends one per-request token/cost accounting row.
func (s *Store) RecordCost(ctx context.Context, c models.CostRecord) error {
	_, err := s.g.Insert("cost_records").Rows(goqu.Record{
		"tier":          c.Tier,
		"model":         c.Model,
		"input_tokens":  c.InputTokens,
		"output_tokens": c.OutputTokens,
		"cost_estimate": c.CostEstimate,
		"latency_ms":    c.LatencyMS,
		"at":            c.At,
	}).Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: record cost: %v", apperrors.ErrTransientIO, err)
	}
	return nil
}

// CostSummary is the aggregate spend over a time window, used by the
// status/health surface.
type CostSummary struct {
	TotalCost         float64
	TotalInputTokens  int64
	TotalOutputTokens int64
	RequestCount      int64
}

// CostSince aggregates cost records from `since` to now.
func (s *Store) CostSince(ctx context.Context, since time.Time) (CostSummary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(cost_estimate), 0),
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COUNT(*)
		FROM cost_records WHERE at >= ?
	`, since)

	var summary CostSummary
	if err := row.Scan(&summary.TotalCost, &summary.TotalInputTokens, &summary.TotalOutputTokens, &summary.RequestCount); err != nil {
		return CostSummary{}, fmt.Errorf("%w: cost summary since %s: %v", apperrors.ErrTransientIO, since, err)
	}
	return summary, nil
}
