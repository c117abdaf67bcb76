package audit

import (
	"context"
	"fmt"
)

// Service is the read side of the ledger used by history endpoints.
type Service struct {
	ledger Ledger
}

// NewService builds an audit Service.
func NewService(ledger Ledger) *Service {
	return &Service{ledger: ledger}
}

// History lists records for the filter with the limit clamped.
func (s *Service) History(ctx context.Context, filter Filter) ([]Record, error) {
	if s == nil || s.ledger == nil {
		return nil, fmt.Errorf("audit: ledger not configured")
	}
	filter.Limit = ClampLimit(filter.Limit)
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		filter.From, filter.To = filter.To, filter.From
	}
	return s.ledger.List(ctx, filter)
}

// Export renders the filtered history as CSV.
func (s *Service) Export(ctx context.Context, filter Filter) ([]byte, error) {
	records, err := s.History(ctx, filter)
	if err != nil {
		return nil, err
	}
	return WriteCSV(records)
}
