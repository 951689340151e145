// Package history provides trailing-window return counters per customer.
// The engine never reads these itself; callers fetch a snapshot here and
// pass it in as CustomerContext.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/openreturns/kestrel/internal/domain"
)

// TrailingWindow is the behavioral lookback used by fraud caps.
const TrailingWindow = 30 * 24 * time.Hour

// Service aggregates return history for customers.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
}

// NewService creates a new history service.
func NewService(repo domain.Repository, cache domain.Cache) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
	}
}

// Snapshot returns the customer's trailing-month return count and value.
func (s *Service) Snapshot(ctx context.Context, tenantID, customerID string, now time.Time) (int, float64, error) {
	if tenantID == "" || customerID == "" {
		return 0, 0, fmt.Errorf("tenantID and customerID are required")
	}
	if s.repo == nil {
		return 0, 0, fmt.Errorf("no data source available")
	}

	since := now.Add(-TrailingWindow)
	returns, err := s.repo.GetReturnsByCustomer(ctx, tenantID, customerID, since)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get return history: %w", err)
	}

	var value float64
	for _, r := range returns {
		for _, item := range r.Items {
			value += item.LineValue()
		}
	}

	return len(returns), value, nil
}

// CustomerContext builds a full fraud-history snapshot for the evaluation
// input, preserving caller-supplied loyalty fields.
func (s *Service) CustomerContext(ctx context.Context, tenantID, customerID string, now time.Time, base domain.CustomerContext) (domain.CustomerContext, error) {
	count, value, err := s.Snapshot(ctx, tenantID, customerID, now)
	if err != nil {
		return base, err
	}
	base.TrailingMonthReturnCount = count
	base.TrailingMonthReturnValue = value
	return base, nil
}

// Record registers one accepted return request in the fast counter path.
// The durable count comes from the repository; the cache counter lets the
// async pipeline rate-observe without a query per message.
func (s *Service) Record(ctx context.Context, tenantID, customerID string) (int64, error) {
	if s.cache == nil {
		return 0, nil
	}
	return s.cache.IncrementCounter(ctx, tenantID, "returns:"+customerID, TrailingWindow)
}
