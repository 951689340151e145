// Package worker provides async return evaluation for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/openreturns/kestrel/internal/domain"
	"github.com/openreturns/kestrel/internal/engine"
	"github.com/openreturns/kestrel/internal/history"
)

// policyCacheTTL bounds staleness of the cached active policy.
const policyCacheTTL = 5 * time.Minute

// Worker processes return requests asynchronously from the EventBus.
type Worker struct {
	bus     domain.EventBus
	repo    domain.Repository
	cache   domain.Cache
	engine  *engine.Engine
	history *history.Service

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = all via wildcard if supported)
	TenantIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, cache domain.Cache, eng *engine.Engine, hist *history.Service) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:     bus,
		repo:    repo,
		cache:   cache,
		engine:  eng,
		history: hist,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins processing messages for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all tenants (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	// Subscribe using a special "global" tenant ID
	// In production, you'd want to subscribe with wildcards or JetStream
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicReturnRequested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts workers for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicReturnRequested, func(ctx context.Context, msg *domain.Message) error {
		return w.processReturn(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicReturnRequested,
	)

	return nil
}

// handleMessage handles messages from global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processReturn(ctx, msg.TenantID, msg)
}

// ReturnMessage is the message payload for async return evaluation.
type ReturnMessage struct {
	TenantID string                 `json:"tenantId"`
	TraceID  string                 `json:"traceId"`
	Request  domain.ReturnRequest   `json:"returnRequest"`
	Order    domain.OrderSnapshot   `json:"orderSnapshot"`
	Customer domain.CustomerContext `json:"customerContext"`
}

// processReturn evaluates a return request through the pipeline.
func (w *Worker) processReturn(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	// Parse message
	var retMsg ReturnMessage
	if err := json.Unmarshal(msg.Payload, &retMsg); err != nil {
		slog.Error("failed to parse return message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use message tenant if provided
	if retMsg.TenantID != "" {
		tenantID = retMsg.TenantID
	}

	traceID := retMsg.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	slog.Debug("processing return request",
		"request_id", retMsg.Request.ID,
		"order_id", retMsg.Request.OrderID,
		"tenant_id", tenantID,
		"trace_id", traceID,
	)

	// 1. Load the active policy, cache first
	policy, err := w.activePolicy(ctx, tenantID)
	if err != nil {
		slog.Error("failed to load active policy",
			"tenant_id", tenantID,
			"error", err,
		)
		return err
	}

	// 2. Fill in the fraud-history snapshot from durable storage
	customer := retMsg.Customer
	if w.history != nil && retMsg.Request.CustomerID != "" {
		customer, err = w.history.CustomerContext(ctx, tenantID, retMsg.Request.CustomerID, start, retMsg.Customer)
		if err != nil {
			slog.Warn("failed to load return history, using caller-supplied context",
				"customer_id", retMsg.Request.CustomerID,
				"error", err,
			)
			customer = retMsg.Customer
		}
	}

	// 3. Evaluate
	result, err := w.engine.Evaluate(ctx, &engine.Input{
		Policy:   policy,
		Request:  &retMsg.Request,
		Order:    retMsg.Order,
		Customer: customer,
		Now:      start.UTC(),
		TraceID:  traceID,
	})
	if err != nil {
		slog.Error("evaluation failed",
			"request_id", retMsg.Request.ID,
			"error", err,
		)
		return err
	}
	result.Metadata.TotalMs = time.Since(start).Milliseconds()

	// 4. Persist the request and its evaluation
	if w.repo != nil {
		if err := w.repo.SaveReturnRequest(ctx, tenantID, &retMsg.Request); err != nil {
			slog.Error("failed to save return request",
				"request_id", retMsg.Request.ID,
				"error", err,
			)
		}
		if err := w.repo.SaveEvaluation(ctx, tenantID, result); err != nil {
			slog.Error("failed to save evaluation",
				"request_id", retMsg.Request.ID,
				"error", err,
			)
		}
	}
	if w.history != nil {
		if _, err := w.history.Record(ctx, tenantID, retMsg.Request.CustomerID); err != nil {
			slog.Warn("failed to bump return counter",
				"customer_id", retMsg.Request.CustomerID,
				"error", err,
			)
		}
	}

	// 5. Publish the result
	resultPayload, _ := json.Marshal(result.ToResponse())
	if err := w.bus.Publish(ctx, tenantID, domain.TopicEvaluationCompleted, resultPayload); err != nil {
		slog.Error("failed to publish evaluation",
			"request_id", retMsg.Request.ID,
			"error", err,
		)
	}

	// 6. Escalations get their own topics for downstream consumers
	switch result.Outcome {
	case domain.OutcomeManualReview:
		if err := w.bus.Publish(ctx, tenantID, domain.TopicEvaluationReview, resultPayload); err != nil {
			slog.Error("failed to publish review event",
				"request_id", retMsg.Request.ID,
				"error", err,
			)
		}
	case domain.OutcomeRejected:
		if err := w.bus.Publish(ctx, tenantID, domain.TopicEvaluationRejected, resultPayload); err != nil {
			slog.Error("failed to publish rejection event",
				"request_id", retMsg.Request.ID,
				"error", err,
			)
		}
	}

	slog.Info("return request processed",
		"request_id", retMsg.Request.ID,
		"tenant_id", tenantID,
		"outcome", result.Outcome,
		"fraud_score", result.Fraud.Score,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// activePolicy loads the tenant's active policy, using the cache when
// available and falling back to the repository on a miss.
func (w *Worker) activePolicy(ctx context.Context, tenantID string) (*domain.Policy, error) {
	if w.cache != nil {
		policy, err := w.cache.GetActivePolicy(ctx, tenantID)
		if err == nil && policy != nil {
			return policy, nil
		}
	}

	policy, err := w.repo.GetActivePolicy(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if w.cache != nil {
		_ = w.cache.SetActivePolicy(ctx, tenantID, policy, policyCacheTTL)
	}

	return policy, nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
