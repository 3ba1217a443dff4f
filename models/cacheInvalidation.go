package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/shipdocs_backend/config"
	"bitbucket.org/mmdatafocus/shipdocs_backend/utils"
	"github.com/google/uuid"
)

// TTL policy by entity class. Monthly summaries are immutable once generated,
// so their entries are only ever invalidated by explicit regeneration.
const (
	InventoryCacheTTL = time.Hour
	CustomerCacheTTL  = 4 * time.Hour
	SummaryCacheTTL   = 24 * time.Hour
)

const dashboardMetricsKey = "DashboardMetrics"

// CacheKeysFor maps an entity to the redis keys that depend on it, including
// aggregate keys: dashboard metrics depend on every inventory item and every
// outbound record.
func CacheKeysFor(entityType EntityType, entityId string) []string {
	switch entityType {
	case EntityTypeInventoryItem:
		return []string{"ItemStock:" + entityId, "Item:" + entityId, dashboardMetricsKey}
	case EntityTypeCustomer:
		return []string{"Customer:" + entityId, "CustomerRecords:" + entityId}
	case EntityTypeOutboundRecord:
		return []string{"OutboundRecord:" + entityId, dashboardMetricsKey}
	case EntityTypeMonthlySummary:
		return []string{"MonthlySummary:" + entityId}
	default:
		return nil
	}
}

// InvalidateEntity drops the stale cache entries for an entity synchronously
// with the mutating flow, then publishes an invalidation event for the
// reporting service. Both steps are best-effort: a cache or publish failure is
// logged and never rolls back the mutation that triggered it.
func InvalidateEntity(ctx context.Context, entityType EntityType, entityId string) {
	logger := config.GetLogger()
	keys := CacheKeysFor(entityType, entityId)
	if len(keys) == 0 {
		return
	}

	if err := config.RemoveRedisKey(keys...); err != nil {
		config.LogError(logger, "cacheInvalidation.go", "InvalidateEntity", "remove keys", keys, err)
	}

	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	if correlationId == "" {
		correlationId = uuid.NewString()
	}
	event := config.InvalidationEvent{
		EntityType:    string(entityType),
		EntityId:      entityId,
		CacheKeys:     keys,
		CorrelationId: correlationId,
		OccurredAt:    time.Now().UTC(),
	}
	if err := config.PublishInvalidationEvent(event); err != nil {
		config.LogError(logger, "cacheInvalidation.go", "InvalidateEntity", "publish event", event, err)
	}
}
