package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/shipdocs_backend/config"
	"bitbucket.org/mmdatafocus/shipdocs_backend/models"
	"bitbucket.org/mmdatafocus/shipdocs_backend/utils"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// StockLedger and EntityMatcher are the capabilities the engine depends on.
// Injected at construction so reconciliation is testable with fakes.
type StockLedger interface {
	Reserve(ctx context.Context, tx *gorm.DB, lines []models.ReserveLine, correlationId string, actorId int) (*models.StockReservation, error)
	Commit(ctx context.Context, tx *gorm.DB, reservationId string) error
	Release(ctx context.Context, tx *gorm.DB, reservationId string, actorId int) error
}

type EntityMatcher interface {
	MatchCustomer(ctx context.Context, nameGuess string) (models.MatchResult, bool, error)
	MatchItem(ctx context.Context, descriptionGuess string) (models.MatchResult, bool, error)
}

type dbLedger struct{}

func (dbLedger) Reserve(ctx context.Context, tx *gorm.DB, lines []models.ReserveLine, correlationId string, actorId int) (*models.StockReservation, error) {
	return models.Reserve(ctx, tx, lines, correlationId, actorId)
}

func (dbLedger) Commit(ctx context.Context, tx *gorm.DB, reservationId string) error {
	return models.CommitReservation(ctx, tx, reservationId)
}

func (dbLedger) Release(ctx context.Context, tx *gorm.DB, reservationId string, actorId int) error {
	return models.ReleaseReservation(ctx, tx, reservationId, actorId)
}

type dbMatcher struct{}

func (dbMatcher) MatchCustomer(ctx context.Context, nameGuess string) (models.MatchResult, bool, error) {
	return models.MatchCustomer(ctx, nameGuess)
}

func (dbMatcher) MatchItem(ctx context.Context, descriptionGuess string) (models.MatchResult, bool, error) {
	return models.MatchItem(ctx, descriptionGuess)
}

// Engine turns validated extracted data into a committed outbound record, or
// parks it in the review queue. It is the only caller of the stock ledger.
type Engine struct {
	ledger  StockLedger
	matcher EntityMatcher
	logger  *logrus.Logger
}

func NewEngine(ledger StockLedger, matcher EntityMatcher) *Engine {
	return &Engine{ledger: ledger, matcher: matcher, logger: config.GetLogger()}
}

// DefaultEngine wires the database-backed ledger and matcher.
func DefaultEngine() *Engine {
	return NewEngine(dbLedger{}, dbMatcher{})
}

// ReconcileOutcome is the definite result of one reconciliation attempt.
type ReconcileOutcome struct {
	Status     models.PipelineState   `json:"status"`
	Reason     models.ReviewReason    `json:"reason,omitempty"`
	Record     *models.OutboundRecord `json:"outbound_record,omitempty"`
	ReviewTask *models.ReviewTask     `json:"review_task,omitempty"`
	Confidence float64                `json:"confidence"`
	Replayed   bool                   `json:"replayed"`
}

// concurrencyRetries bounds internal retries on ledger transaction contention
// before surfacing Busy.
const concurrencyRetries = 3

// Reconcile implements the intake algorithm. Duplicate uploads of the same
// document return the prior record unchanged and write no movements.
func (e *Engine) Reconcile(ctx context.Context, extracted *models.ExtractedShipmentData, actorId int) (*ReconcileOutcome, error) {
	// Idempotency check before anything else.
	if existing, err := models.GetOutboundRecordByHash(ctx, extracted.DocumentHash); err == nil {
		return &ReconcileOutcome{
			Status:     models.PipelineStateAutoApproved,
			Record:     existing,
			Confidence: extracted.OverallConfidence,
			Replayed:   true,
		}, nil
	} else if !errors.Is(err, utils.ErrorRecordNotFound) {
		return nil, err
	}

	switch extracted.State {
	case models.PipelineStatePendingReview:
		reason := models.ReasonValidationFailure
		if extracted.StateReason != nil {
			reason = *extracted.StateReason
		}
		return e.queueForReview(ctx, extracted, reason)
	case models.PipelineStateRejected:
		reason := models.ReasonLowConfidence
		if extracted.StateReason != nil {
			reason = *extracted.StateReason
		}
		// Too broken to present for review: the caller falls back to manual
		// data entry from scratch.
		return &ReconcileOutcome{
			Status:     models.PipelineStateRejected,
			Reason:     reason,
			Confidence: extracted.OverallConfidence,
		}, nil
	case models.PipelineStateAutoApproved:
		// fall through to commit path
	default:
		return nil, fmt.Errorf("cannot reconcile pipeline state %s", extracted.State)
	}

	return e.commitExtracted(ctx, extracted, actorId, nil)
}

// ResolveReview re-enters the commit path with human-corrected data. The
// human approval supersedes the pipeline's confidence gate. First committer
// wins: a concurrent resolution of the same task fails with a concurrency
// conflict.
func (e *Engine) ResolveReview(ctx context.Context, taskId int, corrected *CorrectedShipment, actorId int) (*ReconcileOutcome, error) {
	task, err := models.GetReviewTask(ctx, taskId)
	if err != nil {
		return nil, err
	}
	if task.Status != models.ReviewTaskStatusOpen {
		return nil, models.ErrConcurrencyConflict
	}

	previous, err := models.GetExtractedData(ctx, task.ExtractedDataId)
	if err != nil {
		return nil, err
	}

	// Corrections never edit evidence in place: persist a new version.
	data := corrected.toExtractedData(previous, actorId)
	data, err = models.SaveExtractedData(ctx, data)
	if err != nil {
		return nil, err
	}

	return e.commitExtracted(ctx, data, actorId, task)
}

// CorrectedShipment is the reviewer's replacement for low-confidence data.
type CorrectedShipment struct {
	CustomerName string          `json:"customer_name" binding:"required"`
	ShipmentDate *time.Time      `json:"shipment_date"`
	Items        []CorrectedItem `json:"items" binding:"required,dive"`
}

type CorrectedItem struct {
	Description string          `json:"description" binding:"required"`
	Quantity    decimal.Decimal `json:"quantity" binding:"required"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

func (c *CorrectedShipment) toExtractedData(previous *models.ExtractedShipmentData, actorId int) *models.ExtractedShipmentData {
	data := &models.ExtractedShipmentData{
		DocumentHash:           previous.DocumentHash,
		BlobURL:                previous.BlobURL,
		RawText:                previous.RawText,
		CustomerNameGuess:      c.CustomerName,
		CustomerNameConfidence: 1.0,
		ShipmentDateGuess:      c.ShipmentDate,
		ShipmentDateConfidence: 1.0,
		OverallConfidence:      1.0,
		State:                  models.PipelineStateAutoApproved,
		CreatedBy:              actorId,
	}
	total := decimal.Zero
	for _, item := range c.Items {
		data.Items = append(data.Items, &models.ExtractedItem{
			DescriptionText: item.Description,
			QuantityGuess:   item.Quantity,
			UnitPriceGuess:  item.UnitPrice,
			Confidence:      1.0,
		})
		total = total.Add(item.Quantity.Mul(item.UnitPrice))
	}
	data.TotalAmountGuess = total
	data.TotalAmountConfidence = 1.0
	return data
}

type resolvedLine struct {
	itemId    int
	quantity  decimal.Decimal
	unitPrice decimal.Decimal
}

// commitExtracted runs steps 3-6: resolve entities, reserve, persist the
// record and commit the reservation in one transaction, invalidate caches.
// task is non-nil on the manual-review path and is closed in the same
// transaction (first-committer-wins).
func (e *Engine) commitExtracted(ctx context.Context, extracted *models.ExtractedShipmentData, actorId int, task *models.ReviewTask) (*ReconcileOutcome, error) {
	customerMatch, ok, err := e.matcher.MatchCustomer(ctx, extracted.CustomerNameGuess)
	if err != nil {
		return nil, err
	}
	if !ok {
		return e.queueForReview(ctx, extracted, models.ReasonUnresolvedEntity)
	}

	lines := make([]resolvedLine, 0, len(extracted.Items))
	for _, item := range extracted.Items {
		itemMatch, ok, err := e.matcher.MatchItem(ctx, item.DescriptionText)
		if err != nil {
			return nil, err
		}
		if !ok {
			return e.queueForReview(ctx, extracted, models.ReasonUnresolvedEntity)
		}

		unitPrice := item.UnitPriceGuess
		if unitPrice.LessThanOrEqual(decimal.Zero) {
			inventoryItem, err := models.GetInventoryItem(ctx, itemMatch.EntityId)
			if err != nil {
				return nil, err
			}
			unitPrice = inventoryItem.UnitPrice
		}
		lines = append(lines, resolvedLine{
			itemId:    itemMatch.EntityId,
			quantity:  item.QuantityGuess,
			unitPrice: unitPrice,
		})
	}

	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	if correlationId == "" {
		correlationId = uuid.NewString()
	}

	var record *models.OutboundRecord
	var insufficient *models.InsufficientStockError

	attempt := 0
	for {
		attempt++
		record, insufficient, err = e.commitOnce(ctx, extracted, lines, customerMatch.EntityId, correlationId, actorId, task)
		if err == nil {
			break
		}
		if errors.Is(err, models.ErrConcurrencyConflict) {
			// On the upload path the conflict means an identical document
			// committed first: hand back the winner's record as a replay.
			// A losing review resolution keeps the conflict so the reviewer
			// sees their correction did not win.
			if task == nil {
				if existing, lookupErr := models.GetOutboundRecordByHash(ctx, extracted.DocumentHash); lookupErr == nil {
					return &ReconcileOutcome{
						Status:     models.PipelineStateAutoApproved,
						Record:     existing,
						Confidence: extracted.OverallConfidence,
						Replayed:   true,
					}, nil
				}
			}
			return nil, err
		}
		if !isRetriableTxErr(err) {
			return nil, err
		}
		if attempt >= concurrencyRetries {
			e.logger.WithFields(logrus.Fields{
				"document_hash": extracted.DocumentHash,
				"attempts":      attempt,
			}).Error("[reconcile] ledger contention, giving up")
			return nil, models.ErrBusy
		}
	}

	if insufficient != nil {
		// Never fail the upload outright: a human can adjust quantities or
		// backorder.
		e.logger.WithFields(logrus.Fields{
			"document_hash": extracted.DocumentHash,
			"item_id":       insufficient.ItemId,
		}).Info("[reconcile] insufficient stock, routing to review")
		return e.queueForReview(ctx, extracted, models.ReasonInsufficientStock)
	}

	for _, line := range lines {
		models.InvalidateEntity(ctx, models.EntityTypeInventoryItem, fmt.Sprint(line.itemId))
	}
	models.InvalidateEntity(ctx, models.EntityTypeCustomer, fmt.Sprint(customerMatch.EntityId))

	return &ReconcileOutcome{
		Status:     models.PipelineStateAutoApproved,
		Record:     record,
		Confidence: extracted.OverallConfidence,
	}, nil
}

// commitOnce is one transactional attempt. A non-nil InsufficientStockError
// return means the transaction was rolled back cleanly with no movements.
func (e *Engine) commitOnce(ctx context.Context, extracted *models.ExtractedShipmentData, lines []resolvedLine, customerId int, correlationId string, actorId int, task *models.ReviewTask) (*models.OutboundRecord, *models.InsufficientStockError, error) {
	var record *models.OutboundRecord
	var insufficient *models.InsufficientStockError

	err := config.GetDB().Transaction(func(tx *gorm.DB) error {
		reserveLines := make([]models.ReserveLine, 0, len(lines))
		for _, line := range lines {
			reserveLines = append(reserveLines, models.ReserveLine{ItemId: line.itemId, Quantity: line.quantity})
		}

		reservation, err := e.ledger.Reserve(ctx, tx, reserveLines, correlationId, actorId)
		if err != nil {
			var stockErr *models.InsufficientStockError
			if errors.As(err, &stockErr) {
				// Reserve wrote nothing, so ending the transaction here
				// leaves no movements behind.
				insufficient = stockErr
				return nil
			}
			return err
		}

		shipmentDate := time.Now().UTC()
		if extracted.ShipmentDateGuess != nil {
			shipmentDate = *extracted.ShipmentDateGuess
		}

		newRecord := &models.OutboundRecord{
			DocumentHash:    extracted.DocumentHash,
			CustomerId:      customerId,
			ShipmentDate:    shipmentDate,
			Status:          models.RecordStatusPending,
			ReservationId:   reservation.ID,
			ExtractedDataId: extracted.ID,
			CreatedBy:       actorId,
		}
		total := decimal.Zero
		for _, line := range lines {
			linePrice := line.quantity.Mul(line.unitPrice)
			newRecord.Items = append(newRecord.Items, &models.OutboundItem{
				InventoryItemId: line.itemId,
				Quantity:        line.quantity,
				UnitPrice:       line.unitPrice,
				TotalPrice:      linePrice,
			})
			total = total.Add(linePrice)
		}
		newRecord.TotalAmount = total
		if err := newRecord.ValidateTotals(); err != nil {
			return err
		}

		if err := tx.WithContext(ctx).Create(newRecord).Error; err != nil {
			if isDuplicateKeyErr(err) {
				// Another reconciliation of the same document committed first.
				return models.ErrConcurrencyConflict
			}
			return err
		}

		if err := e.ledger.Commit(ctx, tx, reservation.ID); err != nil {
			return err
		}

		if task != nil {
			if err := models.MarkReviewTaskResolvedTx(ctx, tx, task.ID, actorId); err != nil {
				return err
			}
		}

		record = newRecord
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return record, insufficient, nil
}

func (e *Engine) queueForReview(ctx context.Context, extracted *models.ExtractedShipmentData, reason models.ReviewReason) (*ReconcileOutcome, error) {
	task, err := models.OpenOrCreateReviewTask(ctx, extracted.DocumentHash, extracted.ID, reason)
	if err != nil {
		return nil, err
	}
	return &ReconcileOutcome{
		Status:     models.PipelineStatePendingReview,
		Reason:     reason,
		ReviewTask: task,
		Confidence: extracted.OverallConfidence,
	}, nil
}

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isRetriableTxErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		// 1213 deadlock, 1205 lock wait timeout
		return mysqlErr.Number == 1213 || mysqlErr.Number == 1205
	}
	return strings.Contains(err.Error(), "database is locked")
}
