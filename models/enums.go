package models

// MovementReason classifies a stock movement. Movements are never edited;
// a reversal is a new `release` row with the opposite delta.
type MovementReason string

// Deltas are written at reserve time and commit only flips the reservation
// state, so no "commit" reason exists.
const (
	MovementReasonReserve MovementReason = "reserve"
	MovementReasonRelease MovementReason = "release"
	MovementReasonAdjust  MovementReason = "adjust"
)

type ReservationStatus string

const (
	ReservationStatusHeld      ReservationStatus = "Held"
	ReservationStatusCommitted ReservationStatus = "Committed"
	ReservationStatusReleased  ReservationStatus = "Released"
)

// PipelineState is the extraction state machine of a single upload.
type PipelineState string

const (
	PipelineStateUploaded      PipelineState = "Uploaded"
	PipelineStateTextExtracted PipelineState = "TextExtracted"
	PipelineStateParsed        PipelineState = "Parsed"
	PipelineStateValidated     PipelineState = "Validated"
	PipelineStateAutoApproved  PipelineState = "AutoApproved"
	PipelineStatePendingReview PipelineState = "PendingReview"
	PipelineStateRejected      PipelineState = "Rejected"
)

// ReviewReason explains why a document needs (or failed) human attention.
type ReviewReason string

const (
	ReasonExtractionUnavailable ReviewReason = "ExtractionUnavailable"
	ReasonParseFailure          ReviewReason = "ParseFailure"
	ReasonValidationFailure     ReviewReason = "ValidationFailure"
	ReasonLowConfidence         ReviewReason = "LowConfidence"
	ReasonUnresolvedEntity      ReviewReason = "UnresolvedEntity"
	ReasonInsufficientStock     ReviewReason = "InsufficientStock"
	ReasonTimeout               ReviewReason = "Timeout"
)

type RecordStatus string

const (
	RecordStatusPending   RecordStatus = "Pending"
	RecordStatusShipped   RecordStatus = "Shipped"
	RecordStatusDelivered RecordStatus = "Delivered"
	RecordStatusCancelled RecordStatus = "Cancelled"
)

type ReviewTaskStatus string

const (
	ReviewTaskStatusOpen      ReviewTaskStatus = "Open"
	ReviewTaskStatusResolved  ReviewTaskStatus = "Resolved"
	ReviewTaskStatusDismissed ReviewTaskStatus = "Dismissed"
)

type UserRole string

const (
	UserRoleAdmin    UserRole = "A"
	UserRoleOperator UserRole = "O"
	UserRoleReviewer UserRole = "R"
)

// EntityType keys the cache invalidation coordinator.
type EntityType string

const (
	EntityTypeInventoryItem  EntityType = "InventoryItem"
	EntityTypeCustomer       EntityType = "Customer"
	EntityTypeOutboundRecord EntityType = "OutboundRecord"
	EntityTypeMonthlySummary EntityType = "MonthlySummary"
)
