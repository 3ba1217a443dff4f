package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/shipdocs_backend/config"
	"bitbucket.org/mmdatafocus/shipdocs_backend/utils"
	"gorm.io/gorm"
)

// ReviewTask parks an extraction that needs human attention. One open task per
// document: re-reconciling the same hash returns the existing task instead of
// queueing a duplicate.
type ReviewTask struct {
	ID              int              `gorm:"primary_key" json:"id"`
	DocumentHash    string           `gorm:"size:64;not null;index" json:"document_hash"`
	ExtractedDataId int              `gorm:"not null" json:"extracted_data_id"`
	Reason          ReviewReason     `gorm:"size:30;not null" json:"reason"`
	Status          ReviewTaskStatus `gorm:"size:12;not null;index" json:"status"`
	ResolvedBy      *int             `json:"resolved_by"`
	ResolvedAt      *time.Time       `json:"resolved_at"`
	CreatedAt       time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

// OpenOrCreateReviewTask returns the existing open task for the document, or
// creates one. The reason of the first queueing wins.
func OpenOrCreateReviewTask(ctx context.Context, documentHash string, extractedDataId int, reason ReviewReason) (*ReviewTask, error) {
	db := config.GetDB()

	var existing ReviewTask
	err := db.WithContext(ctx).
		Where("document_hash = ? AND status = ?", documentHash, ReviewTaskStatusOpen).
		First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	task := ReviewTask{
		DocumentHash:    documentHash,
		ExtractedDataId: extractedDataId,
		Reason:          reason,
		Status:          ReviewTaskStatusOpen,
	}
	if err := db.WithContext(ctx).Create(&task).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

func GetReviewTask(ctx context.Context, id int) (*ReviewTask, error) {
	db := config.GetDB()
	var task ReviewTask
	if err := db.WithContext(ctx).Where("id = ?", id).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &task, nil
}

func GetOpenReviewTasks(ctx context.Context) ([]*ReviewTask, error) {
	db := config.GetDB()
	var tasks []*ReviewTask
	if err := db.WithContext(ctx).
		Where("status = ?", ReviewTaskStatusOpen).
		Order("created_at").
		Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// DismissReviewTask closes a task without committing a record. The document
// stays rejected; a later re-upload starts a fresh intake.
func DismissReviewTask(ctx context.Context, taskId int, actorId int) (*ReviewTask, error) {
	db := config.GetDB()
	now := time.Now().UTC()
	result := db.WithContext(ctx).Model(&ReviewTask{}).
		Where("id = ? AND status = ?", taskId, ReviewTaskStatusOpen).
		Updates(map[string]interface{}{
			"status":      ReviewTaskStatusDismissed,
			"resolved_by": actorId,
			"resolved_at": &now,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrConcurrencyConflict
	}
	return GetReviewTask(ctx, taskId)
}

// MarkReviewTaskResolvedTx runs inside the resolution transaction so a task
// can only be closed together with the record commit that resolves it.
func MarkReviewTaskResolvedTx(ctx context.Context, tx *gorm.DB, taskId int, actorId int) error {
	now := time.Now().UTC()
	result := tx.WithContext(ctx).Model(&ReviewTask{}).
		Where("id = ? AND status = ?", taskId, ReviewTaskStatusOpen).
		Updates(map[string]interface{}{
			"status":      ReviewTaskStatusResolved,
			"resolved_by": actorId,
			"resolved_at": &now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConcurrencyConflict
	}
	return nil
}
