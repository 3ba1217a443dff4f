package main

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/shipdocs_backend/config"
	"bitbucket.org/mmdatafocus/shipdocs_backend/models"
	"bitbucket.org/mmdatafocus/shipdocs_backend/utils"
	"bitbucket.org/mmdatafocus/shipdocs_backend/workflow"
	"github.com/bsm/redislock"
	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const maxUploadSizeBytes int64 = 10 * 1024 * 1024

var documentMimeTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/webp":      true,
	"application/pdf": true,
}

type uploadResponse struct {
	DocumentHash string                     `json:"document_hash"`
	BlobURL      string                     `json:"blob_url"`
	ThumbnailURL string                     `json:"thumbnail_url,omitempty"`
	Outcome      *workflow.ReconcileOutcome `json:"outcome"`
}

// documentUploadHandler is the single entry point of the intake pipeline:
// hash, store, extract, reconcile. It always answers with a definite outcome
// for the document, never a partial state.
func documentUploadHandler(pipeline *workflow.Pipeline, engine *workflow.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()
		if pipeline == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "extraction provider not configured"})
			return
		}

		ctx, span := tracer.Start(c.Request.Context(), "document.intake")
		defer span.End()

		actorId, ok := utils.GetActorIdFromContext(ctx)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		fileHeader, err := c.FormFile("document")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "document file is required"})
			return
		}
		if fileHeader.Size <= 0 || fileHeader.Size > maxUploadSizeBytes {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file size exceeds 10MB limit"})
			return
		}

		mimeType := fileHeader.Header.Get("Content-Type")
		if !documentMimeTypes[mimeType] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported file type"})
			return
		}

		file, err := fileHeader.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		defer file.Close()

		data, err := io.ReadAll(io.LimitReader(file, maxUploadSizeBytes+1))
		if err != nil {
			config.LogError(logger, "uploads.go", "documentUploadHandler", "read multipart file", fileHeader.Filename, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if int64(len(data)) > maxUploadSizeBytes {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file size exceeds 10MB limit"})
			return
		}

		sum := sha256.Sum256(data)
		documentHash := hex.EncodeToString(sum[:])
		ctx = utils.SetDocumentHashInContext(ctx, documentHash)

		// Fast replay path: the blob and record already exist, skip the
		// extraction entirely.
		if existing, err := models.GetOutboundRecordByHash(ctx, documentHash); err == nil {
			latest, _ := models.LatestExtractedData(ctx, documentHash)
			resp := uploadResponse{
				DocumentHash: documentHash,
				Outcome: &workflow.ReconcileOutcome{
					Status:   models.PipelineStateAutoApproved,
					Record:   existing,
					Replayed: true,
				},
			}
			if latest != nil {
				resp.BlobURL = latest.BlobURL
				resp.Outcome.Confidence = latest.OverallConfidence
			}
			c.JSON(http.StatusOK, gin.H{"data": resp})
			return
		} else if !errors.Is(err, utils.ErrorRecordNotFound) {
			config.LogError(logger, "uploads.go", "documentUploadHandler", "replay lookup", documentHash, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		// Per-document lock so two concurrent uploads of the same file don't
		// both run the extraction. The loser is told to retry; by then the
		// replay path above will answer.
		var lock *redislock.Lock
		if locker := config.GetRedisLock(); locker != nil {
			lockTTL := config.GetPipelineConfig().DocumentTimeout + 10*time.Second
			lock, err = locker.Obtain(ctx, "lock:document:"+documentHash, lockTTL, nil)
			if err == redislock.ErrNotObtained {
				c.JSON(http.StatusConflict, gin.H{"error": "document is already being processed"})
				return
			} else if err != nil {
				logger.WithFields(logrus.Fields{
					"document_hash": documentHash,
				}).Warn("error obtaining redis lock; proceeding without redis lock: " + err.Error())
				lock = nil
			}
		}
		defer func() {
			if lock == nil {
				return
			}
			if releaseErr := lock.Release(ctx); releaseErr != nil {
				logger.WithFields(logrus.Fields{
					"document_hash": documentHash,
				}).Warn("failed to release redis lock: " + releaseErr.Error())
			}
		}()

		// Store the original before any extraction so evidence survives a
		// crash mid pipeline.
		objectKey := path.Join("documents", documentHash+extensionFor(mimeType))
		if err := utils.UploadBytesToGCS(ctx, objectKey, data, mimeType); err != nil {
			config.LogError(logger, "uploads.go", "documentUploadHandler", "store blob", objectKey, err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "document storage unavailable"})
			return
		}
		blobURL := utils.BuildObjectAccessURL(objectKey)

		thumbnailURL := ""
		if strings.HasPrefix(mimeType, "image/") {
			if key, err := storeThumbnail(c, objectKey, data); err != nil {
				logger.WithFields(logrus.Fields{
					"document_hash": documentHash,
				}).Warn("thumbnail generation failed: " + err.Error())
			} else {
				thumbnailURL = utils.BuildObjectAccessURL(key)
			}
		}

		extracted, err := pipeline.Process(ctx, documentHash, blobURL, data, mimeType, actorId)
		if err != nil {
			config.LogError(logger, "uploads.go", "documentUploadHandler", "pipeline", documentHash, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		outcome, err := engine.Reconcile(ctx, extracted, actorId)
		if err != nil {
			status, msg := reconcileErrorStatus(err)
			c.JSON(status, gin.H{"error": msg})
			return
		}

		logger.WithFields(logrus.Fields{
			"document_hash": documentHash,
			"status":        outcome.Status,
			"confidence":    outcome.Confidence,
			"replayed":      outcome.Replayed,
		}).Info("[document.intake]")

		c.JSON(http.StatusOK, gin.H{"data": uploadResponse{
			DocumentHash: documentHash,
			BlobURL:      blobURL,
			ThumbnailURL: thumbnailURL,
			Outcome:      outcome,
		}})
	}
}

// documentFetchHandler serves the stored original back to reviewers so a
// review task can be judged against the actual document.
func documentFetchHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		documentHash := c.Param("hash")

		latest, err := models.LatestExtractedData(ctx, documentHash)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
				return
			}
			config.LogError(config.GetLogger(), "uploads.go", "documentFetchHandler", "lookup", documentHash, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		ext := path.Ext(latest.BlobURL)
		objectKey := path.Join("documents", documentHash+ext)
		data, err := utils.ReadBytesFromGCS(ctx, objectKey, maxUploadSizeBytes)
		if err != nil {
			config.LogError(config.GetLogger(), "uploads.go", "documentFetchHandler", "read blob", objectKey, err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "document storage unavailable"})
			return
		}
		c.Data(http.StatusOK, contentTypeFor(ext), data)
	}
}

// storeThumbnail writes a 256px preview next to the original.
func storeThumbnail(c *gin.Context, objectKey string, data []byte) (string, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	thumb := imaging.Thumbnail(img, 256, 256, imaging.CatmullRom)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(80)); err != nil {
		return "", err
	}

	ext := path.Ext(objectKey)
	thumbKey := strings.TrimSuffix(objectKey, ext) + "_thumb.jpg"
	if err := utils.UploadBytesToGCS(c.Request.Context(), thumbKey, buf.Bytes(), "image/jpeg"); err != nil {
		return "", err
	}
	return thumbKey, nil
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "application/pdf":
		return ".pdf"
	default:
		return ""
	}
}

func contentTypeFor(ext string) string {
	switch ext {
	case ".jpg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

func reconcileErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrConcurrencyConflict):
		return http.StatusConflict, "document was committed by a concurrent request"
	case errors.Is(err, models.ErrBusy):
		return http.StatusServiceUnavailable, "ledger busy, retry later"
	case errors.Is(err, utils.ErrorRecordNotFound):
		return http.StatusNotFound, "record not found"
	default:
		return http.StatusInternalServerError, fmt.Sprintf("reconciliation failed: %v", err)
	}
}
