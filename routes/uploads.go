package routes

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"document-context-platform/internal/config"
	"document-context-platform/internal/pipeline"
	"document-context-platform/internal/store"
	"document-context-platform/internal/telemetry"
	"document-context-platform/middleware"
	"document-context-platform/models"
	"document-context-platform/utils"
)

// HandleUpload accepts a document, creates its record and returns 202 while
// the pipeline runs. Validation and duplicate failures are the only errors
// surfaced here; anything after record creation shows up on the record.
func HandleUpload(cfg *config.Config, orchestrator *pipeline.Orchestrator, metrics *telemetry.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID := middleware.GetOwnerID(c)

		if err := c.Request.ParseMultipartForm(cfg.MaxFileSize); err != nil {
			utils.RespondWithError(c, http.StatusBadRequest, "file_too_large",
				"File size exceeds maximum limit", nil)
			return
		}

		file, header, err := c.Request.FormFile("file")
		if err != nil {
			utils.RespondWithError(c, http.StatusBadRequest, "no_file",
				"No file provided", nil)
			return
		}
		defer file.Close()

		if header.Size > cfg.MaxFileSize {
			utils.RespondWithError(c, http.StatusBadRequest, "file_too_large",
				"File size exceeds maximum limit", nil)
			return
		}

		data, err := io.ReadAll(io.LimitReader(file, cfg.MaxFileSize))
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to read upload", nil)
			return
		}

		contentType := header.Header.Get("Content-Type")
		if contentType != "" && !typeAllowed(cfg.AllowedTypes, contentType) {
			utils.RespondWithError(c, http.StatusBadRequest, "unsupported_type",
				"File type is not supported", gin.H{
					"content_type": contentType,
					"allowed":      cfg.AllowedTypes,
				})
			return
		}
		if contentType == "" {
			// Undeclared type; the extractor decides from content and
			// extension.
			contentType = "application/octet-stream"
		}

		recordID, err := orchestrator.Process(c.Request.Context(), pipeline.UploadInput{
			Data:        data,
			Filename:    header.Filename,
			OwnerID:     ownerID,
			ContentType: contentType,
		})
		if err != nil {
			var verr *pipeline.ValidationError
			var derr *pipeline.DuplicateError
			switch {
			case errors.As(err, &verr):
				utils.RespondWithBadRequest(c, verr.Error(), gin.H{"field": verr.Field})
			case errors.As(err, &derr):
				utils.RespondWithConflict(c, "This file was already uploaded",
					gin.H{"existing_id": derr.ExistingID})
			default:
				utils.RespondWithInternalError(c, "Failed to accept upload", nil)
			}
			return
		}

		if metrics != nil {
			metrics.RecordUploadAccepted(contentType)
		}

		c.JSON(http.StatusAccepted, models.UploadResponse{
			ID:       recordID,
			Filename: header.Filename,
			Status:   models.StatusPending,
			Size:     header.Size,
			Message:  "Upload accepted for processing",
		})
	}
}

func typeAllowed(allowed []string, contentType string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, t := range allowed {
		if strings.EqualFold(strings.TrimSpace(t), contentType) {
			return true
		}
	}
	return false
}

// GetUpload returns the current state of one record.
func GetUpload(recordStore *store.RecordStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID := middleware.GetOwnerID(c)
		rec, err := recordStore.FindByID(c.Request.Context(), ownerID, c.Param("id"))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				utils.RespondWithNotFound(c, "Upload not found")
				return
			}
			utils.RespondWithInternalError(c, "Failed to retrieve upload", nil)
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

// ListUploads returns every record for the owner, newest first.
func ListUploads(recordStore *store.RecordStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID := middleware.GetOwnerID(c)
		recs, err := recordStore.ListByOwner(c.Request.Context(), ownerID)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to list uploads", nil)
			return
		}
		if recs == nil {
			recs = []models.UploadRecord{}
		}
		c.JSON(http.StatusOK, gin.H{"uploads": recs, "count": len(recs)})
	}
}

// DeleteUpload removes a record. The change feed surfaces the deletion to
// connected streams.
func DeleteUpload(recordStore *store.RecordStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID := middleware.GetOwnerID(c)
		err := recordStore.Delete(c.Request.Context(), ownerID, c.Param("id"))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				utils.RespondWithNotFound(c, "Upload not found")
				return
			}
			utils.RespondWithInternalError(c, "Failed to delete upload", nil)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": c.Param("id")})
	}
}
