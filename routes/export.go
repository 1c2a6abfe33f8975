package routes

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"

	"document-context-platform/internal/store"
	"document-context-platform/middleware"
	"document-context-platform/utils"
)

const exportSheet = "Uploads"

// ExportUploads writes the owner's upload records as an XLSX report.
func ExportUploads(recordStore *store.RecordStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID := middleware.GetOwnerID(c)
		recs, err := recordStore.ListByOwner(c.Request.Context(), ownerID)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to list uploads", nil)
			return
		}

		f := excelize.NewFile()
		defer f.Close()

		if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
			utils.RespondWithInternalError(c, "Failed to build export", nil)
			return
		}

		headers := []interface{}{"ID", "Filename", "Type", "Size", "Status", "Stage", "Progress", "Error", "Uploaded", "Updated"}
		if err := f.SetSheetRow(exportSheet, "A1", &headers); err != nil {
			utils.RespondWithInternalError(c, "Failed to build export", nil)
			return
		}

		for i, rec := range recs {
			row := []interface{}{
				rec.ID,
				rec.Filename,
				rec.ContentType,
				rec.Size,
				rec.Status,
				rec.Stage,
				rec.Progress,
				rec.ErrorMessage,
				rec.UploadedAt.Format(time.RFC3339),
				rec.UpdatedAt.Format(time.RFC3339),
			}
			cell := fmt.Sprintf("A%d", i+2)
			if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
				utils.RespondWithInternalError(c, "Failed to build export", nil)
				return
			}
		}

		filename := fmt.Sprintf("uploads-%s.xlsx", time.Now().UTC().Format("2006-01-02"))
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, filename))
		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Status(http.StatusOK)

		if err := f.Write(c.Writer); err != nil {
			// Headers already sent; nothing useful left to respond with.
			return
		}
	}
}
