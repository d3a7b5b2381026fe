package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/guide-on-the-side/internal/uploads"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const uploadFormField = "file"

func (h *httpHandler) handleUpload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, uploads.MaxVideoSize+(1<<20))

	header, err := c.FormFile(uploadFormField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.respondServiceError(c, uploads.ErrFileTooLarge, "upload_failed")
			return
		}
		h.respondServiceError(c, uploads.ErrMissingFile, "upload_failed")
		return
	}

	file, err := header.Open()
	if err != nil {
		h.respondServiceError(c, err, "upload_failed")
		return
	}
	defer file.Close()

	stored, err := h.uploads.Save(c.Request.Context(), uploads.Upload{
		OriginalName: header.Filename,
		MimeType:     header.Header.Get("Content-Type"),
		Size:         header.Size,
		Content:      file,
	})
	if err != nil {
		h.respondServiceError(c, err, "upload_failed")
		return
	}

	h.logger.Info("upload accepted",
		zap.String("filename", stored.Filename),
		zap.String("author", c.GetString(authorSubjectContextKey)))
	c.JSON(http.StatusCreated, gin.H{"success": true, "file": stored})
}
