package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/guide-on-the-side/internal/slides"
	"github.com/MarcoPoloResearchLab/guide-on-the-side/internal/tutorials"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxTutorialBodyBytes = 8 << 20

var errInvalidRequest = errors.New("invalid_request")

type createTutorialPayload struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (h *httpHandler) handleListTutorials(c *gin.Context) {
	filter, err := parseListFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	items, err := h.tutorials.List(c.Request.Context(), filter)
	if err != nil {
		h.respondServiceError(c, err, "list_failed")
		return
	}
	c.JSON(http.StatusOK, items)
}

func (h *httpHandler) handleCreateTutorial(c *gin.Context) {
	var request createTutorialPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidRequest.Error()})
		return
	}
	created, err := h.tutorials.Create(c.Request.Context(), tutorials.CreateRequest{
		Title:       request.Title,
		Description: request.Description,
	})
	if err != nil {
		h.respondServiceError(c, err, "create_failed")
		return
	}
	h.logger.Info("tutorial created",
		zap.String("tutorial_id", created.TutorialID),
		zap.String("author", c.GetString(authorSubjectContextKey)))
	writeTutorial(c, http.StatusCreated, created)
}

func (h *httpHandler) handleGetTutorial(c *gin.Context) {
	tutorial, err := h.tutorials.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondServiceError(c, err, "get_failed")
		return
	}
	writeTutorial(c, http.StatusOK, tutorial)
}

// handleGetPublicTutorial serves student playback. Preview is honoured only
// for requests carrying a valid author session.
func (h *httpHandler) handleGetPublicTutorial(c *gin.Context) {
	preview := false
	if isTruthy(c.Query("preview")) {
		if _, err := h.authenticate(c); err == nil {
			preview = true
		}
	}
	tutorial, err := h.tutorials.GetPublic(c.Request.Context(), c.Param("id"), preview)
	if err != nil {
		h.respondServiceError(c, err, "get_failed")
		return
	}
	writeTutorial(c, http.StatusOK, tutorial)
}

func (h *httpHandler) handleUpdateTutorial(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxTutorialBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request_too_large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidRequest.Error()})
		return
	}
	request, err := decodeUpdatePayload(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	expected, err := parseIfMatch(c.GetHeader("If-Match"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_if_match"})
		return
	}
	request.ExpectedVersion = expected

	updated, err := h.tutorials.Update(c.Request.Context(), c.Param("id"), request)
	if err != nil {
		h.respondServiceError(c, err, "update_failed")
		return
	}

	h.realtime.Publish(RealtimeMessage{
		TutorialID: updated.TutorialID,
		EventType:  RealtimeEventTutorialChanged,
		Version:    updated.Version,
		Timestamp:  time.Now().UTC(),
	})
	writeTutorial(c, http.StatusOK, updated)
}

func (h *httpHandler) handleDeleteTutorial(c *gin.Context) {
	deletedID, err := h.tutorials.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondServiceError(c, err, "delete_failed")
		return
	}
	h.logger.Info("tutorial deleted",
		zap.String("tutorial_id", deletedID),
		zap.String("author", c.GetString(authorSubjectContextKey)))
	h.realtime.Publish(RealtimeMessage{
		TutorialID: deletedID,
		EventType:  RealtimeEventTutorialDeleted,
		Timestamp:  time.Now().UTC(),
	})
	c.JSON(http.StatusOK, gin.H{"success": true, "tutorialId": deletedID})
}

func writeTutorial(c *gin.Context, status int, tutorial tutorials.Tutorial) {
	c.Header("ETag", strconv.Quote(strconv.FormatInt(tutorial.Version, 10)))
	c.JSON(status, tutorial)
}

// decodeUpdatePayload reads the partial update body. Fields are applied only
// when present; slides and deleteSlideIds of the wrong shape are ignored.
func decodeUpdatePayload(body []byte) (tutorials.UpdateRequest, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		return tutorials.UpdateRequest{}, errInvalidRequest
	}

	var request tutorials.UpdateRequest
	if raw, ok := fields["title"]; ok && !isJSONNull(raw) {
		var title string
		if err := json.Unmarshal(raw, &title); err != nil {
			return tutorials.UpdateRequest{}, fmt.Errorf("%w: title", errInvalidRequest)
		}
		request.Title = &title
	}
	if raw, ok := fields["description"]; ok {
		description := ""
		if !isJSONNull(raw) {
			if err := json.Unmarshal(raw, &description); err != nil {
				return tutorials.UpdateRequest{}, fmt.Errorf("%w: description", errInvalidRequest)
			}
		}
		request.Description = &description
	}
	if raw, ok := fields["status"]; ok && !isJSONNull(raw) {
		var status string
		if err := json.Unmarshal(raw, &status); err != nil {
			return tutorials.UpdateRequest{}, fmt.Errorf("%w: status", errInvalidRequest)
		}
		request.Status = &status
	}
	if raw, ok := fields["archived"]; ok && !isJSONNull(raw) {
		var archived bool
		if err := json.Unmarshal(raw, &archived); err != nil {
			return tutorials.UpdateRequest{}, fmt.Errorf("%w: archived", errInvalidRequest)
		}
		request.Archived = &archived
	}
	if raw, ok := fields["slides"]; ok {
		if incoming, isList := slides.DecodePartialSlides(raw); isList {
			request.Slides = incoming
			request.SlidesPresent = true
		}
	}
	if raw, ok := fields["deleteSlideIds"]; ok {
		if ids, isList := decodeSlideIDs(raw); isList {
			request.DeleteSlideIDs = ids
			request.DeletePresent = true
		}
	}
	return request, nil
}

func decodeSlideIDs(raw json.RawMessage) ([]string, bool) {
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil || entries == nil {
		return nil, false
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		var id string
		if err := json.Unmarshal(entry, &id); err != nil {
			continue
		}
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			ids = append(ids, trimmed)
		}
	}
	return ids, true
}

func parseListFilter(c *gin.Context) (tutorials.ListFilter, error) {
	var filter tutorials.ListFilter
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status, err := tutorials.ParseStatus(raw)
		if err != nil {
			return tutorials.ListFilter{}, errors.New("invalid_status")
		}
		filter.Status = &status
	}
	if raw := strings.TrimSpace(c.Query("archived")); raw != "" {
		archived, err := strconv.ParseBool(raw)
		if err != nil {
			return tutorials.ListFilter{}, errors.New("invalid_archived")
		}
		filter.Archived = &archived
	}
	return filter, nil
}

func parseIfMatch(header string) (*int64, error) {
	value := strings.TrimSpace(header)
	if value == "" || value == "*" {
		return nil, nil
	}
	value = strings.TrimPrefix(value, "W/")
	if unquoted, err := strconv.Unquote(value); err == nil {
		value = unquoted
	}
	version, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return nil, err
	}
	return &version, nil
}

func isJSONNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func isTruthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}
