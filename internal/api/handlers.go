package api

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/heic-converter/backend/internal/convert"
	"github.com/heic-converter/backend/internal/models"
	"github.com/heic-converter/backend/internal/session"
	"github.com/heic-converter/backend/internal/storage"
)

// HistoryReader lists past conversions. Satisfied by *history.Store.
type HistoryReader interface {
	Recent(limit int) ([]models.ConversionRecord, error)
}

// Handler handles API requests.
type Handler struct {
	store       storage.Store
	session     *session.Manager
	history     HistoryReader // nil when history is disabled
	maxUpload   int64
	allowedExts []string
}

// NewHandler creates a new API handler.
func NewHandler(store storage.Store, sessionMgr *session.Manager, history HistoryReader, maxUpload int64, allowedExts []string) *Handler {
	if maxUpload <= 0 {
		maxUpload = 16 * 1024 * 1024
	}
	if len(allowedExts) == 0 {
		allowedExts = []string{".heic", ".heif", ".jpg", ".jpeg", ".png", ".webp", ".bmp", ".tiff", ".tif", ".gif"}
	}
	return &Handler{
		store:       store,
		session:     sessionMgr,
		history:     history,
		maxUpload:   maxUpload,
		allowedExts: allowedExts,
	}
}

// HandleHealth returns server health status.
func (h *Handler) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// HandleUpload accepts a multipart image upload and opens a conversion session.
func (h *Handler) HandleUpload(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return NewBadRequestError("No file provided", err)
	}

	filename := sanitizeFilename(fileHeader.Filename)
	if filename == "" {
		return NewBadRequestError("No file selected", nil)
	}

	if !h.extensionAllowed(filename) {
		return NewBadRequestError(
			fmt.Sprintf("Invalid file type. Supported extensions: %s", strings.Join(h.allowedExts, ", ")), nil)
	}

	if fileHeader.Size > h.maxUpload {
		return NewBadRequestError(
			fmt.Sprintf("File too large. Maximum size is %dMB.", h.maxUpload/(1024*1024)), nil)
	}

	src, err := fileHeader.Open()
	if err != nil {
		return NewBadRequestError("failed to read uploaded file", err)
	}
	defer src.Close()

	info, err := h.store.Save(filename, src)
	if err != nil {
		return NewInternalError("failed to save file", err)
	}

	path, err := h.store.GetFilePath(info.ID)
	if err != nil {
		return NewInternalError("failed to locate saved file", err)
	}

	sess := h.session.Create(info, path)

	return c.JSON(http.StatusOK, map[string]interface{}{
		"session_id": sess.ID,
		"filename":   filename,
		"status":     sess.Status,
	})
}

// convertRequest is the JSON body for POST /convert.
type convertRequest struct {
	SessionID    string `json:"session_id"`
	OutputFormat string `json:"output_format"`
	Quality      int    `json:"quality"`
	StripEXIF    bool   `json:"strip_exif"`
}

// HandleConvert starts converting an uploaded file in the background.
func (h *Handler) HandleConvert(c echo.Context) error {
	var req convertRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}

	if req.SessionID == "" {
		return NewBadRequestError("session_id is required", nil)
	}

	sess, ok := h.session.StartConvert(req.SessionID, session.ConvertRequest{
		OutputFormat: req.OutputFormat,
		Quality:      req.Quality,
		StripEXIF:    req.StripEXIF,
	})
	if !ok {
		return NewBadRequestError("Invalid session ID", nil)
	}

	return c.JSON(http.StatusAccepted, sess)
}

// HandleStatus reports conversion status for a session.
func (h *Handler) HandleStatus(c echo.Context) error {
	id := c.Param("sessionId")
	sess, ok := h.session.Get(id)
	if !ok {
		return NewBadRequestError("Invalid session ID", nil)
	}
	// Touch session to prevent cleanup while being polled
	h.session.Touch(id)
	return c.JSON(http.StatusOK, sess)
}

// HandleDownload returns the converted file as an attachment.
func (h *Handler) HandleDownload(c echo.Context) error {
	id := c.Param("sessionId")
	if _, ok := h.session.Get(id); !ok {
		return NewBadRequestError("Invalid session ID", nil)
	}

	data, sess, ok := h.session.Result(id)
	if !ok {
		return NewBadRequestError("File not ready for download", nil)
	}

	h.session.Touch(id)

	base := strings.TrimSuffix(sess.Filename, filepath.Ext(sess.Filename))
	filename := fmt.Sprintf("%s.%s", base, convert.OutputExt(sess.OutputFormat))

	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, filename))
	return c.Blob(http.StatusOK, convert.MIMEType(sess.OutputFormat), data)
}

// HandleClear deletes session files and record. Idempotent.
func (h *Handler) HandleClear(c echo.Context) error {
	id := c.Param("sessionId")
	h.session.Clear(id)
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

// HandleMeta returns source image metadata for a completed session.
func (h *Handler) HandleMeta(c echo.Context) error {
	id := c.Param("sessionId")
	meta, ok := h.session.Meta(id)
	if !ok {
		return NewBadRequestError("Invalid session ID or conversion not complete", nil)
	}
	h.session.Touch(id)
	return c.JSON(http.StatusOK, meta)
}

// HandleMetaMsgpack returns the same metadata msgpack-encoded for clients
// that prefer the compact representation.
func (h *Handler) HandleMetaMsgpack(c echo.Context) error {
	id := c.Param("sessionId")
	meta, ok := h.session.Meta(id)
	if !ok {
		return NewBadRequestError("Invalid session ID or conversion not complete", nil)
	}
	h.session.Touch(id)

	data, err := msgpack.Marshal(meta)
	if err != nil {
		return NewInternalError("failed to encode metadata", err)
	}
	return c.Blob(http.StatusOK, "application/x-msgpack", data)
}

// HandleHistory lists recent conversions.
func (h *Handler) HandleHistory(c echo.Context) error {
	if h.history == nil {
		return c.JSON(http.StatusOK, []models.ConversionRecord{})
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	records, err := h.history.Recent(limit)
	if err != nil {
		return NewInternalError("failed to list history", err)
	}
	return c.JSON(http.StatusOK, records)
}

// extensionAllowed checks the upload allow-list.
func (h *Handler) extensionAllowed(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, allowed := range h.allowedExts {
		if ext == allowed {
			return true
		}
	}
	return false
}

// sanitizeFilename strips path components and unsafe characters from an
// uploaded filename.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" {
		return ""
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "._")
}
