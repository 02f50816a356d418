package picture

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/staffhub/service/internal/imaging"
	"github.com/staffhub/service/internal/middleware"
	"github.com/staffhub/service/internal/response"
)

const (
	// FormField is the multipart field carrying the picture.
	FormField = "picture"

	// multipartOverhead is headroom for boundaries and part headers on top
	// of the file size limit.
	multipartOverhead = 1 << 20

	// multipartMemory is kept in memory; larger parts spill to temp files.
	multipartMemory = 8 << 20

	cacheControl = "public, max-age=86400, immutable"
)

// Handler holds the profile picture HTTP handlers.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandler creates a picture Handler.
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Upload godoc
//
//	@Summary		Upload profile picture
//	@Description	Replaces the current user's profile picture. Accepts JPEG, PNG, GIF or WebP up to 5 MiB and 50..5000 px per side; stores a 300x300 JPEG and a 100x100 thumbnail.
//	@Tags			users
//	@Accept			multipart/form-data
//	@Produce		json
//	@Security		BearerAuth
//	@Param			picture	formData	file	true	"Image file"
//	@Success		201		{object}	response.Envelope{data=UploadResult}
//	@Failure		400		{object}	response.Envelope
//	@Failure		401		{object}	response.Envelope
//	@Failure		409		{object}	response.Envelope
//	@Failure		413		{object}	response.Envelope
//	@Failure		422		{object}	response.Envelope
//	@Failure		429		{object}	response.Envelope
//	@Failure		503		{object}	response.Envelope
//	@Router			/users/me/profile-picture [post]
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	maxBytes := h.svc.MaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		h.writeMultipartError(w, r, err, maxBytes)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	files := 0
	for _, headers := range r.MultipartForm.File {
		files += len(headers)
	}
	headers := r.MultipartForm.File[FormField]
	switch {
	case len(headers) == 0:
		response.ErrorWithCode(w, http.StatusBadRequest, response.CodeMissingFile, "a file is required in the \""+FormField+"\" field")
		return
	case files > 1:
		response.ErrorWithCode(w, http.StatusBadRequest, response.CodeTooManyFiles, "exactly one file may be uploaded")
		return
	}

	header := headers[0]
	if header.Size > maxBytes {
		response.ErrorWithCode(w, http.StatusRequestEntityTooLarge, response.CodeFileTooLarge,
			"file exceeds the "+imaging.HumanBytes(maxBytes)+" size limit")
		return
	}
	file, err := header.Open()
	if err != nil {
		response.ErrorWithCode(w, http.StatusBadRequest, response.CodeUploadIncomplete, "upload could not be read")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		response.ErrorWithCode(w, http.StatusBadRequest, response.CodeUploadIncomplete, "upload could not be read")
		return
	}

	res, err := h.svc.Upload(r.Context(), UploadRequest{
		OwnerID:     userID,
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	response.Created(w, res)
}

// Remove godoc
//
//	@Summary		Remove profile picture
//	@Description	Clears the current user's profile picture and deletes its files.
//	@Tags			users
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	response.Envelope
//	@Failure		401	{object}	response.Envelope
//	@Failure		404	{object}	response.Envelope
//	@Failure		409	{object}	response.Envelope
//	@Router			/users/me/profile-picture [delete]
func (h *Handler) Remove(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}
	if err := h.svc.Remove(r.Context(), userID); err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, map[string]any{"profilePicture": nil})
}

// Serve godoc
//
//	@Summary		Get stored file
//	@Description	Streams a stored profile picture or thumbnail.
//	@Tags			files
//	@Produce		image/jpeg
//	@Param			path	path	string	true	"Relative storage path"
//	@Success		200
//	@Success		304
//	@Failure		404	{object}	response.Envelope
//	@Router			/files/{path} [get]
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Resolve(r.Context(), chi.URLParam(r, "*"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer res.Body.Close()

	modified := res.LastModified.UTC().Truncate(time.Second)
	hdr := w.Header()
	hdr.Set("Cache-Control", cacheControl)
	hdr.Set("Last-Modified", modified.Format(http.TimeFormat))
	hdr.Set("X-Content-Type-Options", "nosniff")

	if since, err := http.ParseTime(r.Header.Get("If-Modified-Since")); err == nil && !modified.After(since) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	hdr.Set("Content-Type", res.ContentType)
	hdr.Set("Content-Length", strconv.FormatInt(res.Size, 10))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, res.Body); err != nil {
		h.logger.WarnContext(r.Context(), "serve file interrupted", "err", err)
	}
}

func (h *Handler) writeMultipartError(w http.ResponseWriter, r *http.Request, err error, maxBytes int64) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) || r.ContentLength > maxBytes+multipartOverhead {
		response.ErrorWithCode(w, http.StatusRequestEntityTooLarge, response.CodeFileTooLarge,
			"file exceeds the "+imaging.HumanBytes(maxBytes)+" size limit")
		return
	}
	if errors.Is(err, http.ErrNotMultipart) || errors.Is(err, http.ErrMissingBoundary) {
		response.BadRequest(w, "request must be multipart/form-data")
		return
	}
	response.ErrorWithCode(w, http.StatusBadRequest, response.CodeUploadIncomplete, "upload was interrupted or malformed")
}

// writeError maps a pipeline error to its HTTP status. Only the classified
// message reaches the client; causes are logged.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var pe *Error
	if !errors.As(err, &pe) {
		h.logger.ErrorContext(r.Context(), "unclassified picture error", "err", err)
		response.InternalError(w)
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(pe.Kind, ErrInvalidInput):
		status = http.StatusBadRequest
		if pe.Code == response.CodeFileTooLarge {
			status = http.StatusRequestEntityTooLarge
		}
	case errors.Is(pe.Kind, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(pe.Kind, ErrStorageUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(pe.Kind, ErrProcessingFailed):
		status = http.StatusUnprocessableEntity
	case errors.Is(pe.Kind, ErrLinkFailed):
		if pe.Code == response.CodeStaleReference {
			status = http.StatusConflict
		}
	}
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "picture request failed", "code", pe.Code, "err", pe.Err)
	}
	response.ErrorWithCode(w, status, pe.Code, pe.Message)
}
