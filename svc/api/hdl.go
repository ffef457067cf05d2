package api

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"sharebin/cfg"
	"sharebin/pkg/domain"
	"sharebin/svc/svc"
	"sharebin/svc/util"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"
	"github.com/skip2/go-qrcode"
)

const (
	maxJSONBody     = 64 * 1024
	multipartMemory = 8 << 20
	// room for the form fields next to the file
	multipartSlack = 1 << 20
	qrSize         = 256
)

type Hdl struct {
	paste *svc.Paste
	cfg   *cfg.Cfg
}

type RegisterUserReq struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

func (h *Hdl) RegisterUser(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	var req RegisterUserReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("invalid user body")
		writeErr(w, domain.Validation("request body must be JSON with id and email"), requestID)
		return
	}
	u, created, err := h.paste.RegisterUser(r.Context(), domain.User{
		ID:    strings.TrimSpace(req.ID),
		Email: strings.TrimSpace(req.Email),
		Name:  strings.TrimSpace(req.Name),
	})
	if err != nil {
		writeErr(w, err, requestID)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, u)
}

type CreateResp struct {
	URL         string    `json:"url"`
	DownloadURL string    `json:"download_url"`
	Slug        string    `json:"slug"`
	Protected   bool      `json:"protected"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (h *Hdl) CreatePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		writeErr(w, domain.Validation("expected multipart/form-data"), requestID)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadSize+multipartSlack)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErr(w, domain.Validation("file exceeds the upload size limit"), requestID)
			return
		}
		log.Warn().Err(err).Msg("invalid multipart body")
		writeErr(w, domain.Validation("invalid multipart body"), requestID)
		return
	}
	defer r.MultipartForm.RemoveAll()
	params, err := h.createParams(r)
	if err != nil {
		writeErr(w, err, requestID)
		return
	}
	created, err := h.paste.Create(r.Context(), params)
	if err != nil {
		writeErr(w, err, requestID)
		return
	}
	writeJSON(w, http.StatusCreated, CreateResp{
		URL:         h.cfg.ViewBaseURL + "/" + created.Slug,
		DownloadURL: h.cfg.DownloadBaseURL + "/" + created.Slug + "/download",
		Slug:        created.Slug,
		Protected:   created.Protected,
		ExpiresAt:   created.ExpiresAt,
	})
}
func (h *Hdl) createParams(r *http.Request) (domain.CreateParams, error) {
	var params domain.CreateParams
	file, header, err := r.FormFile("file")
	if err != nil {
		return params, domain.Validation("file is required")
	}
	defer file.Close()
	content, err := io.ReadAll(io.LimitReader(file, h.cfg.MaxUploadSize+1))
	if err != nil {
		return params, domain.Validation("could not read file")
	}
	params.Content = content
	params.Filename = header.Filename
	params.MimeType = detectMimeType(header.Header.Get("Content-Type"), content)
	params.OwnerID = strings.TrimSpace(r.FormValue("user_id"))
	params.Password = r.FormValue("password")

	raw := strings.TrimSpace(r.FormValue("expires_in"))
	if raw == "" {
		return params, domain.Validation("expires_in is required")
	}
	params.ExpiresIn, err = strconv.ParseFloat(raw, 64)
	if err != nil {
		return params, domain.Validation("expires_in must be a positive number of minutes")
	}
	if params.MaxViews, err = optionalCap(r.FormValue("max_views")); err != nil {
		return params, domain.Validation("max_views must be a non-negative integer")
	}
	if params.MaxDownloads, err = optionalCap(r.FormValue("max_downloads")); err != nil {
		return params, domain.Validation("max_downloads must be a non-negative integer")
	}
	return params, nil
}
func optionalCap(raw string) (*int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return nil, errors.New("invalid cap")
	}
	return &v, nil
}

// detectMimeType trusts the part header unless it is missing or generic.
func detectMimeType(declared string, content []byte) string {
	if declared != "" && declared != "application/octet-stream" {
		if mt, params, err := mime.ParseMediaType(declared); err == nil {
			return mime.FormatMediaType(mt, params)
		}
	}
	return http.DetectContentType(content)
}
func password(r *http.Request) string {
	if pw := r.Header.Get("X-Paste-Password"); pw != "" {
		return pw
	}
	return r.URL.Query().Get("password")
}
func (h *Hdl) ViewPaste(w http.ResponseWriter, r *http.Request) {
	h.serveContent(w, r, domain.AccessView)
}
func (h *Hdl) DownloadPaste(w http.ResponseWriter, r *http.Request) {
	h.serveContent(w, r, domain.AccessDownload)
}
func (h *Hdl) serveContent(w http.ResponseWriter, r *http.Request, kind domain.AccessKind) {
	requestID := util.GetRequestID(r.Context())
	slug := chi.URLParam(r, "slug")
	c, err := h.paste.Access(r.Context(), slug, kind, password(r))
	if err != nil {
		if errors.Is(err, domain.ErrInvalidPassword) {
			hlog.FromRequest(r).Warn().
				Str("slug", slug).
				Str("client_ip", util.RedactIP(r.RemoteAddr)).
				Msg("failed password attempt")
		}
		writeErr(w, err, requestID)
		return
	}
	disposition := "inline"
	if kind == domain.AccessDownload {
		disposition = "attachment"
	}
	w.Header().Set("Content-Type", c.Paste.MimeType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": c.Paste.Filename}))
	w.Header().Set("Content-Length", strconv.Itoa(len(c.Data)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(c.Data)
}

type PreviewResp struct {
	Slug          string     `json:"slug"`
	Filename      string     `json:"filename"`
	MimeType      string     `json:"mime_type"`
	Size          int64      `json:"size"`
	Protected     bool       `json:"protected"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ViewCount     int64      `json:"view_count"`
	DownloadCount int64      `json:"download_count"`
	MaxViews      *int64     `json:"max_views,omitempty"`
	MaxDownloads  *int64     `json:"max_downloads,omitempty"`
	Content       []byte     `json:"content,omitempty"`
}

func (h *Hdl) PreviewPaste(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	c, err := h.paste.Access(r.Context(), chi.URLParam(r, "slug"), domain.AccessPreview, password(r))
	if err != nil {
		writeErr(w, err, requestID)
		return
	}
	p := c.Paste
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, PreviewResp{
		Slug:          p.Slug,
		Filename:      p.Filename,
		MimeType:      p.MimeType,
		Size:          p.Size,
		Protected:     p.Protected(),
		ExpiresAt:     p.ExpiresAt,
		CreatedAt:     p.CreatedAt,
		ViewCount:     p.ViewCount,
		DownloadCount: p.DownloadCount,
		MaxViews:      p.MaxViews,
		MaxDownloads:  p.MaxDownloads,
		Content:       c.Data,
	})
}
func (h *Hdl) PasteQR(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	p, err := h.paste.Inspect(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeErr(w, err, requestID)
		return
	}
	png, err := qrcode.Encode(h.cfg.ViewBaseURL+"/"+p.Slug, qrcode.Medium, qrSize)
	if err != nil {
		writeErr(w, domain.ErrUnknown.With(err), requestID)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}
func (h *Hdl) ListPastes(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	list, err := h.paste.ListForOwner(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		writeErr(w, err, requestID)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
func (h *Hdl) DeletePaste(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	slug := chi.URLParam(r, "slug")
	requester := r.Header.Get("X-User-ID")
	if requester == "" {
		requester = r.URL.Query().Get("user_id")
	}
	if err := h.paste.Delete(r.Context(), slug, requester); err != nil {
		writeErr(w, err, requestID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "paste deleted"})
}
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		util.Warn().Err(err).Msg("failed to write response")
	}
}

// writeErr renders every failure as {message, code, request_id}. Server
// errors hide their detail from the client and log it instead.
func writeErr(w http.ResponseWriter, err error, requestID string) {
	statusCode := domain.Status(err)
	resp := domain.ToResp(err)
	if statusCode >= 500 {
		util.Error().
			Err(err).
			Str("request_id", requestID).
			Str("code", resp.Code).
			Msg("request failed")
	}
	w.Header().Del("Content-Disposition")
	writeJSON(w, statusCode, map[string]string{
		"message":    resp.Msg,
		"code":       resp.Code,
		"request_id": requestID,
	})
}
