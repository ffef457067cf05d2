package domain

import (
	"net/http"

	"github.com/pkg/errors"
)

var (
	ErrValidation           = NewErr("VALIDATION_ERROR", "invalid request", http.StatusBadRequest)
	ErrPasteNotFound        = NewErr("PASTE_NOT_FOUND", "paste not found", http.StatusNotFound)
	ErrPasteExpired         = NewErr("PASTE_EXPIRED", "paste expired", http.StatusGone)
	ErrViewLimitReached     = NewErr("VIEW_LIMIT_REACHED", "view limit reached", http.StatusForbidden)
	ErrDownloadLimitReached = NewErr("DOWNLOAD_LIMIT_REACHED", "download limit reached", http.StatusForbidden)
	ErrPasswordRequired     = NewErr("PASSWORD_REQUIRED", "password required", http.StatusUnauthorized)
	ErrInvalidPassword      = NewErr("INVALID_PASSWORD", "invalid password", http.StatusForbidden)
	ErrForbidden            = NewErr("FORBIDDEN", "not allowed to modify this paste", http.StatusForbidden)
	ErrStorage              = NewErr("STORAGE_ERROR", "file storage failure", http.StatusInternalServerError)
	ErrPersistence          = NewErr("PERSISTENCE_ERROR", "metadata storage failure", http.StatusInternalServerError)
	ErrUnknown              = NewErr("UNKNOWN_ERROR", "internal error", http.StatusInternalServerError)
	ErrSlugGenerationFailed = NewErr("SLUG_GENERATION_FAILED", "could not allocate a slug", http.StatusInternalServerError)
	ErrServiceShuttingDown  = NewErr("SHUTTING_DOWN", "service shutting down", http.StatusServiceUnavailable)
)

// Err is a taxonomy error. Msg is safe to show to clients; the optional
// cause is only ever logged.
type Err struct {
	Code   string `json:"code"`
	Msg    string `json:"message"`
	Status int    `json:"-"`
	cause  error
}

func (e *Err) Error() string {
	if e.cause != nil {
		return e.Msg + ": " + e.cause.Error()
	}
	return e.Msg
}
func (e *Err) Unwrap() error { return e.cause }

// Is matches on code so copies produced by With and Withf compare equal
// to the sentinel they came from.
func (e *Err) Is(target error) bool {
	t, ok := target.(*Err)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// With returns a copy of e carrying cause.
func (e *Err) With(cause error) *Err {
	c := *e
	c.cause = cause
	return &c
}

// Withf returns a copy of e with a client-facing message.
func (e *Err) Withf(msg string) *Err {
	c := *e
	c.Msg = msg
	return &c
}

func NewErr(code, msg string, status int) *Err {
	return &Err{Code: code, Msg: msg, Status: status}
}

// Validation is shorthand for a 400 with a specific message.
func Validation(msg string) *Err {
	return ErrValidation.Withf(msg)
}

type ErrResp struct {
	Code string `json:"code"`
	Msg  string `json:"message"`
}

func ToResp(err error) ErrResp {
	if e := find(err); e != nil {
		return ErrResp{Code: e.Code, Msg: e.Msg}
	}
	return ErrResp{Code: ErrUnknown.Code, Msg: ErrUnknown.Msg}
}
func Status(err error) int {
	if e := find(err); e != nil {
		return e.Status
	}
	return http.StatusInternalServerError
}
func find(err error) *Err {
	if err == nil {
		return nil
	}
	var e *Err
	if errors.As(err, &e) {
		return e
	}
	if e, ok := errors.Cause(err).(*Err); ok {
		return e
	}
	return nil
}
