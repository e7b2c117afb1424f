// Package huberr holds the error taxonomy shared by all hub components.
// Every error returned to a caller either wraps one of the registered roots or is treated as unexpected.
package huberr

import (
	"errors"
	"fmt"
	"net/http"

	"storj.io/drpc/drpcerr"
)

var (
	ErrUnexpected           = RegisterErr(errors.New("unexpected"), 1, http.StatusInternalServerError)
	ErrValidation           = RegisterErr(errors.New("validation error"), 2, http.StatusBadRequest)
	ErrForbidden            = RegisterErr(errors.New("forbidden"), 3, http.StatusForbidden)
	ErrQuotaExceeded        = RegisterErr(errors.New("quota exceeded"), 4, http.StatusForbidden)
	ErrNotFound             = RegisterErr(errors.New("not found"), 5, http.StatusNotFound)
	ErrMethodNotAllowed     = RegisterErr(errors.New("method not allowed"), 6, http.StatusMethodNotAllowed)
	ErrConflict             = RegisterErr(errors.New("conflict"), 7, http.StatusConflict)
	ErrPreconditionRequired = RegisterErr(errors.New("precondition required"), 8, http.StatusPreconditionRequired)
)

var (
	errsMap   = make(map[uint64]error)
	statusMap = make(map[uint64]int)
)

// RegisterErr attaches a code to err and remembers the http status for it
func RegisterErr(err error, code uint64, status int) error {
	if e, ok := errsMap[code]; ok {
		panic(fmt.Errorf("attempt to register error with existing code: %d; registered error: %v", code, e))
	}
	errWithCode := drpcerr.WithCode(err, code)
	errsMap[code] = errWithCode
	statusMap[code] = status
	return errWithCode
}

func Code(err error) uint64 {
	return drpcerr.Code(err)
}

// Root returns the registered error err belongs to, ErrUnexpected if none
func Root(err error) error {
	if e, ok := errsMap[Code(err)]; ok {
		return e
	}
	return ErrUnexpected
}

// HTTPStatus maps err to a response status, nil maps to 200
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if st, ok := statusMap[Code(err)]; ok {
		return st
	}
	return http.StatusInternalServerError
}

type kindErr struct {
	msg  string
	kind error
}

func (e *kindErr) Error() string {
	return e.msg
}

func (e *kindErr) Unwrap() error {
	return e.kind
}

// New returns an error with the given message belonging to kind
func New(kind error, msg string) error {
	return &kindErr{msg: msg, kind: kind}
}

func Newf(kind error, format string, args ...any) error {
	return &kindErr{msg: fmt.Sprintf(format, args...), kind: kind}
}
