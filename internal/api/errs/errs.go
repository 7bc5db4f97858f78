// Package errs provides types and support related to web error functionality.
package errs

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime"

	"github.com/ahrav/curation-progress/internal/domain/progress"
)

// ErrCode represents an error code in the system.
type ErrCode struct {
	value int
}

// Value returns the integer value of the error code.
func (ec ErrCode) Value() int { return ec.value }

// String returns the string representation of the error code.
func (ec ErrCode) String() string { return codeNames[ec] }

// Error represents an error in the system.
type Error struct {
	Code     ErrCode `json:"code"`
	Message  string  `json:"message"`
	FuncName string  `json:"-"`
	FileName string  `json:"-"`
	err      error
}

// New constructs an error based on an app error.
func New(code ErrCode, err error) *Error {
	pc, filename, line, _ := runtime.Caller(1)

	return &Error{
		Code:     code,
		Message:  err.Error(),
		FuncName: runtime.FuncForPC(pc).Name(),
		FileName: fmt.Sprintf("%s:%d", filename, line),
		err:      err,
	}
}

// Newf constructs an error based on a error message.
func Newf(code ErrCode, format string, v ...any) *Error {
	pc, filename, line, _ := runtime.Caller(1)

	return &Error{
		Code:     code,
		Message:  fmt.Sprintf(format, v...),
		FuncName: runtime.FuncForPC(pc).Name(),
		FileName: fmt.Sprintf("%s:%d", filename, line),
	}
}

// FromDomain maps a progress error onto an API error code.
func FromDomain(err error) *Error {
	code := Internal
	switch {
	case errors.Is(err, progress.ErrNotFound):
		code = NotFound
	case errors.Is(err, progress.ErrExpired):
		code = Gone
	case errors.Is(err, progress.ErrAlreadyExists):
		code = AlreadyExists
	case errors.Is(err, progress.ErrInvalidTransition):
		code = Conflict
	case errors.Is(err, progress.ErrInvalidArgument):
		code = InvalidArgument
	}

	appErr := New(code, err)
	if pc, filename, line, ok := runtime.Caller(1); ok {
		appErr.FuncName = runtime.FuncForPC(pc).Name()
		appErr.FileName = fmt.Sprintf("%s:%d", filename, line)
	}
	return appErr
}

// Error implements the error interface.
func (e *Error) Error() string { return e.Message }

// Unwrap returns the wrapped error, if any.
func (e *Error) Unwrap() error { return e.err }

// Encode implements the encoder interface.
func (e *Error) Encode() ([]byte, string, error) {
	data, err := json.Marshal(struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}{Code: e.Code.String(), Message: e.Message})
	return data, "application/json", err
}

// HTTPStatus implements the web package httpStatus interface so the web
// framework can use the correct http status.
func (e *Error) HTTPStatus() int { return httpStatus[e.Code] }

// Equal provides support for the go-cmp package and testing.
func (e *Error) Equal(e2 *Error) bool {
	return e.Code == e2.Code && e.Message == e2.Message
}

// IsError tests the concrete error is of the Error type.
func IsError(err error) bool {
	var er *Error
	return errors.As(err, &er)
}

// GetError returns a copy of the Error pointer.
func GetError(err error) *Error {
	var er *Error
	if !errors.As(err, &er) {
		return nil
	}
	return er
}
