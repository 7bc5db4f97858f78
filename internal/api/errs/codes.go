package errs

import "net/http"

// The set of error codes returned by the API.
var (
	// InvalidArgument indicates client specified an invalid argument.
	InvalidArgument = ErrCode{value: 1}

	// NotFound means some requested entity was not found.
	NotFound = ErrCode{value: 2}

	// Gone means the entity existed but the data needed for the request has
	// expired. Used when a retry asks for input past its retention window.
	Gone = ErrCode{value: 3}

	// AlreadyExists means an attempt to create an entity failed because one
	// already exists.
	AlreadyExists = ErrCode{value: 4}

	// Conflict means the request is incompatible with the current state of
	// the entity.
	Conflict = ErrCode{value: 5}

	// Unavailable indicates a dependency is currently unreachable.
	Unavailable = ErrCode{value: 6}

	// Internal errors.
	Internal = ErrCode{value: 7}

	// InternalOnlyLog is an internal error whose message must not reach the
	// client.
	InternalOnlyLog = ErrCode{value: 8}
)

var codeNames = map[ErrCode]string{
	InvalidArgument: "invalid_argument",
	NotFound:        "not_found",
	Gone:            "gone",
	AlreadyExists:   "already_exists",
	Conflict:        "conflict",
	Unavailable:     "unavailable",
	Internal:        "internal",
	InternalOnlyLog: "internal_only_log",
}

var httpStatus = map[ErrCode]int{
	InvalidArgument: http.StatusBadRequest,
	NotFound:        http.StatusNotFound,
	Gone:            http.StatusGone,
	AlreadyExists:   http.StatusConflict,
	Conflict:        http.StatusConflict,
	Unavailable:     http.StatusServiceUnavailable,
	Internal:        http.StatusInternalServerError,
	InternalOnlyLog: http.StatusInternalServerError,
}
