package mid

import (
	"context"
	"errors"
	"net/http"
	"path"

	"github.com/ahrav/curation-progress/internal/api/errs"
	"github.com/ahrav/curation-progress/pkg/common/logger"
	"github.com/ahrav/curation-progress/pkg/web"
)

// Errors handles errors coming out of the call chain. Errors that are not
// an *errs.Error are reported as a generic internal error so nothing about
// the backend leaks to the client.
func Errors(log *logger.Logger) web.MidFunc {
	m := func(next web.HandlerFunc) web.HandlerFunc {
		h := func(ctx context.Context, r *http.Request) web.Encoder {
			resp := next(ctx, r)
			err := isError(resp)
			if err == nil {
				return resp
			}

			var appErr *errs.Error
			if !errors.As(err, &appErr) {
				appErr = errs.Newf(errs.Internal, "Internal Server Error")
			}

			log.Error(ctx, "handled error during request",
				"err", err,
				"source_err_file", path.Base(appErr.FileName),
				"source_err_func", path.Base(appErr.FuncName))

			switch appErr.Code {
			case errs.InternalOnlyLog, errs.Internal:
				appErr = errs.Newf(errs.Internal, "Internal Server Error")
			}

			return appErr
		}

		return h
	}

	return m
}

func isError(e web.Encoder) error {
	err, isError := e.(error)
	if isError {
		return err
	}
	return nil
}
