package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"FinGuard/pkg/logger"
)

// DataResponse writes the envelope with statusCode as both the HTTP status
// and the body status.
func DataResponse(c echo.Context, statusCode int, data interface{}) error {
	return c.JSON(statusCode, APIResponse{
		Status:  statusCode,
		Message: http.StatusText(statusCode),
		Data:    data,
	})
}

func SuccessResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusOK, data)
}

// AcceptedResponse acknowledges queued work.
func AcceptedResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusAccepted, data)
}

func ListResponse(c echo.Context, rows interface{}, total int64) error {
	return DataResponse(c, http.StatusOK, &ListDataResponse{Rows: rows, Total: total})
}

// BadRequestResponse reports field validation failures.
func BadRequestResponse(c echo.Context, errs []ValidationError) error {
	return DataResponse(c, http.StatusBadRequest, errs)
}

// AppErrorResponse writes err with its own status when it is an *AppError and
// as an opaque 500 otherwise.
func AppErrorResponse(c echo.Context, err error) error {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		appErr = InternalError("something went wrong")
	}
	return DataResponse(c, appErr.Status, []*AppError{appErr})
}

// ErrorHandler renders errors that reach echo (unknown routes, wrong methods,
// handler errors) in the API envelope.
func ErrorHandler(l *logger.Logger) echo.HTTPErrorHandler {
	if l == nil {
		l = logger.Nop()
	}
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var he *echo.HTTPError
		var appErr *AppError
		switch {
		case errors.As(err, &appErr):
		case errors.As(err, &he):
			appErr = NewAppError(httpErrorCode(he.Code), "", http.StatusText(he.Code), he.Code)
		default:
			l.Error("unhandled http error", logger.String("route", c.Path()), logger.Error(err))
			appErr = InternalError("something went wrong")
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(appErr.Status)
		} else {
			werr = DataResponse(c, appErr.Status, []*AppError{appErr})
		}
		if werr != nil {
			l.Warn("write error response", logger.Error(werr))
		}
	}
}

func httpErrorCode(status int) string {
	switch status {
	case http.StatusNotFound:
		return "ERR_NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "ERR_METHOD_NOT_ALLOWED"
	case http.StatusRequestEntityTooLarge:
		return "ERR_FILE_TOO_LARGE"
	case http.StatusTooManyRequests:
		return "ERR_RATE_LIMITED"
	case http.StatusServiceUnavailable:
		return "ERR_UNAVAILABLE"
	}
	if status >= 500 {
		return "ERR_INTERNAL"
	}
	return "ERR_BAD_REQUEST"
}
