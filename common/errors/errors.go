package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error is an error that knows its HTTP status.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new Error
func New(code int, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func BadRequest(message string) *Error   { return New(http.StatusBadRequest, message, nil) }
func Unauthorized(message string) *Error { return New(http.StatusUnauthorized, message, nil) }
func Forbidden(message string) *Error    { return New(http.StatusForbidden, message, nil) }
func NotFound(message string) *Error     { return New(http.StatusNotFound, message, nil) }
func Conflict(message string) *Error     { return New(http.StatusConflict, message, nil) }

// Gone reports a resource that existed but is no longer available.
func Gone(message string) *Error { return New(http.StatusGone, message, nil) }

// Internal hides err from the client and keeps it for logging.
func Internal(err error) *Error {
	return New(http.StatusInternalServerError, "Internal server error", err)
}

// Unavailable reports a dependency that could not be reached.
func Unavailable(message string, err error) *Error {
	return New(http.StatusServiceUnavailable, message, err)
}

// As returns err as an *Error, wrapping anything else as Internal.
func As(err error) *Error {
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return Internal(err)
}

// ErrorMiddleware renders the last error attached with c.Error when the
// handler did not write a response itself.
func ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		appErr := As(c.Errors.Last().Err)
		c.AbortWithStatusJSON(appErr.Code, appErr)
	}
}
