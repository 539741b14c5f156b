package httpx

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("component", "httpx")

// SetLogger replaces the entry internal errors are logged with
func SetLogger(entry *logrus.Entry) {
	logger = entry.WithField("component", "httpx")
}

// Response represents the standard API response structure
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// OK sends a successful response with default message "success"
func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// Fail sends an error response with specified HTTP status, business code, and message
func Fail(c *gin.Context, httpStatus int, code int, message string) {
	c.JSON(httpStatus, Response{
		Code:    code,
		Message: message,
		Data:    nil,
	})
}

// FailErr sends an error response from an AppError
// If AppError.Err is not nil, it will be logged but not returned to client
func FailErr(c *gin.Context, err *AppError) {
	if err.Err != nil {
		logger.WithFields(logrus.Fields{
			"code":   err.Code,
			"path":   c.FullPath(),
			"method": c.Request.Method,
		}).WithError(err.Err).Error(err.Message)
	}

	c.JSON(err.HTTPStatus, Response{
		Code:    err.Code,
		Message: err.Message,
		Data:    err.Data,
	})
}

// Error translates a domain error and sends it
func Error(c *gin.Context, err error) {
	FailErr(c, FromError(err))
}

// ListData represents the standard list response data structure
type ListData struct {
	Items interface{} `json:"items"`
	Total int         `json:"total"`
}

// OKItems sends a successful list response
func OKItems(c *gin.Context, items interface{}, total int) {
	OK(c, ListData{Items: items, Total: total})
}
