package response

import (
	"errors"
	"net/http"

	"github.com/drfeelgood/core/internal/pkg/failure"
	"github.com/gin-gonic/gin"
)

// OK sends a 200 response.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// Success sends the {status: "success", entry} envelope used by the log endpoints.
func Success(c *gin.Context, entry interface{}) {
	c.JSON(http.StatusOK, gin.H{"status": "success", "entry": entry})
}

// Created sends a 201 response.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, data)
}

// NoContent sends a 204 response.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// BadRequest sends a 400 error response.
func BadRequest(c *gin.Context, message string) {
	abort(c, http.StatusBadRequest, failure.Validation, message)
}

// NotFound sends a 404 error response.
func NotFound(c *gin.Context) {
	abort(c, http.StatusNotFound, failure.NotFound, "Not Found")
}

// NotFoundMsg sends a 404 error with a custom message.
func NotFoundMsg(c *gin.Context, message string) {
	abort(c, http.StatusNotFound, failure.NotFound, message)
}

// MethodNotAllowed sends a 405 error response.
func MethodNotAllowed(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusMethodNotAllowed, gin.H{"ok": 0, "code": http.StatusMethodNotAllowed, "message": "Method Not Allowed"})
}

// TooManyRequests sends a 429 error response.
func TooManyRequests(c *gin.Context) {
	c.Header("Retry-After", "1")
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"ok": 0, "code": http.StatusTooManyRequests, "message": "too many requests, slow down"})
}

// Conflict sends a 409 error response.
func Conflict(c *gin.Context, message string) {
	abort(c, http.StatusConflict, failure.Conflict, message)
}

// InternalError sends a 500 error response.
func InternalError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"ok": 0, "code": http.StatusInternalServerError, "message": err.Error()})
}

// Failure maps a classified error to its status code. Unclassified errors are 500s.
func Failure(c *gin.Context, err error) {
	var fe *failure.Error
	if !errors.As(err, &fe) {
		InternalError(c, err)
		return
	}
	abort(c, StatusFor(fe.Kind), fe.Kind, err.Error())
}

// StatusFor returns the HTTP status reported for a failure kind.
func StatusFor(kind failure.Kind) int {
	switch kind {
	case failure.Validation:
		return http.StatusBadRequest
	case failure.NotFound:
		return http.StatusNotFound
	case failure.Conflict, failure.DuplicateRequest:
		return http.StatusConflict
	case failure.Transport, failure.Unauthorized:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func abort(c *gin.Context, code int, kind failure.Kind, message string) {
	c.AbortWithStatusJSON(code, gin.H{"ok": 0, "code": code, "kind": kind, "message": message})
}
