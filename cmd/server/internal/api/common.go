package api

import (
	"github.com/gin-gonic/gin"
)

// currentUser resolves the requesting user. An auth middleware may inject
// it into the context; the X-User header covers direct API access.
func currentUser(c *gin.Context) string {
	if user, exists := c.Get("user"); exists {
		if username, ok := user.(string); ok && username != "" {
			return username
		}
	}

	if u := c.GetHeader("X-User"); u != "" {
		return u
	}

	return "anonymous"
}

// errorResponse returns an error payload.
func errorResponse(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{
		"error": message,
	})
}

// errorResponseWithCode returns an error payload carrying the pipeline
// error code.
func errorResponseWithCode(c *gin.Context, code int, errorCode, message string) {
	c.JSON(code, gin.H{
		"error": message,
		"code":  errorCode,
	})
}

// successResponse returns a success payload.
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(200, data)
}

// notFoundResponse returns a 404 payload.
func notFoundResponse(c *gin.Context, resource string) {
	c.JSON(404, gin.H{
		"error": resource + " not found",
	})
}

// badRequestResponse returns a 400 payload.
func badRequestResponse(c *gin.Context, message string) {
	c.JSON(400, gin.H{
		"error": message,
	})
}
