// Package respond writes the API's JSON envelope:
// {success, data?, error?, message?, details?}.
package respond

import (
	"github.com/gin-gonic/gin"
)

type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
	Details any    `json:"details,omitempty"`
}

func OK(c *gin.Context, status int, data any) {
	c.JSON(status, Envelope{Success: true, Data: data})
}

func Message(c *gin.Context, status int, message string, data any) {
	c.JSON(status, Envelope{Success: true, Data: data, Message: message})
}

func Error(c *gin.Context, status int, err string) {
	c.JSON(status, Envelope{Success: false, Error: err})
}

// Abort stops the handler chain with an error envelope.
func Abort(c *gin.Context, status int, err string, details any) {
	c.AbortWithStatusJSON(status, Envelope{Success: false, Error: err, Details: details})
}
