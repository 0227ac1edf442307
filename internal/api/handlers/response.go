// Package handlers implements the HTTP handlers of the engine control port.
package handlers

import (
	"github.com/gin-gonic/gin"
)

func respondOK(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{
		"status": "success",
		"data":   data,
	})
}

func respondError(c *gin.Context, status int, message string, details ...gin.H) {
	body := gin.H{
		"status": "error",
		"error":  message,
	}
	for _, d := range details {
		for k, v := range d {
			body[k] = v
		}
	}
	c.AbortWithStatusJSON(status, body)
}
