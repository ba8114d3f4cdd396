package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Envelope codes. The HTTP status is always 200, the outcome is in Code.
const (
	CodeSuccess = 200
	CodeFailure = 401
)

// Envelope wraps every JSON response of the HTTP surface.
type Envelope[T any] struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data T      `json:"data"`
}

// Succeeded reports whether the envelope carries a successful result.
func (e Envelope[T]) Succeeded() bool {
	return e.Code == CodeSuccess
}

func respond[T any](c *gin.Context, data T) {
	c.JSON(http.StatusOK, Envelope[T]{Code: CodeSuccess, Msg: "success", Data: data})
}

// respondBool answers endpoints whose data is true on success and false on failure.
func respondBool(c *gin.Context, err error) {
	if err != nil {
		c.JSON(http.StatusOK, Envelope[bool]{Code: CodeFailure, Msg: err.Error(), Data: false})
		return
	}
	c.JSON(http.StatusOK, Envelope[bool]{Code: CodeSuccess, Msg: "success", Data: true})
}

// respondError answers endpoints whose data is null on failure.
func respondError(c *gin.Context, err error) {
	c.JSON(http.StatusOK, Envelope[any]{Code: CodeFailure, Msg: err.Error(), Data: nil})
}
