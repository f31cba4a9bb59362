package web

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	_successCode = 0
	_errorCode   = 1
)

// Resp 响应
type Resp struct {
	Code    int         `json:"code"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

func NewSuccessResp() *Resp {
	return &Resp{
		Code: _successCode,
	}
}

func NewErrorResp() *Resp {
	return &Resp{
		Code: _errorCode,
	}
}

func (c *Resp) SetMessage(message string) *Resp {
	c.Message = message
	return c
}

func (c *Resp) SetResult(result interface{}) *Resp {
	c.Result = result
	return c
}

func RespOK(c *gin.Context, result interface{}) {
	c.JSON(http.StatusOK, NewSuccessResp().SetResult(result))
}

func Err400(c *gin.Context, message string) {
	respErr(c, http.StatusBadRequest, message)
}

func Err404(c *gin.Context, message string) {
	respErr(c, http.StatusNotFound, message)
}

func Err409(c *gin.Context, message string) {
	respErr(c, http.StatusConflict, message)
}

func Err500(c *gin.Context, message string) {
	respErr(c, http.StatusInternalServerError, message)
}

func Err503(c *gin.Context, message string) {
	respErr(c, http.StatusServiceUnavailable, message)
}

func respErr(c *gin.Context, status int, message string) {
	c.JSON(status, NewErrorResp().SetMessage(message))
}
