// Package respond 输出处理器与中间件共用的 JSON 错误结构。
package respond

import (
	"log/slog"
	"net/http"

	"paperscape/internal/pkg/apperr"

	"github.com/gin-gonic/gin"
)

// Error 以 {"status": "fail"|"error", "error": msg} 终止请求。
// 内部错误只记录日志，对外返回通用信息。
func Error(c *gin.Context, logger *slog.Logger, err error) {
	status := apperr.Status(err)
	if status >= http.StatusInternalServerError && logger != nil {
		logger.Error("request failed",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	label := "fail"
	if status >= http.StatusInternalServerError {
		label = "error"
	}
	c.AbortWithStatusJSON(status, gin.H{
		"status": label,
		"error":  apperr.Message(err),
	})
}
