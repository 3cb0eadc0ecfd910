package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/consult-backend/internal/http/response"
	"github.com/ignatzorin/consult-backend/internal/logger"
)

// ErrorHandler отвечает на ошибки, добавленные через c.Error, если хендлер
// сам ничего не записал. AppError отдаётся со своим статусом, остальное маскируется.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() || len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last()
		logger.FromContext(c.Request.Context()).WithFields(logrus.Fields{
			"path":   c.Request.URL.Path,
			"method": c.Request.Method,
		}).WithError(err.Err).Warn("http: ошибка запроса")

		response.Error(c, err.Err)
	}
}

// Recovery перехватывает панику хендлера и отвечает 500 в общем формате.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.FromContext(c.Request.Context()).WithFields(logrus.Fields{
			"path":  c.Request.URL.Path,
			"panic": recovered,
		}).Error("http: паника в обработчике")
		response.Error(c, fmt.Errorf("panic: %v", recovered))
		c.Abort()
	})
}
