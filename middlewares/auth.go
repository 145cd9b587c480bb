package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"fulfillment-service/utils"
)

// OperatorKey gin 上下文中保存操作员(token subject)的键
const OperatorKey = "operator"

// AuthMiddleware 校验 Bearer JWT, 通过后把操作员写入上下文
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		operator, err := utils.ParseToken(tokenString, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		c.Set(OperatorKey, operator)
		c.Next()
	}
}
