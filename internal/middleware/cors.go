package middleware

import (
	"strings"

	"ticketflow/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CORSMiddleware 按 security.cors 配置写跨域头
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	cc := cfg.Security.CORS
	if !cc.Enabled {
		return func(c *gin.Context) { c.Next() }
	}
	allowAll := false
	origins := make(map[string]struct{}, len(cc.AllowedOrigins))
	for _, o := range cc.AllowedOrigins {
		if o == "*" {
			allowAll = true
		}
		origins[o] = struct{}{}
	}
	methods := strings.Join(cc.AllowedMethods, ", ")
	headers := strings.Join(cc.AllowedHeaders, ", ")

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if allowAll {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if _, ok := origins[origin]; ok && origin != "" {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		if methods != "" {
			c.Header("Access-Control-Allow-Methods", methods)
		}
		if headers != "" {
			c.Header("Access-Control-Allow-Headers", headers)
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

// RequestID 透传或生成 X-Request-ID
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}
