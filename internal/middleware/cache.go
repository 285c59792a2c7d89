package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/credential-eval-api/internal/models"
)

const (
	responseMetaKey  = "response_meta"
	responseStartKey = "response_start"
	cacheHitKey      = "cache_hit"
	ruleOriginKey    = "rule_origin"
	processingKey    = "processing_time_ms"
)

// WithResponseMeta prepares the meta block attached to API envelopes.
func WithResponseMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(responseStartKey, time.Now())
		c.Set(responseMetaKey, map[string]interface{}{})
		c.Next()
	}
}

// SetCacheHit records whether the response was served from the cache.
func SetCacheHit(c *gin.Context, hit bool) {
	meta := ensureMeta(c)
	meta[cacheHitKey] = hit
}

// SetRuleOrigin records where a rule set lookup was answered from.
func SetRuleOrigin(c *gin.Context, origin models.RuleSetOrigin) {
	if origin == "" {
		return
	}
	ensureMeta(c)[ruleOriginKey] = string(origin)
	SetCacheHit(c, origin == models.RuleSetOriginCache)
}

// ExtractMeta returns the meta block with the time spent so far, or nil when
// WithResponseMeta is not installed.
func ExtractMeta(c *gin.Context) map[string]interface{} {
	if c == nil {
		return nil
	}
	raw, exists := c.Get(responseMetaKey)
	if !exists {
		return nil
	}
	meta, ok := raw.(map[string]interface{})
	if !ok {
		return nil
	}
	if start := c.GetTime(responseStartKey); !start.IsZero() {
		meta[processingKey] = time.Since(start).Milliseconds()
	}
	return meta
}

func ensureMeta(c *gin.Context) map[string]interface{} {
	if c == nil {
		return map[string]interface{}{}
	}
	if meta, exists := c.Get(responseMetaKey); exists {
		if typed, ok := meta.(map[string]interface{}); ok {
			return typed
		}
	}
	meta := make(map[string]interface{})
	c.Set(responseMetaKey, meta)
	return meta
}
