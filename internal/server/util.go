package server

import (
	"encoding/json"
	"strings"

	"github.com/gin-gonic/gin"
)

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	bp = strings.TrimRight(bp, "/")
	return bp
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}

// extractName walks a dot-separated field path through a decoded JSON object.
// Returns fallback when the path is absent or not a string/number.
func extractName(obj map[string]any, path, fallback string) string {
	if path == "" {
		return fallback
	}
	var cur any = obj
	for _, p := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return fallback
		}
		cur, ok = m[p]
		if !ok {
			return fallback
		}
	}
	switch v := cur.(type) {
	case string:
		if v == "" {
			return fallback
		}
		return v
	case float64:
		return trimFloat(v)
	default:
		return fallback
	}
}

func trimFloat(f float64) string {
	b, _ := json.Marshal(f)
	return string(b)
}
