package server

import (
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

var nowUTC = func() time.Time { return time.Now().UTC() }

// pathID reads a positive snowflake id from a path parameter.
func pathID(c *gin.Context, name string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param(name)))
	if err != nil || id <= 0 {
		return 0, newValidationError(name, "invalid_"+name, "invalid "+name)
	}
	return id, nil
}

// queryFlag treats an absent parameter as false.
func queryFlag(c *gin.Context, name string) (bool, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return false, nil
	}
	flag, err := strconv.ParseBool(raw)
	if err != nil {
		return false, newValidationError(name, "invalid_"+name, "invalid "+name)
	}
	return flag, nil
}

// queryTime accepts RFC3339 or a bare date. A bare date used as an upper
// bound covers the whole day.
func queryTime(name, raw string, upper bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	day, err := time.ParseInLocation(time.DateOnly, raw, time.UTC)
	if err != nil {
		return nil, newValidationError(name, "invalid_"+name, "invalid "+name)
	}
	if upper {
		day = day.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return &day, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
