package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// parseIDParam parses a path param as a positive int64, responding
// with 400 and returning ok=false on failure.
func parseIDParam(ctx *gin.Context, name string) (int64, bool) {
	raw := ctx.Param(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		RespondBadRequest(ctx, "invalid "+name+" path parameter", nil)
		return 0, false
	}
	return id, true
}
