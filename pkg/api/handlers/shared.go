package handlers

import (
	"context"
	"net/http"

	"github.com/kestrel-run/kestrel/pkg/api/response"
)

// getRequestID extracts the request ID set by middleware.RequestID.
func getRequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value("request_id").(string); ok {
		return reqID
	}
	return "unknown"
}

func jsonOK(w http.ResponseWriter, data any) {
	response.JSON(w, http.StatusOK, data)
}

func jsonStatus(w http.ResponseWriter, statusCode int, data any) {
	response.JSON(w, statusCode, data)
}
