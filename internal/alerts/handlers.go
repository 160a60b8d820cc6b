package alerts

import (
	"net/http"

	"github.com/stormwaterwatch/sww-backend/internal/httputil"
	"github.com/stormwaterwatch/sww-backend/internal/utils"
)

// ListAlerts returns the delivery history for the caller's subscriptions.
func ListAlerts(w http.ResponseWriter, r *http.Request) {
	userID, ok := utils.GetUserIDFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	limit, offset, err := httputil.ParseLimitOffset(r, 50, 500)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	list, err := store.ListForUser(r.Context(), userID, limit, offset)
	if err != nil {
		logger.Error("list alerts", "user_id", userID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to fetch alerts")
		return
	}
	if list == nil {
		list = []Alert{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"alerts": list})
}
