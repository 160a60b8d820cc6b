package subscriptions

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stormwaterwatch/sww-backend/internal/facilities"
	"github.com/stormwaterwatch/sww-backend/internal/httputil"
	"github.com/stormwaterwatch/sww-backend/internal/utils"
)

// Runner delivers pending alerts for one subscription immediately.
type Runner interface {
	RunSubscription(ctx context.Context, sub Subscription) (int, error)
}

func ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	userID, ok := utils.GetUserIDFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	subs, err := store.ListByUser(r.Context(), userID)
	if err != nil {
		logger.Error("list subscriptions", "user_id", userID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to fetch subscriptions")
		return
	}
	if subs == nil {
		subs = []Subscription{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"subscriptions": subs})
}

func CreateSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := utils.GetUserIDFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	if err := ValidateParams(req.Mode, req.Params); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	sub := Subscription{
		UserID:                  userID,
		Name:                    req.Name,
		Mode:                    req.Mode,
		Params:                  req.Params,
		MinRatio:                1.0,
		RepeatOffenderThreshold: 2,
		ImpairedOnly:            req.ImpairedOnly,
		Schedule:                req.Schedule,
		Delivery:                req.Delivery,
		Active:                  true,
	}
	if req.MinRatio != nil {
		sub.MinRatio = *req.MinRatio
	}
	if req.RepeatOffenderThreshold != nil {
		sub.RepeatOffenderThreshold = *req.RepeatOffenderThreshold
	}

	if err := store.Create(r.Context(), &sub); err != nil {
		logger.Error("create subscription", "user_id", userID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to create subscription")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]any{"success": true, "subscription": sub})
}

func GetSubscription(w http.ResponseWriter, r *http.Request) {
	sub, ok := ownedSubscription(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sub)
}

// UpdateSubscription patches the fields present in the body.
func UpdateSubscription(w http.ResponseWriter, r *http.Request) {
	sub, ok := ownedSubscription(w, r)
	if !ok {
		return
	}

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	updates := map[string]any{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Active != nil {
		updates["active"] = *req.Active
	}
	if req.Schedule != nil {
		updates["schedule"] = *req.Schedule
	}
	if req.Delivery != nil {
		updates["delivery"] = *req.Delivery
	}
	if req.MinRatio != nil {
		updates["min_ratio"] = *req.MinRatio
	}
	if req.RepeatOffenderThreshold != nil {
		updates["repeat_offender_threshold"] = *req.RepeatOffenderThreshold
	}
	if req.ImpairedOnly != nil {
		updates["impaired_only"] = *req.ImpairedOnly
	}

	if err := store.Update(r.Context(), &sub, updates); err != nil {
		logger.Error("update subscription", "id", sub.ID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to update subscription")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "subscription": sub})
}

func DeleteSubscription(w http.ResponseWriter, r *http.Request) {
	sub, ok := ownedSubscription(w, r)
	if !ok {
		return
	}
	if err := store.Delete(r.Context(), sub.ID); err != nil {
		logger.Error("delete subscription", "id", sub.ID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to delete subscription")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// TestMatchSubscription previews an area definition against one facility.
func TestMatchSubscription(w http.ResponseWriter, r *http.Request) {
	var req testMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	f, err := store.Facility(r.Context(), uuid.MustParse(req.FacilityID))
	if errors.Is(err, facilities.ErrNotFound) {
		httputil.WriteJSON(w, http.StatusOK, MatchResult{Reason: "Facility not found"})
		return
	}
	if err != nil {
		logger.Error("test match facility lookup", "facility_id", req.FacilityID, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to load facility")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, TestMatch(req.Params, req.Mode, f))
}

// SendSubscription runs alert delivery for one subscription now.
func SendSubscription(runner Runner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, ok := ownedSubscription(w, r)
		if !ok {
			return
		}
		sent, err := runner.RunSubscription(r.Context(), sub)
		if err != nil {
			logger.Error("send subscription alerts", "id", sub.ID, "error", err)
			httputil.WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]int{"sent": sent})
	}
}

// ownedSubscription loads the subscription named in the path. Subscriptions of
// other users are reported as missing.
func ownedSubscription(w http.ResponseWriter, r *http.Request) (Subscription, bool) {
	userID, ok := utils.GetUserIDFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return Subscription{}, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "subscription_id"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "Invalid subscription id")
		return Subscription{}, false
	}

	sub, err := store.Get(r.Context(), id)
	if errors.Is(err, ErrNotFound) || (err == nil && sub.UserID != userID) {
		httputil.WriteError(w, http.StatusNotFound, "Not found")
		return Subscription{}, false
	}
	if err != nil {
		logger.Error("get subscription", "id", id, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "Failed to fetch subscription")
		return Subscription{}, false
	}
	return sub, true
}
