package http

import (
	"fmt"
	"net/http"

	"counters/internal/core"
	"counters/internal/log"
)

// handleAdjustCounter applies one of the standard steps to the active
// category.
func (s *Server) handleAdjustCounter(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	id, c, ok := s.lookupView(w, r)
	if !ok {
		return
	}

	logger := log.FromContext(r.Context()).With(log.FieldViewID, id, log.FieldOperation, log.OpAdjust)
	delta, err := core.ParseDelta(sanitizeInput(r.FormValue("delta")))
	if err != nil {
		NewHTMXResponse().
			Status(statusFor(err)).
			TriggerErrorNotification("Error updating counter", userMessage(err)).
			Write(w)
		return
	}

	ctx, cancel := s.storeContext(r)
	defer cancel()
	updated, err := c.Adjust(ctx, delta)
	if err != nil {
		logger.Error("Failed to update counter", log.FieldDelta, delta.String(), log.FieldError, err)
		NewHTMXResponse().
			Status(statusFor(err)).
			TriggerErrorNotification("Error updating counter", userMessage(err)).
			Write(w)
		return
	}

	s.appMetrics.counterAdjustments.Add(1)
	logger.Info("Counter updated",
		log.NewFields().
			WithCategory(updated.ID, updated.Name).
			WithCounter(delta, updated.Value).
			ToSlice()...)

	title := "Incremented"
	if !delta.IsPositive() {
		title = "Decremented"
	}
	s.writeDashboard(w, r, id, c, NewHTMXResponse().
		TriggerSuccessNotification(title, fmt.Sprintf("%s is now %s", updated.Name, updated.Value.String())))
}

// handleResetCounter zeroes the active category.
func (s *Server) handleResetCounter(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	id, c, ok := s.lookupView(w, r)
	if !ok {
		return
	}

	logger := log.FromContext(r.Context()).With(log.FieldViewID, id, log.FieldOperation, log.OpReset)

	ctx, cancel := s.storeContext(r)
	defer cancel()
	updated, err := c.Reset(ctx)
	if err != nil {
		logger.Error("Failed to reset counter", log.FieldError, err)
		NewHTMXResponse().
			Status(statusFor(err)).
			TriggerErrorNotification("Error resetting counter", userMessage(err)).
			Write(w)
		return
	}

	s.appMetrics.counterAdjustments.Add(1)
	logger.Info("Counter reset", log.FieldCategoryID, updated.ID, log.FieldCategoryName, updated.Name)

	s.writeDashboard(w, r, id, c, NewHTMXResponse().
		TriggerSuccessNotification("Counter reset", fmt.Sprintf("%s has been reset to 0", updated.Name)))
}
