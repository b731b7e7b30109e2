package http

import (
	"errors"
	"fmt"
	"net/http"

	"counters/internal/core"
	"counters/internal/log"
)

// handleCreateCategory submits the category form. The response is the form
// partial: cleared on success, with the field error on 422.
func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	id, c, ok := s.lookupView(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		BadRequestError("Invalid form data").Write(w)
		return
	}

	name := stripControl(r.FormValue("name"))
	logger := log.FromContext(r.Context()).With(log.FieldViewID, id, log.FieldOperation, log.OpCreate)

	ctx, cancel := s.storeContext(r)
	defer cancel()
	created, err := c.AddCategory(ctx, name)

	var fe *core.FieldError
	switch {
	case errors.As(err, &fe):
		logger.Debug("Category form rejected", log.FieldError, fe.Message)
		s.writeForm(w, r, formData{ViewID: id, Name: name, Error: fe.Message},
			NewHTMXResponse().Status(http.StatusUnprocessableEntity))
		return
	case err != nil:
		logger.Error("Failed to add category", log.FieldCategoryName, name, log.FieldError, err)
		s.writeForm(w, r, formData{ViewID: id, Name: name},
			NewHTMXResponse().
				Status(statusFor(err)).
				TriggerErrorNotification("Error adding category", userMessage(err)))
		return
	}

	s.appMetrics.categoriesCreated.Add(1)
	logger.Info("Category created", log.FieldCategoryID, created.ID, log.FieldCategoryName, created.Name)

	s.writeForm(w, r, formData{ViewID: id},
		NewHTMXResponse().
			TriggerDashboardRefresh().
			TriggerFormReset().
			TriggerSuccessNotification("Category added", "The new category has been created successfully."))
}

func (s *Server) writeForm(w http.ResponseWriter, r *http.Request, data formData, resp *HTMXResponseBuilder) {
	html, err := s.render("form", data)
	if err != nil {
		log.FromContext(r.Context()).Error("Form template execution failed",
			log.FieldOperation, log.OpRender, log.FieldError, err)
		InternalServerError("Something went wrong").Write(w)
		return
	}
	resp.BodyHTML(html).Write(w)
}

// handleSelectCategory makes the posted id the active category.
func (s *Server) handleSelectCategory(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	id, c, ok := s.lookupView(w, r)
	if !ok {
		return
	}

	categoryID := sanitizeInput(r.FormValue("id"))
	resp := NewHTMXResponse()
	if _, err := c.Select(categoryID); err != nil {
		log.FromContext(r.Context()).Info("Selection rejected",
			log.FieldViewID, id, log.FieldCategoryID, categoryID, log.FieldError, err)
		resp.TriggerErrorNotification("Category not found", userMessage(err))
	}
	s.writeDashboard(w, r, id, c, resp)
}

// handleDeleteCategory deletes the active category. The form must carry
// confirm=yes.
func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	id, c, ok := s.lookupView(w, r)
	if !ok {
		return
	}

	confirmed := r.FormValue("confirm") == "yes"
	logger := log.FromContext(r.Context()).With(log.FieldViewID, id, log.FieldOperation, log.OpDelete)

	ctx, cancel := s.storeContext(r)
	defer cancel()
	deleted, err := c.DeleteSelected(ctx, confirmed)
	if err != nil {
		logger.Warn("Failed to delete category", log.FieldError, err)
		NewHTMXResponse().
			Status(statusFor(err)).
			TriggerErrorNotification("Error deleting category", userMessage(err)).
			Write(w)
		return
	}

	s.appMetrics.categoriesDeleted.Add(1)
	logger.Info("Category deleted", log.FieldCategoryID, deleted.ID, log.FieldCategoryName, deleted.Name)

	s.writeDashboard(w, r, id, c, NewHTMXResponse().
		TriggerSuccessNotification("Category deleted", fmt.Sprintf("%s has been deleted.", deleted.Name)))
}

// handleSort toggles the table ordering.
func (s *Server) handleSort(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	id, c, ok := s.lookupView(w, r)
	if !ok {
		return
	}

	field, valid := core.ParseSortField(sanitizeInput(r.FormValue("field")))
	if !valid {
		BadRequestError("Unknown sort field").Write(w)
		return
	}
	state := c.ToggleSort(field)
	log.FromContext(r.Context()).Debug("Sort changed",
		log.FieldViewID, id, log.FieldOperation, log.OpSort,
		"field", string(state.Field), "direction", state.Direction())

	s.writeDashboard(w, r, id, c, NewHTMXResponse())
}
