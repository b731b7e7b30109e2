package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"counters/internal/core"
	"counters/internal/dashboard"
	"counters/internal/log"
)

type pageData struct {
	ViewID    string
	Form      formData
	Dashboard dashboardData
}

type formData struct {
	ViewID string
	Name   string
	Error  string
}

type dashboardData struct {
	ViewID string
	dashboard.View
	Columns      []tableColumn
	Rows         []tableRow
	AverageValue string
	FetchError   string
}

type tableColumn struct {
	Field      core.SortField
	Label      string
	Active     bool
	Descending bool
}

type tableRow struct {
	ID          string
	Name        string
	Value       string
	LastUpdated string
	ClicksToday int
	Selected    bool
}

var columnLabels = map[core.SortField]string{
	core.SortByName:        "Category",
	core.SortByValue:       "Value",
	core.SortByLastUpdated: "Last Updated",
	core.SortByClicksToday: "Today",
}

func newDashboardData(id string, v dashboard.View) dashboardData {
	d := dashboardData{
		ViewID:       id,
		View:         v,
		AverageValue: v.Stats.AverageValue.StringFixed(1),
	}
	if v.FetchErr != nil {
		d.FetchError = "Error fetching categories"
	}
	for _, f := range core.SortFields {
		d.Columns = append(d.Columns, tableColumn{
			Field:      f,
			Label:      columnLabels[f],
			Active:     v.Sort.Field == f,
			Descending: v.Sort.Descending,
		})
	}
	for _, c := range v.Categories {
		d.Rows = append(d.Rows, tableRow{
			ID:          c.ID,
			Name:        c.Name,
			Value:       c.Value.String(),
			LastUpdated: core.DisplayTimestamp(c.LastUpdated, v.Location),
			ClicksToday: c.ClicksToday,
			Selected:    v.Selected != nil && v.Selected.ID == c.ID,
		})
	}
	return d
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	health := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.appMetrics.uptime).String(),
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(health)
}

// handleReady checks templates and store connectivity.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.StoreTimeout)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]interface{})

	if s.templates == nil {
		checks["templates"] = "failed: templates not loaded"
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["templates"] = "ok"
	}

	if err := s.deps.Backend.Ping(ctx); err != nil {
		log.FromContext(r.Context()).Warn("Readiness check failed", log.FieldError, err)
		checks["store"] = "failed: " + err.Error()
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["store"] = "ok"
	}

	response := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	}

	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(response)
}

// handleMetrics exposes counters in the Prometheus text format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	traceMetrics := s.traceMiddleware.GetMetrics()
	rateLimitMetrics := s.rateLimiter.GetMetrics()

	w.WriteHeader(http.StatusOK)

	metric := func(name, help, kind string, value int64) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
		fmt.Fprintf(w, "%s %d\n\n", name, value)
	}

	metric("http_requests_total", "Total number of HTTP requests", "counter", traceMetrics.TotalRequests)
	metric("http_server_errors_total", "Responses with a 5xx status", "counter", traceMetrics.ServerErrors)
	metric("http_response_time_avg_microseconds", "Average response time", "gauge", traceMetrics.AverageResponseTime)
	metric("rate_limit_rejections_total", "Requests rejected by the rate limiter", "counter", rateLimitMetrics.Rejected)
	metric("rate_limit_clients", "Clients tracked by the rate limiter", "gauge", int64(rateLimitMetrics.ClientCount))
	metric("suspicious_requests_total", "Requests matching probe patterns", "counter", s.securityDetector.SuspiciousRequests())
	metric("categories_created_total", "Categories created", "counter", s.appMetrics.categoriesCreated.Load())
	metric("categories_deleted_total", "Categories deleted", "counter", s.appMetrics.categoriesDeleted.Load())
	metric("counter_adjustments_total", "Counter increments, decrements and resets", "counter", s.appMetrics.counterAdjustments.Load())
	metric("views_mounted_total", "Dashboard views mounted", "counter", s.appMetrics.viewsMounted.Load())
	metric("views_active", "Dashboard views held in memory", "gauge", int64(s.views.Size()))
	metric("uptime_seconds", "Process uptime", "gauge", int64(time.Since(s.appMetrics.uptime).Seconds()))
}

// handleIndex mounts a new view and renders the full page.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	logger := log.FromContext(r.Context())
	id, c, err := s.mountView(r.Context())
	if err != nil {
		logger.Error("Initial category fetch failed", log.FieldViewID, id, log.FieldError, err)
	}

	html, renderErr := s.render("index.html", pageData{
		ViewID:    id,
		Form:      formData{ViewID: id},
		Dashboard: newDashboardData(id, c.Snapshot()),
	})
	if renderErr != nil {
		logger.Error("Index template execution failed", log.FieldError, renderErr)
		InternalServerError("Something went wrong").Write(w)
		return
	}

	resp := NewHTMXResponse().BodyHTML(html)
	if err != nil {
		resp.TriggerErrorNotification("Error fetching categories", userMessage(err))
	}
	resp.Write(w)
}

// handleDashboard re-renders the dashboard partial of a view.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	id, c, ok := s.lookupView(w, r)
	if !ok {
		return
	}

	ctx, cancel := s.storeContext(r)
	defer cancel()
	resp := NewHTMXResponse()
	if err := c.Refresh(ctx); err != nil {
		log.FromContext(r.Context()).Warn("Category fetch failed",
			log.FieldViewID, id, log.FieldOperation, log.OpRefresh, log.FieldError, err)
		resp.TriggerErrorNotification("Error fetching categories", userMessage(err))
	}

	s.writeDashboard(w, r, id, c, resp)
}

// writeDashboard renders the dashboard partial into resp and sends it.
func (s *Server) writeDashboard(w http.ResponseWriter, r *http.Request, id string, c *dashboard.Container, resp *HTMXResponseBuilder) {
	html, err := s.render("dashboard", newDashboardData(id, c.Snapshot()))
	if err != nil {
		log.FromContext(r.Context()).Error("Dashboard template execution failed",
			log.FieldViewID, id, log.FieldOperation, log.OpRender, log.FieldError, err)
		InternalServerError("Something went wrong").Write(w)
		return
	}
	resp.BodyHTML(html).Write(w)
}
