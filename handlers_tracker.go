package main

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/example/jobtracker/internal/logger"
)

type companyRequest struct {
	Name    string  `json:"name"`
	Website *string `json:"website"`
}

type applicationRequest struct {
	CompanyID int64             `json:"company_id"`
	Position  string            `json:"position"`
	Status    ApplicationStatus `json:"status"`
	AppliedAt *Date             `json:"applied_at"`
}

type followUpRequest struct {
	ApplicationID int64  `json:"application_id"`
	Note          string `json:"note"`
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := parseID(mux.Vars(r)["id"])
	if !ok {
		writeValidationError(w, invalid("id", "id must be a positive integer"))
	}
	return id, ok
}

// Companies

func (a *App) HandleCreateCompany(w http.ResponseWriter, r *http.Request) {
	var in companyRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	name, err := boundedText("name", in.Name, maxCompanyName)
	if err != nil {
		writeValidationError(w, err)
		return
	}
	website, err := normalizeWebsite(in.Website)
	if err != nil {
		writeValidationError(w, err)
		return
	}

	acc := currentAccount(r.Context())
	c, err := a.DB.CreateCompany(r.Context(), acc.ID, name, website)
	if err != nil {
		a.writeServiceError(w, r, err, "Company")
		return
	}
	a.writeJSON(w, r, http.StatusCreated, c)
}

func (a *App) HandleListCompanies(w http.ResponseWriter, r *http.Request) {
	acc := currentAccount(r.Context())
	companies, err := a.DB.ListCompanies(r.Context(), acc.ID)
	if err != nil {
		a.writeServiceError(w, r, err, "Company")
		return
	}
	a.writeJSON(w, r, http.StatusOK, companies)
}

func (a *App) HandleGetCompany(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	c, err := a.DB.GetCompany(r.Context(), currentAccount(r.Context()).ID, id)
	if err == nil && c == nil {
		err = errNotFound
	}
	if err != nil {
		a.writeServiceError(w, r, err, "Company")
		return
	}
	a.writeJSON(w, r, http.StatusOK, c)
}

func (a *App) HandleDeleteCompany(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := a.DB.DeleteCompany(r.Context(), currentAccount(r.Context()).ID, id); err != nil {
		a.writeServiceError(w, r, err, "Company")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Applications

func (a *App) HandleCreateApplication(w http.ResponseWriter, r *http.Request) {
	var in applicationRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	if in.CompanyID <= 0 {
		writeValidationError(w, invalid("company_id", "company_id must be a positive integer"))
		return
	}
	position, err := boundedText("position", in.Position, maxPositionLength)
	if err != nil {
		writeValidationError(w, err)
		return
	}
	if in.Status == "" {
		in.Status = StatusApplied
	}
	if err := validateStatus(in.Status); err != nil {
		writeValidationError(w, err)
		return
	}
	if err := validateAppliedAt(in.AppliedAt, a.now()); err != nil {
		writeValidationError(w, err)
		return
	}

	acc := currentAccount(r.Context())
	app, err := a.DB.CreateApplication(r.Context(), &Application{
		OwnerID:   acc.ID,
		CompanyID: in.CompanyID,
		Position:  position,
		Status:    in.Status,
		AppliedAt: in.AppliedAt,
	})
	if err != nil {
		a.writeServiceError(w, r, err, "Company")
		return
	}
	a.writeJSON(w, r, http.StatusCreated, app)
}

func (a *App) HandleListApplications(w http.ResponseWriter, r *http.Request) {
	f, err := parseApplicationFilter(r.URL.Query())
	if err != nil {
		writeValidationError(w, err)
		return
	}
	apps, err := a.DB.ListApplications(r.Context(), currentAccount(r.Context()).ID, f)
	if err != nil {
		a.writeServiceError(w, r, err, "Application")
		return
	}
	a.writeJSON(w, r, http.StatusOK, apps)
}

func (a *App) HandleGetApplication(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	app, err := a.DB.GetApplication(r.Context(), currentAccount(r.Context()).ID, id)
	if err == nil && app == nil {
		err = errNotFound
	}
	if err != nil {
		a.writeServiceError(w, r, err, "Application")
		return
	}
	a.writeJSON(w, r, http.StatusOK, app)
}

// decodePatch builds an ApplicationPatch from a JSON object. A key that is
// present with null clears applied_at; absent keys are left unchanged.
func (a *App) decodePatch(raw map[string]json.RawMessage) (ApplicationPatch, error) {
	var p ApplicationPatch
	for key, val := range raw {
		isNull := strings.TrimSpace(string(val)) == "null"
		switch key {
		case "company_id":
			var id int64
			if isNull || json.Unmarshal(val, &id) != nil || id <= 0 {
				return p, invalid("company_id", "company_id must be a positive integer")
			}
			p.CompanyID = &id
		case "position":
			var s string
			if isNull || json.Unmarshal(val, &s) != nil {
				return p, invalid("position", "position must be a string")
			}
			position, err := boundedText("position", s, maxPositionLength)
			if err != nil {
				return p, err
			}
			p.Position = &position
		case "status":
			var s ApplicationStatus
			if isNull || json.Unmarshal(val, &s) != nil {
				return p, invalid("status", "status must be a string")
			}
			if err := validateStatus(s); err != nil {
				return p, err
			}
			p.Status = &s
		case "applied_at":
			if isNull {
				p.ClearAppliedAt = true
				continue
			}
			var d Date
			if err := json.Unmarshal(val, &d); err != nil {
				return p, invalid("applied_at", "applied_at must be a YYYY-MM-DD date")
			}
			if err := validateAppliedAt(&d, a.now()); err != nil {
				return p, err
			}
			p.AppliedAt = &d
		default:
			return p, invalid(key, "unknown field")
		}
	}
	return p, nil
}

func (a *App) HandleUpdateApplication(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var raw map[string]json.RawMessage
	if !decodeJSON(w, r, &raw) {
		return
	}
	patch, err := a.decodePatch(raw)
	if err != nil {
		writeValidationError(w, err)
		return
	}

	acc := currentAccount(r.Context())
	if patch.empty() {
		app, err := a.DB.GetApplication(r.Context(), acc.ID, id)
		if err == nil && app == nil {
			err = errNotFound
		}
		if err != nil {
			a.writeServiceError(w, r, err, "Application")
			return
		}
		a.writeJSON(w, r, http.StatusOK, app)
		return
	}

	app, err := a.DB.UpdateApplication(r.Context(), acc.ID, id, patch)
	if err != nil {
		a.writeServiceError(w, r, err, "Application")
		return
	}
	a.writeJSON(w, r, http.StatusOK, app)
}

func (a *App) HandleDeleteApplication(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := a.DB.DeleteApplication(r.Context(), currentAccount(r.Context()).ID, id); err != nil {
		a.writeServiceError(w, r, err, "Application")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) HandleDashboardSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	acc := currentAccount(ctx)

	counts, err := a.DB.CountApplicationsByStatus(ctx, acc.ID)
	if err != nil {
		a.writeServiceError(w, r, err, "Application")
		return
	}
	recent, err := a.DB.RecentFollowUps(ctx, acc.ID, recentFollowUps)
	if err != nil {
		a.writeServiceError(w, r, err, "Follow-up")
		return
	}

	summary := DashboardSummary{
		CountsByStatus:  make(map[ApplicationStatus]int, len(applicationStatuses)),
		RecentFollowUps: recent,
	}
	for _, s := range applicationStatuses {
		summary.CountsByStatus[s] = counts[s]
	}
	a.writeJSON(w, r, http.StatusOK, summary)
}

// Follow-ups

func (a *App) HandleCreateFollowUp(w http.ResponseWriter, r *http.Request) {
	var in followUpRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	if in.ApplicationID <= 0 {
		writeValidationError(w, invalid("application_id", "application_id must be a positive integer"))
		return
	}
	note, err := boundedText("note", in.Note, maxFollowUpNote)
	if err != nil {
		writeValidationError(w, err)
		return
	}

	acc := currentAccount(r.Context())
	f, err := a.DB.CreateFollowUp(r.Context(), acc.ID, in.ApplicationID, note)
	if err != nil {
		a.writeServiceError(w, r, err, "Application")
		return
	}
	logger.With(r.Context(), a.log).Debug("follow-up created",
		zap.Int64("followup_id", f.ID),
		zap.Int64("application_id", f.ApplicationID),
	)
	a.writeJSON(w, r, http.StatusCreated, f)
}

func (a *App) HandleListFollowUps(w http.ResponseWriter, r *http.Request) {
	appID, ok := parseID(r.URL.Query().Get("application_id"))
	if !ok {
		writeValidationError(w, invalid("application_id", "application_id must be a positive integer"))
		return
	}
	ctx := r.Context()
	acc := currentAccount(ctx)

	app, err := a.DB.GetApplication(ctx, acc.ID, appID)
	if err == nil && app == nil {
		err = errNotFound
	}
	if err != nil {
		a.writeServiceError(w, r, err, "Application")
		return
	}
	followups, err := a.DB.ListFollowUps(ctx, acc.ID, appID)
	if err != nil {
		a.writeServiceError(w, r, err, "Follow-up")
		return
	}
	a.writeJSON(w, r, http.StatusOK, followups)
}

func (a *App) HandleDeleteFollowUp(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := a.DB.DeleteFollowUp(r.Context(), currentAccount(r.Context()).ID, id); err != nil {
		a.writeServiceError(w, r, err, "Follow-up")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
