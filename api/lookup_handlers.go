package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"sip/core"
)

type valueRequest struct {
	Value string `json:"value" validate:"required"`
}

type nameRequest struct {
	Name string `json:"name" validate:"required"`
}

// valueRoutes registers the CRUD routes for one of the simple value tables.
func (a *API) valueRoutes(prefix string, kind core.LookupKind) {
	a.router.HandleFunc(prefix, func(w http.ResponseWriter, r *http.Request) {
		values, err := a.lookups.ListValues(r.Context(), kind)
		if err != nil {
			a.writeDomainError(w, err)
			return
		}
		a.respondJSON(w, values, http.StatusOK)
	}).Methods("GET")

	a.router.HandleFunc(prefix, func(w http.ResponseWriter, r *http.Request) {
		var req valueRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err, a.logger)
			return
		}
		if err := a.validate.Struct(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Validation failed: "+err.Error(), nil, a.logger)
			return
		}
		value, err := a.lookups.CreateValue(r.Context(), kind, req.Value)
		if err != nil {
			a.writeDomainError(w, err)
			return
		}
		a.respondJSON(w, value, http.StatusCreated)
	}).Methods("POST")

	a.router.HandleFunc(prefix+"/{id:[0-9]+}", func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), nil, a.logger)
			return
		}
		value, err := a.lookups.GetValue(r.Context(), kind, id)
		if err != nil {
			a.writeDomainError(w, err)
			return
		}
		a.respondJSON(w, value, http.StatusOK)
	}).Methods("GET")

	a.router.HandleFunc(prefix+"/{id:[0-9]+}", func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), nil, a.logger)
			return
		}
		var req valueRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err, a.logger)
			return
		}
		if err := a.validate.Struct(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Validation failed: "+err.Error(), nil, a.logger)
			return
		}
		value, err := a.lookups.UpdateValue(r.Context(), kind, id, req.Value)
		if err != nil {
			a.writeDomainError(w, err)
			return
		}
		a.respondJSON(w, value, http.StatusOK)
	}).Methods("PUT")

	a.router.HandleFunc(prefix+"/{id:[0-9]+}", func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), nil, a.logger)
			return
		}
		if err := a.lookups.DeleteValue(r.Context(), kind, id); err != nil {
			a.writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}).Methods("DELETE")
}

func (a *API) listCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := a.lookups.ListCampaigns(r.Context())
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	a.respondJSON(w, campaigns, http.StatusOK)
}

func (a *API) createCampaign(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err, a.logger)
		return
	}
	if err := a.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed: "+err.Error(), nil, a.logger)
		return
	}
	campaign, err := a.lookups.CreateCampaign(r.Context(), req.Name)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	a.respondJSON(w, campaign, http.StatusCreated)
}

func (a *API) getCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil, a.logger)
		return
	}
	campaign, err := a.lookups.GetCampaign(r.Context(), id)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	a.respondJSON(w, campaign, http.StatusOK)
}

func (a *API) updateCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil, a.logger)
		return
	}
	var req nameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err, a.logger)
		return
	}
	if err := a.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed: "+err.Error(), nil, a.logger)
		return
	}
	campaign, err := a.lookups.UpdateCampaign(r.Context(), id, req.Name)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	a.respondJSON(w, campaign, http.StatusOK)
}

func (a *API) deleteCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil, a.logger)
		return
	}
	if err := a.lookups.DeleteCampaign(r.Context(), id); err != nil {
		a.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type intelReferenceRequest struct {
	Username  string `json:"username,omitempty"`
	Source    string `json:"source" validate:"required"`
	Reference string `json:"reference" validate:"required"`
}

func (a *API) listIntelReferences(w http.ResponseWriter, r *http.Request) {
	refs, err := a.lookups.ListIntelReferences(r.Context())
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	a.respondJSON(w, refs, http.StatusOK)
}

func (a *API) createIntelReference(w http.ResponseWriter, r *http.Request) {
	var req intelReferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err, a.logger)
		return
	}
	if err := a.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed: "+err.Error(), nil, a.logger)
		return
	}
	spec := core.ReferenceSpec{Source: req.Source, Reference: req.Reference}
	ref, err := a.lookups.CreateIntelReference(r.Context(), spec, req.Username, apiKeyFromRequest(r))
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	a.respondJSON(w, ref, http.StatusCreated)
}

func (a *API) getIntelReference(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil, a.logger)
		return
	}
	ref, err := a.lookups.GetIntelReference(r.Context(), id)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	a.respondJSON(w, ref, http.StatusOK)
}

func (a *API) deleteIntelReference(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil, a.logger)
		return
	}
	if err := a.lookups.DeleteIntelReference(r.Context(), id); err != nil {
		a.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type userRequest struct {
	Username string `json:"username" validate:"required"`
}

type userUpdateRequest struct {
	Active *bool `json:"active" validate:"required"`
}

// userResponse includes the API key, returned only at creation time.
type userResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	APIKey   string `json:"apikey"`
	Active   bool   `json:"active"`
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.lookups.ListUsers(r.Context())
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	a.respondJSON(w, users, http.StatusOK)
}

func (a *API) createUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err, a.logger)
		return
	}
	if err := a.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed: "+err.Error(), nil, a.logger)
		return
	}
	user, err := a.lookups.CreateUser(r.Context(), req.Username)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	a.respondJSON(w, userResponse{
		ID:       user.ID,
		Username: user.Username,
		APIKey:   user.APIKey,
		Active:   user.Active,
	}, http.StatusCreated)
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]
	user, err := a.lookups.GetUser(r.Context(), username)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	a.respondJSON(w, user, http.StatusOK)
}

func (a *API) updateUser(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]
	var req userUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err, a.logger)
		return
	}
	if err := a.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed: "+err.Error(), nil, a.logger)
		return
	}
	if err := a.lookups.SetUserActive(r.Context(), username, *req.Active); err != nil {
		a.writeDomainError(w, err)
		return
	}
	user, err := a.lookups.GetUser(r.Context(), username)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	a.respondJSON(w, user, http.StatusOK)
}

func (a *API) deleteUser(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]
	if err := a.lookups.DeleteUser(r.Context(), username); err != nil {
		a.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
