package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"wasmscan/internal/compute"
	"wasmscan/internal/models"
)

type createWebhookRequest struct {
	FormulaType   string            `json:"formula_type"`
	TargetAddress string            `json:"target_address"`
	Formula       string            `json:"formula"`
	Args          map[string]string `json:"args"`
	URL           string            `json:"url"`
	Secret        string            `json:"secret"`
}

func (s *Server) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	acct := accountFrom(r.Context())

	var req createWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	formula, err := s.registry.Get(compute.FormulaType(req.FormulaType), req.Formula)
	if err != nil {
		writeComputeError(w, err)
		return
	}
	if formula.Dynamic {
		writeAPIError(w, http.StatusBadRequest, "dynamic formulas cannot be monitored")
		return
	}

	target := strings.TrimSpace(req.TargetAddress)
	if formula.Type == compute.FormulaTypeGeneric {
		target = compute.GenericTarget
	} else if target == "" {
		writeAPIError(w, http.StatusBadRequest, "target_address is required")
		return
	}

	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		writeAPIError(w, http.StatusBadRequest, "url must be http or https")
		return
	}

	secret := req.Secret
	if secret == "" {
		if secret, err = newAPIKey(); err != nil {
			writeAPIError(w, http.StatusInternalServerError, "internal error")
			return
		}
	}

	sub := &models.WebhookSubscription{
		ID:            uuid.NewString(),
		AccountID:     acct.ID,
		FormulaType:   req.FormulaType,
		TargetAddress: target,
		Formula:       formula.ID(),
		Args:          compute.CanonicalArgs(req.Args),
		URL:           req.URL,
		Secret:        secret,
		Active:        true,
	}
	if err := s.webhooks.CreateWebhookSubscription(r.Context(), sub); err != nil {
		writeAPIError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeAPIResponse(w, map[string]interface{}{
		"subscription": sub,
		"secret":       secret,
	}, nil, nil)
}

func (s *Server) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	acct := accountFrom(r.Context())
	subs, err := s.webhooks.ListWebhookSubscriptionsByAccount(r.Context(), acct.ID)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if subs == nil {
		subs = []*models.WebhookSubscription{}
	}
	writeAPIResponse(w, subs, map[string]interface{}{"count": len(subs)}, nil)
}

func (s *Server) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	acct := accountFrom(r.Context())
	ok, err := s.webhooks.DeleteWebhookSubscription(r.Context(), mux.Vars(r)["id"], acct.ID)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeAPIError(w, http.StatusNotFound, "subscription not found")
		return
	}
	writeAPIResponse(w, map[string]bool{"deleted": true}, nil, nil)
}

type setWebhookActiveRequest struct {
	Active bool `json:"active"`
}

func (s *Server) handleSetWebhookActive(w http.ResponseWriter, r *http.Request) {
	acct := accountFrom(r.Context())

	var req setWebhookActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ok, err := s.webhooks.SetWebhookSubscriptionActive(r.Context(), mux.Vars(r)["id"], acct.ID, req.Active)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeAPIError(w, http.StatusNotFound, "subscription not found")
		return
	}
	writeAPIResponse(w, map[string]bool{"active": req.Active}, nil, nil)
}
