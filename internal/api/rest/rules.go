package rest

import (
	"net/http"

	models "github.com/glkeru/loyalty/fuel/internal/models"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// Получить активное правило
func (h *Handler) GetActiveRuleHandler(w http.ResponseWriter, req *http.Request) {
	rule, err := h.serv.Rules.Active(req.Context())
	if err != nil {
		h.writeError(w, err, "GetActiveRuleHandler")
		return
	}
	h.writeJSON(w, http.StatusOK, rule, "GetActiveRuleHandler")
}

// Получить все правила
func (h *Handler) GetAllRulesHandler(w http.ResponseWriter, req *http.Request) {
	rules, err := h.serv.Rules.All(req.Context())
	if err != nil {
		h.writeError(w, err, "GetAllRulesHandler")
		return
	}
	if rules == nil {
		rules = []models.LoyaltyRule{}
	}
	h.writeJSON(w, http.StatusOK, rules, "GetAllRulesHandler")
}

// Получить правило
func (h *Handler) GetRuleHandler(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	id, err := uuid.Parse(vars["id"])
	if err != nil {
		h.writeJSON(w, http.StatusNotFound, errorResponse{"rule not found"}, "GetRuleHandler")
		return
	}
	rule, err := h.serv.Rules.Get(req.Context(), id)
	if err != nil {
		h.writeError(w, err, "GetRuleHandler")
		return
	}
	h.writeJSON(w, http.StatusOK, rule, "GetRuleHandler")
}

// Создать/обновить правило
func (h *Handler) SaveRuleHandler(w http.ResponseWriter, req *http.Request) {
	var rule models.LoyaltyRule
	if err := readJSON(req, &rule); err != nil {
		h.badRequest(w, err, "SaveRuleHandler")
		return
	}
	saved, err := h.serv.Rules.Save(req.Context(), rule)
	if err != nil {
		h.writeError(w, err, "SaveRuleHandler")
		return
	}
	h.writeJSON(w, http.StatusOK, saved, "SaveRuleHandler")
}
