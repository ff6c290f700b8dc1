package rest

import (
	"net/http"

	models "github.com/glkeru/loyalty/fuel/internal/models"
)

// Транзакции с фильтром
func (h *Handler) TransactionsHandler(w http.ResponseWriter, req *http.Request) {
	from, to, err := parsePeriod(req)
	if err != nil {
		h.writeError(w, err, "TransactionsHandler")
		return
	}
	q := req.URL.Query()
	filter := models.TransactionFilter{
		Search:   q.Get("search"),
		FuelType: models.FuelType(q.Get("fuel_type")),
		From:     from,
		To:       to,
	}
	report, err := h.serv.Reports.Transactions(req.Context(), filter)
	if err != nil {
		h.writeError(w, err, "TransactionsHandler")
		return
	}
	h.writeJSON(w, http.StatusOK, report, "TransactionsHandler")
}

// Клиенты
func (h *Handler) CustomersHandler(w http.ResponseWriter, req *http.Request) {
	report, err := h.serv.Reports.Customers(req.Context(), req.URL.Query().Get("search"))
	if err != nil {
		h.writeError(w, err, "CustomersHandler")
		return
	}
	h.writeJSON(w, http.StatusOK, report, "CustomersHandler")
}

// Аналитика
func (h *Handler) AnalyticsHandler(w http.ResponseWriter, req *http.Request) {
	analytics, err := h.serv.Reports.Analytics(req.Context(), h.now())
	if err != nil {
		h.writeError(w, err, "AnalyticsHandler")
		return
	}
	h.writeJSON(w, http.StatusOK, analytics, "AnalyticsHandler")
}
