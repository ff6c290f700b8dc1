package rest

import (
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	models "github.com/glkeru/loyalty/fuel/internal/models"
	"github.com/google/uuid"
)

// Регистрация клиента и автомобиля
func (h *Handler) RegisterHandler(w http.ResponseWriter, req *http.Request) {
	var reg models.Registration
	if err := readJSON(req, &reg); err != nil {
		h.badRequest(w, err, "RegisterHandler")
		return
	}
	result, err := h.serv.Accounts.Register(req.Context(), reg)
	if err != nil {
		h.writeError(w, err, "RegisterHandler")
		return
	}
	h.writeJSON(w, http.StatusCreated, result, "RegisterHandler")
}

// Поиск клиента по телефону и номеру автомобиля
func (h *Handler) LocateHandler(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	account, err := h.serv.Accounts.Locate(req.Context(), q.Get("mobile"), q.Get("vehicle"))
	if err != nil {
		h.writeError(w, err, "LocateHandler")
		return
	}
	h.writeJSON(w, http.StatusOK, account, "LocateHandler")
}

// История транзакций счета
func (h *Handler) HistoryHandler(w http.ResponseWriter, req *http.Request) {
	from, to, err := parsePeriod(req)
	if err != nil {
		h.writeError(w, err, "HistoryHandler")
		return
	}
	q := req.URL.Query()
	tnxs, err := h.serv.Transactions.History(req.Context(), q.Get("mobile"), q.Get("vehicle"), from, to)
	if err != nil {
		h.writeError(w, err, "HistoryHandler")
		return
	}
	if tnxs == nil {
		tnxs = []models.Transaction{}
	}
	h.writeJSON(w, http.StatusOK, tnxs, "HistoryHandler")
}

// запрос расчета, кассир из заголовка
func (h *Handler) settleRequest(req *http.Request) (models.SettleRequest, error) {
	var sr models.SettleRequest
	if err := readJSON(req, &sr); err != nil {
		return sr, err
	}
	if staff := strings.TrimSpace(req.Header.Get(StaffHeader)); staff != "" {
		id, err := uuid.Parse(staff)
		if err != nil {
			return sr, errors.Wrapf(models.ErrInvalidPurchase, "header %s is not a valid id", StaffHeader)
		}
		sr.StaffID = id
	}
	return sr, nil
}

// Итог покупки без проведения
func (h *Handler) QuoteHandler(w http.ResponseWriter, req *http.Request) {
	sr, err := h.settleRequest(req)
	if err != nil {
		if errors.Is(err, models.ErrInvalidPurchase) {
			h.writeError(w, err, "QuoteHandler")
			return
		}
		h.badRequest(w, err, "QuoteHandler")
		return
	}
	receipt, err := h.serv.Transactions.Quote(req.Context(), sr)
	if err != nil {
		h.writeError(w, err, "QuoteHandler")
		return
	}
	h.writeJSON(w, http.StatusOK, receipt, "QuoteHandler")
}

// Проведение покупки
func (h *Handler) SettleHandler(w http.ResponseWriter, req *http.Request) {
	sr, err := h.settleRequest(req)
	if err != nil {
		if errors.Is(err, models.ErrInvalidPurchase) {
			h.writeError(w, err, "SettleHandler")
			return
		}
		h.badRequest(w, err, "SettleHandler")
		return
	}
	receipt, err := h.serv.Transactions.Settle(req.Context(), sr)
	if err != nil {
		h.writeError(w, err, "SettleHandler")
		return
	}
	h.writeJSON(w, http.StatusCreated, receipt, "SettleHandler")
}
