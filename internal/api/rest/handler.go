package rest

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	models "github.com/glkeru/loyalty/fuel/internal/models"
	service "github.com/glkeru/loyalty/fuel/internal/services"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const StaffHeader = "X-Staff-ID"

type Services struct {
	Rules        *service.RuleService
	Accounts     *service.AccountService
	Transactions *service.TransactionService
	Reports      *service.ReportService
}

type Handler struct {
	router *mux.Router
	serv   Services
	logger *zap.Logger
	now    func() time.Time
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewHandler(serv Services, logger *zap.Logger) *Handler {
	router := mux.NewRouter()
	h := &Handler{router, serv, logger, time.Now}
	router.Use(MiddlewareLog(logger))

	// касса
	router.HandleFunc("/customers", h.RegisterHandler).Methods(http.MethodPost)
	router.HandleFunc("/accounts", h.LocateHandler).Methods(http.MethodGet)
	router.HandleFunc("/accounts/history", h.HistoryHandler).Methods(http.MethodGet)
	router.HandleFunc("/transactions/quote", h.QuoteHandler).Methods(http.MethodPost)
	router.HandleFunc("/transactions", h.SettleHandler).Methods(http.MethodPost)

	// администратор
	router.HandleFunc("/transactions", h.TransactionsHandler).Methods(http.MethodGet)
	router.HandleFunc("/customers", h.CustomersHandler).Methods(http.MethodGet)
	router.HandleFunc("/analytics", h.AnalyticsHandler).Methods(http.MethodGet)
	router.HandleFunc("/rules", h.GetAllRulesHandler).Methods(http.MethodGet)
	router.HandleFunc("/rules/active", h.GetActiveRuleHandler).Methods(http.MethodGet)
	router.HandleFunc("/rule/{id}", h.GetRuleHandler).Methods(http.MethodGet)
	router.HandleFunc("/rule", h.SaveRuleHandler).Methods(http.MethodPost)

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h.router.ServeHTTP(w, req)
}

func (h *Handler) Log(msg string, service string, err error) {
	h.logger.Error(msg,
		zap.String("service", service),
		zap.Error(err),
	)
}

// тело запроса
func readJSON(req *http.Request, v any) error {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return err
	}
	defer req.Body.Close()
	if len(body) == 0 {
		return errors.New("body is empty")
	}
	return json.Unmarshal(body, v)
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, v any, service string) {
	j, err := json.Marshal(v)
	if err != nil {
		h.Log("Marshal", service, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(j)
}

// статус по виду ошибки
func StatusOf(err error) int {
	switch {
	case errors.IsAny(err, models.ErrAccountNotFound, models.ErrNotFound):
		return http.StatusNotFound
	case errors.IsAny(err, models.ErrDuplicateVehicle, models.ErrLedgerWriteConflict):
		return http.StatusConflict
	case errors.Is(err, models.ErrRuleNotConfigured):
		return http.StatusPreconditionFailed
	case models.IsUserError(err), errors.IsAny(err, models.ErrInvalidRule, models.ErrNegativeFinalAmount):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, err error, service string) {
	code := StatusOf(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		h.Log("Request failed", service, err)
		msg = "internal error"
	}
	h.writeJSON(w, code, errorResponse{msg}, service)
}

func (h *Handler) badRequest(w http.ResponseWriter, err error, service string) {
	h.logger.Info("Bad request", zap.String("service", service), zap.Error(err))
	h.writeJSON(w, http.StatusBadRequest, errorResponse{"body is not correct: " + err.Error()}, service)
}

// период из параметров from/to (YYYY-MM-DD), to включительно
func parsePeriod(req *http.Request) (from time.Time, to time.Time, err error) {
	q := req.URL.Query()
	if v := q.Get("from"); v != "" {
		from, err = time.Parse(time.DateOnly, v)
		if err != nil {
			return from, to, errors.Wrapf(models.ErrInvalidPurchase, "date from %q", v)
		}
	}
	if v := q.Get("to"); v != "" {
		to, err = time.Parse(time.DateOnly, v)
		if err != nil {
			return from, to, errors.Wrapf(models.ErrInvalidPurchase, "date to %q", v)
		}
		to = to.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return from, to, nil
}
