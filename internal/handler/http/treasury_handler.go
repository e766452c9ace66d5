package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	nethttp "net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"treasury/internal/domain"
	"treasury/internal/port"
)

const CallerHeader = "X-Caller-Address"

type ctxtype string

const (
	callerKey ctxtype = "caller"
)

type TreasuryHandler struct {
	registry  port.RegistryService
	workflow  port.WorkflowService
	query     port.QueryService
	validate  *validator.Validate
	authToken string
	logger    *zap.Logger
}

func NewTreasuryHandler(
	registry port.RegistryService,
	workflow port.WorkflowService,
	query port.QueryService,
	authToken string,
	logger *zap.Logger,
) *TreasuryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TreasuryHandler{
		registry:  registry,
		workflow:  workflow,
		query:     query,
		validate:  validator.New(),
		authToken: authToken,
		logger:    logger,
	}
}

// Routes mounts the API. metrics may be nil.
func (h *TreasuryHandler) Routes(metrics nethttp.Handler) nethttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		writeJSON(w, nethttp.StatusOK, map[string]string{"status": "ok"})
	})
	if metrics != nil {
		r.Method(nethttp.MethodGet, "/metrics", metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(h.authenticate)

		r.Get("/creators/{address}/association", h.lookupAccountNumber)

		r.Route("/associations", func(r chi.Router) {
			r.With(h.requireCaller).Post("/", h.createAssociation)

			r.Route("/{accountNumber}", func(r chi.Router) {
				r.Get("/", h.getAssociation)
				r.Get("/members/{member}/deposit", h.memberDeposit)
				r.Get("/executives/{address}", h.isExecutive)
				r.Get("/withdrawals/{proposer}", h.getRequest)
				r.Get("/withdrawals/{proposer}/confirmations/{confirmer}", h.hasConfirmed)

				r.Group(func(r chi.Router) {
					r.Use(h.requireCaller)
					r.Post("/deposits", h.deposit)
					r.Post("/withdrawals", h.propose)
					r.Post("/withdrawals/{proposer}/confirmations", h.confirm)
					r.Delete("/withdrawals/{proposer}/confirmations", h.revert)
					r.Post("/withdrawals/{proposer}/execute", h.execute)
				})
			})
		})
	})

	return r
}

func (h *TreasuryHandler) authenticate(next nethttp.Handler) nethttp.Handler {
	return nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if h.authToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.authToken)) != 1 {
			h.writeError(w, r, domain.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireCaller reads the caller identity supplied by the hosting
// platform. The identity is trusted as-is; only its format is checked.
func (h *TreasuryHandler) requireCaller(next nethttp.Handler) nethttp.Handler {
	return nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		raw := r.Header.Get(CallerHeader)
		if raw == "" {
			h.writeError(w, r, domain.ErrMissingCaller)
			return
		}
		caller, err := h.parseAddress(raw)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey, caller)))
	})
}

func callerFrom(ctx context.Context) domain.Address {
	caller, _ := ctx.Value(callerKey).(domain.Address)
	return caller
}

func (h *TreasuryHandler) parseAddress(raw string) (domain.Address, error) {
	if err := h.validate.Var(raw, "required,eth_addr"); err != nil {
		return "", domain.ErrInvalidAddress
	}
	return domain.ParseAddress(raw), nil
}

func (h *TreasuryHandler) addressParam(r *nethttp.Request, name string) (domain.Address, error) {
	return h.parseAddress(chi.URLParam(r, name))
}

func accountNumberParam(r *nethttp.Request) (uint64, error) {
	n, err := strconv.ParseUint(chi.URLParam(r, "accountNumber"), 10, 64)
	if err != nil || n == 0 {
		return 0, errBadRequest("invalid account number")
	}
	return n, nil
}

func (h *TreasuryHandler) decode(r *nethttp.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errBadRequest("invalid request body")
	}
	return h.validate.Struct(dst)
}

func (h *TreasuryHandler) createAssociation(w nethttp.ResponseWriter, r *nethttp.Request) {
	var req domain.CreateAssociationReq
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	for i, e := range req.Executives {
		req.Executives[i] = domain.ParseAddress(string(e))
	}

	accountNumber, err := h.registry.CreateAssociation(r.Context(), callerFrom(r.Context()), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, nethttp.StatusCreated, map[string]uint64{"account_number": accountNumber})
}

func (h *TreasuryHandler) lookupAccountNumber(w nethttp.ResponseWriter, r *nethttp.Request) {
	creator, err := h.addressParam(r, "address")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	accountNumber, err := h.registry.LookupAccountNumber(r.Context(), creator)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, nethttp.StatusOK, map[string]uint64{"account_number": accountNumber})
}

func (h *TreasuryHandler) getAssociation(w nethttp.ResponseWriter, r *nethttp.Request) {
	accountNumber, err := accountNumberParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	association, err := h.query.GetAssociation(r.Context(), accountNumber)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, nethttp.StatusOK, newAssociationResponse(association))
}

func (h *TreasuryHandler) isExecutive(w nethttp.ResponseWriter, r *nethttp.Request) {
	accountNumber, err := accountNumberParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	addr, err := h.addressParam(r, "address")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	ok, err := h.registry.IsExecutive(r.Context(), accountNumber, addr)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, nethttp.StatusOK, map[string]bool{"is_executive": ok})
}

func (h *TreasuryHandler) memberDeposit(w nethttp.ResponseWriter, r *nethttp.Request) {
	accountNumber, err := accountNumberParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	member, err := h.addressParam(r, "member")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	total, err := h.query.MemberDeposit(r.Context(), accountNumber, member)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, nethttp.StatusOK, map[string]uint64{"total": total})
}

func (h *TreasuryHandler) getRequest(w nethttp.ResponseWriter, r *nethttp.Request) {
	accountNumber, err := accountNumberParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	proposer, err := h.addressParam(r, "proposer")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	req, err := h.query.GetRequest(r.Context(), accountNumber, proposer)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, nethttp.StatusOK, newRequestResponse(req))
}

func (h *TreasuryHandler) hasConfirmed(w nethttp.ResponseWriter, r *nethttp.Request) {
	accountNumber, err := accountNumberParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	proposer, err := h.addressParam(r, "proposer")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	confirmer, err := h.addressParam(r, "confirmer")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	confirmed, err := h.query.HasConfirmed(r.Context(), accountNumber, proposer, confirmer)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, nethttp.StatusOK, map[string]bool{"confirmed": confirmed})
}

func (h *TreasuryHandler) deposit(w nethttp.ResponseWriter, r *nethttp.Request) {
	accountNumber, err := accountNumberParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req domain.AmountReq
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.workflow.Deposit(r.Context(), accountNumber, callerFrom(r.Context()), req.Amount); err != nil {
		h.writeError(w, r, err)
		return
	}

	balance, err := h.query.Balance(r.Context(), accountNumber)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, nethttp.StatusOK, map[string]uint64{"balance": balance})
}

func (h *TreasuryHandler) propose(w nethttp.ResponseWriter, r *nethttp.Request) {
	accountNumber, err := accountNumberParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req domain.AmountReq
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	withdrawal, err := h.workflow.ProposeWithdrawal(r.Context(), accountNumber, callerFrom(r.Context()), req.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, nethttp.StatusCreated, newRequestResponse(withdrawal))
}

func (h *TreasuryHandler) confirm(w nethttp.ResponseWriter, r *nethttp.Request) {
	h.confirmation(w, r, h.workflow.Confirm)
}

func (h *TreasuryHandler) revert(w nethttp.ResponseWriter, r *nethttp.Request) {
	h.confirmation(w, r, h.workflow.RevertConfirmation)
}

func (h *TreasuryHandler) confirmation(
	w nethttp.ResponseWriter,
	r *nethttp.Request,
	apply func(ctx context.Context, accountNumber uint64, proposer, confirmer domain.Address) error,
) {
	accountNumber, err := accountNumberParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	proposer, err := h.addressParam(r, "proposer")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := apply(r.Context(), accountNumber, proposer, callerFrom(r.Context())); err != nil {
		h.writeError(w, r, err)
		return
	}

	req, err := h.query.GetRequest(r.Context(), accountNumber, proposer)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, nethttp.StatusOK, newRequestResponse(req))
}

func (h *TreasuryHandler) execute(w nethttp.ResponseWriter, r *nethttp.Request) {
	accountNumber, err := accountNumberParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	proposer, err := h.addressParam(r, "proposer")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	executed, err := h.workflow.Execute(r.Context(), accountNumber, callerFrom(r.Context()), proposer)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	balance, err := h.query.Balance(r.Context(), accountNumber)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, nethttp.StatusOK, executeResponse{Executed: executed, Balance: balance})
}

type badRequestError struct {
	msg string
}

func (e badRequestError) Error() string { return e.msg }

func errBadRequest(msg string) error {
	return badRequestError{msg: msg}
}

func statusFor(err error) int {
	var (
		badRequest badRequestError
		invalid    validator.ValidationErrors
	)

	switch {
	case errors.As(err, &badRequest),
		errors.Is(err, domain.ErrMissingCaller),
		errors.Is(err, domain.ErrInvalidAddress):
		return nethttp.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return nethttp.StatusUnauthorized
	case errors.Is(err, domain.ErrNotExecutive),
		errors.Is(err, domain.ErrNotProposer):
		return nethttp.StatusForbidden
	case errors.Is(err, domain.ErrAssociationNotFound),
		errors.Is(err, domain.ErrRequestNotFound):
		return nethttp.StatusNotFound
	case errors.Is(err, domain.ErrDuplicateCreator),
		errors.Is(err, domain.ErrAlreadyExecuted),
		errors.Is(err, domain.ErrAlreadyConfirmed):
		return nethttp.StatusConflict
	case errors.As(err, &invalid),
		errors.Is(err, domain.ErrExecutiveCountMismatch),
		errors.Is(err, domain.ErrInvalidExecutiveAddress),
		errors.Is(err, domain.ErrZeroAmount),
		errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrNotApprovedYet),
		errors.Is(err, domain.ErrBalanceOverflow):
		return nethttp.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrTransferFailed):
		return nethttp.StatusBadGateway
	default:
		return nethttp.StatusInternalServerError
	}
}

func (h *TreasuryHandler) writeError(w nethttp.ResponseWriter, r *nethttp.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == nethttp.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w nethttp.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
