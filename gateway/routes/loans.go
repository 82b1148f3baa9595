package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"loanchain/core/node"
	"loanchain/crypto"
	"loanchain/gateway/middleware"
	nativecommon "loanchain/native/common"
	"loanchain/native/loans"
	"loanchain/native/oracle"
)

const requestBodyLimit = 1 << 16

var (
	errMissingCaller = errors.New("caller identity required")
	errBadRequest    = errors.New("bad request")
)

type handlers struct {
	svc    LoanService
	logger *slog.Logger
}

type loanView struct {
	ID                  uint64 `json:"id"`
	Owner               string `json:"owner"`
	CollateralOriginal  string `json:"collateralOriginal"`
	CollateralAvailable string `json:"collateralAvailable"`
	LoanBalance         string `json:"loanBalance"`
	Status              string `json:"status"`
	LTV                 uint64 `json:"ltv,omitempty"`
}

func newLoanView(loan *loans.Loan) loanView {
	view := loanView{
		ID:                  uint64(loan.ID),
		Owner:               loan.Owner.String(),
		CollateralOriginal:  amountString(loan.CollateralOriginal),
		CollateralAvailable: amountString(loan.CollateralAvailable),
		LoanBalance:         amountString(loan.LoanBalance),
		Status:              "well",
	}
	switch status := loan.Status.(type) {
	case loans.Warning:
		view.Status = "warning"
		view.LTV = status.LTV
	case loans.Liquidating:
		view.Status = "liquidating"
		view.LTV = status.LTV
	}
	return view
}

type statsView struct {
	Height          uint64     `json:"height"`
	Paused          bool       `json:"paused"`
	Price           uint64     `json:"price"`
	TotalLoan       string     `json:"totalLoan"`
	TotalCollateral string     `json:"totalCollateral"`
	Liquidating     []uint64   `json:"liquidating"`
	InterestRate    string     `json:"interestRate"`
	LastAccrual     int64      `json:"lastAccrual"`
	Assets          []string   `json:"assets"`
	Params          paramsView `json:"params"`
}

type paramsView struct {
	Admin                string `json:"admin"`
	CollateralAsset      string `json:"collateralAsset"`
	LoanAsset            string `json:"loanAsset"`
	ProfitAsset          string `json:"profitAsset"`
	CollectionAsset      string `json:"collectionAsset"`
	CustodialPool        string `json:"custodialPool"`
	ProfitPool           string `json:"profitPool"`
	CollectionAccount    string `json:"collectionAccount"`
	SettlementAccount    string `json:"settlementAccount"`
	GlobalLTVLimit       uint64 `json:"globalLtvLimit"`
	WarningThreshold     uint64 `json:"warningThreshold"`
	LiquidationThreshold uint64 `json:"liquidationThreshold"`
	PenaltyRate          uint64 `json:"penaltyRate"`
	MinimumCollateral    string `json:"minimumCollateral"`
	LoanCap              string `json:"loanCap"`
	InterestPeriod       int64  `json:"interestPeriod"`
}

func newStatsView(stats node.Stats) statsView {
	liquidating := make([]uint64, 0, len(stats.Liquidating))
	for _, id := range stats.Liquidating {
		liquidating = append(liquidating, uint64(id))
	}
	p := stats.Params
	return statsView{
		Height:          stats.Height,
		Paused:          stats.Paused,
		Price:           stats.Price,
		TotalLoan:       amountString(stats.Totals.Loan),
		TotalCollateral: amountString(stats.Totals.Collateral),
		Liquidating:     liquidating,
		InterestRate:    amountString(stats.Interest.CurrentRate),
		LastAccrual:     stats.Interest.LastAccrual,
		Assets:          stats.Assets,
		Params: paramsView{
			Admin:                p.Admin.String(),
			CollateralAsset:      p.CollateralAsset,
			LoanAsset:            p.LoanAsset,
			ProfitAsset:          p.ProfitAsset,
			CollectionAsset:      p.CollectionAsset,
			CustodialPool:        p.CustodialPool.String(),
			ProfitPool:           p.ProfitPool.String(),
			CollectionAccount:    p.CollectionAccount.String(),
			SettlementAccount:    p.SettlementAccount.String(),
			GlobalLTVLimit:       p.GlobalLTVLimit,
			WarningThreshold:     p.WarningThreshold,
			LiquidationThreshold: p.LiquidationThreshold,
			PenaltyRate:          p.PenaltyRate,
			MinimumCollateral:    amountString(p.MinimumCollateral),
			LoanCap:              amountString(p.LoanCap),
			InterestPeriod:       p.InterestPeriod,
		},
	}
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

type applyRequest struct {
	Collateral string `json:"collateral"`
	Loan       string `json:"loan"`
}

type amountRequest struct {
	Amount string `json:"amount"`
}

type liquidateRequest struct {
	Auction string `json:"auction"`
}

type paramRequest struct {
	Value string `json:"value"`
}

type priceRequest struct {
	Price uint64 `json:"price"`
}

func (h *handlers) apply(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req applyRequest
	if !h.decode(w, r, &req) {
		return
	}
	collateral, err := parseAmount("collateral", req.Collateral, true)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	loanAmount, err := parseAmount("loan", req.Loan, true)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	loan, err := h.svc.Apply(caller, collateral, loanAmount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newLoanView(loan))
}

func (h *handlers) getLoan(w http.ResponseWriter, r *http.Request) {
	id, ok := loanID(w, r)
	if !ok {
		return
	}
	loan, err := h.svc.Loan(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newLoanView(loan))
}

func (h *handlers) repay(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := loanID(w, r)
	if !ok {
		return
	}
	loan, err := h.svc.Repay(caller, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newLoanView(loan))
}

func (h *handlers) addCollateral(w http.ResponseWriter, r *http.Request) {
	h.amountOp(w, r, h.svc.AddCollateral)
}

func (h *handlers) draw(w http.ResponseWriter, r *http.Request) {
	h.amountOp(w, r, h.svc.Draw)
}

func (h *handlers) amountOp(w http.ResponseWriter, r *http.Request, op func(crypto.Address, loans.LoanID, *big.Int) (*loans.Loan, error)) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := loanID(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, err := parseAmount("amount", req.Amount, false)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	loan, err := op(caller, id, amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newLoanView(loan))
}

func (h *handlers) liquidate(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := loanID(w, r)
	if !ok {
		return
	}
	var req liquidateRequest
	if !h.decode(w, r, &req) {
		return
	}
	auction, err := parseAmount("auction", req.Auction, false)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	loan, err := h.svc.MarkLiquidated(caller, id, auction)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newLoanView(loan))
}

func (h *handlers) loansByOwner(w http.ResponseWriter, r *http.Request) {
	owner, err := crypto.DecodeAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Errorf("invalid address: %w", err))
		return
	}
	owned, err := h.svc.LoansByOwner(owner)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	views := make([]loanView, 0, len(owned))
	for _, loan := range owned {
		views = append(views, newLoanView(loan))
	}
	writeJSON(w, http.StatusOK, map[string]any{"loans": views})
}

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newStatsView(stats))
}

func (h *handlers) events(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeJSONError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = parsed
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": h.svc.Events(limit)})
}

func (h *handlers) pause(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, h.svc.Pause, true)
}

func (h *handlers) resume(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, h.svc.Resume, false)
}

func (h *handlers) toggle(w http.ResponseWriter, r *http.Request, op func(crypto.Address) error, paused bool) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	if err := op(caller); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": paused})
}

func (h *handlers) setParam(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req paramRequest
	if !h.decode(w, r, &req) {
		return
	}
	name := chi.URLParam(r, "name")
	if err := h.svc.SetParam(caller, name, req.Value); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": name, "value": req.Value})
}

func (h *handlers) submitPrice(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req priceRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.SubmitPrice(caller, req.Price); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]uint64{"price": req.Price})
}

func (h *handlers) latestPrice(w http.ResponseWriter, r *http.Request) {
	quote, err := h.svc.LatestQuote()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"price":     quote.Price,
		"operator":  quote.Operator.String(),
		"timestamp": quote.Timestamp,
	})
}

func (h *handlers) caller(w http.ResponseWriter, r *http.Request) (crypto.Address, bool) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, errMissingCaller)
		return crypto.Address{}, false
	}
	return caller, true
}

func (h *handlers) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, requestBodyLimit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Errorf("%w: %v", errBadRequest, err))
		return false
	}
	return true
}

func loanID(w http.ResponseWriter, r *http.Request) (loans.LoanID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		writeJSONError(w, http.StatusBadRequest, fmt.Errorf("invalid loan id %q", raw))
		return 0, false
	}
	return loans.LoanID(id), true
}

func parseAmount(field, raw string, allowEmpty bool) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		if allowEmpty {
			return big.NewInt(0), nil
		}
		return nil, fmt.Errorf("%s is required", field)
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid %s %q", field, raw)
	}
	return amount, nil
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, loans.ErrLoanNotFound), errors.Is(err, node.ErrUnknownParam):
		return http.StatusNotFound
	case errors.Is(err, loans.ErrUnauthorized), errors.Is(err, loans.ErrNotOwner), errors.Is(err, oracle.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, nativecommon.ErrModulePaused), errors.Is(err, loans.ErrPriceUnavailable), errors.Is(err, oracle.ErrNoPrice):
		return http.StatusServiceUnavailable
	case errors.Is(err, loans.ErrInvalidAmount),
		errors.Is(err, loans.ErrInvalidParameter),
		errors.Is(err, loans.ErrInvalidCollateralLoanAmounts),
		errors.Is(err, loans.ErrUnknownAsset),
		errors.Is(err, oracle.ErrInvalidPrice):
		return http.StatusBadRequest
	case errors.Is(err, loans.ErrReachLoanCap),
		errors.Is(err, loans.ErrOverLTVLimit),
		errors.Is(err, loans.ErrInsufficientBalance),
		errors.Is(err, loans.ErrInsufficientCredit),
		errors.Is(err, loans.ErrLoanInLiquidation),
		errors.Is(err, loans.ErrLoanNotInLiquidation),
		errors.Is(err, loans.ErrCollateralBelowMinimum),
		errors.Is(err, loans.ErrZeroCollateralValue):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
			slog.String("route", r.URL.Path),
			slog.Any("error", err))
		writeJSONError(w, status, errors.New(http.StatusText(status)))
		return
	}
	writeJSONError(w, status, err)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	message := strings.TrimSpace(err.Error())
	if message == "" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": message})
}
