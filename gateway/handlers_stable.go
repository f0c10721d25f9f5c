package gateway

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"

	"greenledger/crypto"
	"greenledger/native/collateral"
	nativecommon "greenledger/native/common"
	"greenledger/native/stable"
)

type amountRequest struct {
	AssetID string `json:"assetId"`
	Amount  string `json:"amount"`
}

type liquidateRequest struct {
	AssetID    string `json:"assetId"`
	Owner      string `json:"owner"`
	DebtAmount string `json:"debtAmount"`
}

func decodeBody(r *http.Request, out interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func parseAmountField(s string) (*big.Int, bool) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() <= 0 {
		return nil, false
	}
	return v, true
}

// stableStatus maps engine errors onto HTTP statuses.
func stableStatus(err error) int {
	switch {
	case errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, collateral.ErrAssetNotFound):
		return http.StatusNotFound
	case errors.Is(err, stable.ErrAssetInactive),
		errors.Is(err, stable.ErrUndercollateralized),
		errors.Is(err, stable.ErrPriceStale),
		errors.Is(err, stable.ErrNoDebt),
		errors.Is(err, stable.ErrRepayExceedsDebt),
		errors.Is(err, stable.ErrExceedsPositionDebt),
		errors.Is(err, stable.ErrNotLiquidatable),
		errors.Is(err, stable.ErrInsufficientFees):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	amount, ok := parseAmountField(req.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "amount must be a positive integer")
		return
	}
	if err := s.stable.DepositCollateral(caller, req.AssetID, amount); err != nil {
		s.logger.Warn("deposit rejected", "asset", req.AssetID, "err", err)
		writeError(w, stableStatus(err), err.Error())
		return
	}
	s.stableMetrics.Deposits.Inc()
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	amount, ok := parseAmountField(req.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "amount must be a positive integer")
		return
	}
	if err := s.stable.WithdrawCollateral(caller, req.AssetID, amount); err != nil {
		s.logger.Warn("withdraw rejected", "asset", req.AssetID, "err", err)
		writeError(w, stableStatus(err), err.Error())
		return
	}
	s.stableMetrics.Withdrawals.Inc()
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	amount, ok := parseAmountField(req.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "amount must be a positive integer")
		return
	}
	if err := s.stable.Mint(caller, req.AssetID, amount); err != nil {
		s.logger.Warn("mint rejected", "asset", req.AssetID, "err", err)
		writeError(w, stableStatus(err), err.Error())
		return
	}
	s.stableMetrics.Mints.Inc()
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	amount, ok := parseAmountField(req.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "amount must be a positive integer")
		return
	}
	if err := s.stable.Repay(caller, req.AssetID, amount); err != nil {
		s.logger.Warn("repay rejected", "asset", req.AssetID, "err", err)
		writeError(w, stableStatus(err), err.Error())
		return
	}
	s.stableMetrics.Repays.Inc()
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	var req liquidateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	owner, err := crypto.DecodeAddress(req.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, "owner is not a valid address")
		return
	}
	amount, ok := parseAmountField(req.DebtAmount)
	if !ok {
		writeError(w, http.StatusBadRequest, "debtAmount must be a positive integer")
		return
	}
	repaid, seized, err := s.stable.Liquidate(caller, owner, req.AssetID, amount)
	if err != nil {
		s.logger.Warn("liquidation rejected", "asset", req.AssetID, "owner", req.Owner, "err", err)
		writeError(w, stableStatus(err), err.Error())
		return
	}
	s.stableMetrics.Liquidations.Inc()
	writeJSON(w, http.StatusOK, map[string]string{
		"debtRepaid":     repaid.String(),
		"collateralPaid": seized.String(),
	})
}

type positionResponse struct {
	Owner      string `json:"owner"`
	AssetID    string `json:"assetId"`
	Collateral string `json:"collateral"`
	Debt       string `json:"debt"`
	Active     bool   `json:"active"`
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.DecodeAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	position, err := s.stable.Position(addr, chi.URLParam(r, "assetID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, positionResponse{
		Owner:      position.Owner.String(),
		AssetID:    position.AssetID,
		Collateral: position.Collateral.String(),
		Debt:       position.Debt.String(),
		Active:     position.Active,
	})
}

type assetResponse struct {
	ID                      string `json:"id"`
	Type                    string `json:"type"`
	CollateralRatioBps      uint64 `json:"collateralRatioBps"`
	LiquidationThresholdBps uint64 `json:"liquidationThresholdBps"`
	PriceSource             string `json:"priceSource"`
	Active                  bool   `json:"active"`
	TotalDeposited          string `json:"totalDeposited"`
	TotalBorrowed           string `json:"totalBorrowed"`
	LastPriceUpdate         int64  `json:"lastPriceUpdate"`
}

func toAssetResponse(asset *collateral.Asset) assetResponse {
	return assetResponse{
		ID:                      asset.ID,
		Type:                    string(asset.Type),
		CollateralRatioBps:      asset.CollateralRatioBps,
		LiquidationThresholdBps: asset.LiquidationThresholdBps,
		PriceSource:             asset.PriceSource,
		Active:                  asset.Active,
		TotalDeposited:          asset.TotalDeposited.String(),
		TotalBorrowed:           asset.TotalBorrowed.String(),
		LastPriceUpdate:         asset.LastPriceUpdate,
	}
}

func (s *Server) handleListAssets(w http.ResponseWriter, _ *http.Request) {
	assets, err := s.registry.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]assetResponse, 0, len(assets))
	for _, asset := range assets {
		out = append(out, toAssetResponse(asset))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	asset, err := s.registry.Get(chi.URLParam(r, "assetID"))
	if err != nil {
		if errors.Is(err, collateral.ErrAssetNotFound) {
			writeError(w, http.StatusNotFound, "asset not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toAssetResponse(asset))
}

func (s *Server) handleAssetAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := s.registry.AuditTrail(chi.URLParam(r, "assetID"))
	if err != nil {
		if errors.Is(err, collateral.ErrAssetNotFound) {
			writeError(w, http.StatusNotFound, "asset not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
