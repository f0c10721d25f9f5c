package gateway

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"greenledger/crypto"
	"greenledger/native/collateral"
)

type registerAssetRequest struct {
	ID                      string `json:"id"`
	Type                    string `json:"type"`
	CollateralRatioBps      uint64 `json:"collateralRatioBps"`
	LiquidationThresholdBps uint64 `json:"liquidationThresholdBps"`
	PriceSource             string `json:"priceSource"`
}

type assetStatusRequest struct {
	Active bool `json:"active"`
}

type validatorRequest struct {
	Address string `json:"address"`
}

type thresholdRequest struct {
	Threshold uint64 `json:"threshold"`
}

type pauseRequest struct {
	Module string `json:"module"`
	Paused bool   `json:"paused"`
}

type withdrawFeesRequest struct {
	AssetID   string `json:"assetId"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

func (s *Server) handleRegisterAsset(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	var req registerAssetRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	assetType, err := collateral.ParseAssetType(req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	asset := &collateral.Asset{
		ID:                      req.ID,
		Type:                    assetType,
		CollateralRatioBps:      req.CollateralRatioBps,
		LiquidationThresholdBps: req.LiquidationThresholdBps,
		PriceSource:             req.PriceSource,
	}
	if err := s.registry.Register(caller.String(), asset); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, collateral.ErrAssetExists) {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "registered"})
}

func (s *Server) handleSetAssetStatus(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	var req assetStatusRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	assetID := chi.URLParam(r, "assetID")
	if err := s.registry.SetActive(caller.String(), assetID, req.Active); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, collateral.ErrAssetNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleAddValidator(w http.ResponseWriter, r *http.Request) {
	var req validatorRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	addr, err := crypto.DecodeAddress(req.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid validator address")
		return
	}
	if err := s.bridge.Validators().Add(addr); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "added"})
}

func (s *Server) handleRemoveValidator(w http.ResponseWriter, r *http.Request) {
	var req validatorRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	addr, err := crypto.DecodeAddress(req.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid validator address")
		return
	}
	if err := s.bridge.Validators().Remove(addr); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (s *Server) handleSetThreshold(w http.ResponseWriter, r *http.Request) {
	var req thresholdRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := s.bridge.Validators().SetThreshold(req.Threshold); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Module != "stable" && req.Module != "bridge" {
		writeError(w, http.StatusBadRequest, "module must be stable or bridge")
		return
	}
	if err := s.pauses.SetPaused(req.Module, req.Paused); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("module pause toggled", "module", req.Module, "paused", req.Paused)
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleForceCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	txID, ok := parseTxID(req.TxID)
	if !ok {
		writeError(w, http.StatusBadRequest, "txId must be 32 hex-encoded bytes")
		return
	}
	tx, err := s.bridge.ForceCancel(txID, req.Reason)
	if err != nil {
		writeError(w, bridgeStatus(err), err.Error())
		return
	}
	s.bridgeMetrics.Cancelled.Inc()
	s.bridgeMetrics.PendingTxs.Dec()
	writeJSON(w, http.StatusOK, toBridgeTxResponse(tx))
}

func (s *Server) handleWithdrawFees(w http.ResponseWriter, r *http.Request) {
	var req withdrawFeesRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	recipient, err := crypto.DecodeAddress(req.Recipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid recipient address")
		return
	}
	amount, ok := parseAmountField(req.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "amount must be a positive integer")
		return
	}
	withdrawn, err := s.stable.WithdrawProtocolFees(recipient, req.AssetID, amount)
	if err != nil {
		writeError(w, stableStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"withdrawn": withdrawn.String()})
}
