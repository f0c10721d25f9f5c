package gateway

import (
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"greenledger/native/bridge"
	nativecommon "greenledger/native/common"
	"greenledger/native/oracle"
)

type initiateRequest struct {
	SourceToken string `json:"sourceToken"`
	TargetToken string `json:"targetToken"`
	TargetChain string `json:"targetChain"`
	Recipient   string `json:"recipient"`
	Amount      string `json:"amount"`
}

type attestationPayload struct {
	Domain    string `json:"domain"`
	Signature string `json:"signature"`
}

type completeRequest struct {
	TxID         string               `json:"txId"`
	Attestations []attestationPayload `json:"attestations"`
}

type cancelRequest struct {
	TxID   string `json:"txId"`
	Reason string `json:"reason"`
}

type bridgeTxResponse struct {
	TxID         string `json:"txId"`
	Sender       string `json:"sender"`
	SourceToken  string `json:"sourceToken"`
	TargetToken  string `json:"targetToken"`
	Amount       string `json:"amount"`
	TargetChain  string `json:"targetChain"`
	Recipient    string `json:"recipient"`
	Status       string `json:"status"`
	InitiatedAt  int64  `json:"initiatedAt"`
	CompletedAt  int64  `json:"completedAt"`
	CancelReason string `json:"cancelReason,omitempty"`
	Approvals    int    `json:"approvals"`
}

func toBridgeTxResponse(tx *bridge.Transaction) bridgeTxResponse {
	return bridgeTxResponse{
		TxID:         hex.EncodeToString(tx.TxID[:]),
		Sender:       tx.Sender.String(),
		SourceToken:  tx.SourceToken,
		TargetToken:  tx.TargetToken,
		Amount:       tx.Amount.String(),
		TargetChain:  tx.TargetChain,
		Recipient:    tx.Recipient,
		Status:       string(tx.Status),
		InitiatedAt:  tx.InitiatedAt,
		CompletedAt:  tx.CompletedAt,
		CancelReason: tx.CancelReason,
		Approvals:    len(tx.Approvals),
	}
}

func parseTxID(s string) ([32]byte, bool) {
	var id [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 32 {
		return id, false
	}
	copy(id[:], raw)
	return id, true
}

func bridgeStatus(err error) int {
	switch {
	case errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, bridge.ErrTxNotFound):
		return http.StatusNotFound
	case errors.Is(err, bridge.ErrTxNotPending),
		errors.Is(err, bridge.ErrSettlementDelay),
		errors.Is(err, bridge.ErrThresholdNotMet),
		errors.Is(err, bridge.ErrDailyCapExceeded),
		errors.Is(err, bridge.ErrAmountOutOfBounds):
		return http.StatusConflict
	case errors.Is(err, bridge.ErrNotSender):
		return http.StatusForbidden
	case errors.Is(err, bridge.ErrAttestationDomain),
		errors.Is(err, bridge.ErrAttestationSigner),
		errors.Is(err, bridge.ErrAttestationInvalid),
		errors.Is(err, bridge.ErrDuplicateApproval):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

func (s *Server) handleBridgeInitiate(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	var req initiateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	amount, ok := parseAmountField(req.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "amount must be a positive integer")
		return
	}
	tx, err := s.bridge.Initiate(caller, req.SourceToken, req.TargetToken, req.TargetChain, req.Recipient, amount)
	if err != nil {
		s.logger.Warn("bridge initiation rejected", "token", req.SourceToken, "err", err)
		s.bridgeMetrics.Rejected.WithLabelValues("initiate").Inc()
		writeError(w, bridgeStatus(err), err.Error())
		return
	}
	s.bridgeMetrics.Initiated.Inc()
	s.bridgeMetrics.PendingTxs.Inc()
	writeJSON(w, http.StatusOK, toBridgeTxResponse(tx))
}

func (s *Server) handleBridgeComplete(w http.ResponseWriter, r *http.Request) {
	if _, err := callerFromContext(r.Context()); err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	var req completeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	txID, ok := parseTxID(req.TxID)
	if !ok {
		writeError(w, http.StatusBadRequest, "txId must be 32 hex-encoded bytes")
		return
	}
	attestations := make([]bridge.Attestation, 0, len(req.Attestations))
	for _, payload := range req.Attestations {
		sig, err := hex.DecodeString(payload.Signature)
		if err != nil {
			writeError(w, http.StatusBadRequest, "attestation signature is not hex")
			return
		}
		attestations = append(attestations, bridge.Attestation{
			Domain:    payload.Domain,
			TxID:      txID,
			Signature: sig,
		})
	}
	tx, err := s.bridge.Complete(txID, attestations)
	if err != nil {
		s.logger.Warn("bridge completion rejected", "txId", req.TxID, "err", err)
		s.bridgeMetrics.Rejected.WithLabelValues("complete").Inc()
		writeError(w, bridgeStatus(err), err.Error())
		return
	}
	s.bridgeMetrics.Completed.Inc()
	s.bridgeMetrics.PendingTxs.Dec()
	writeJSON(w, http.StatusOK, toBridgeTxResponse(tx))
}

func (s *Server) handleBridgeCancel(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
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
	tx, err := s.bridge.Cancel(caller, txID, req.Reason)
	if err != nil {
		s.logger.Warn("bridge cancellation rejected", "txId", req.TxID, "err", err)
		s.bridgeMetrics.Rejected.WithLabelValues("cancel").Inc()
		writeError(w, bridgeStatus(err), err.Error())
		return
	}
	s.bridgeMetrics.Cancelled.Inc()
	s.bridgeMetrics.PendingTxs.Dec()
	writeJSON(w, http.StatusOK, toBridgeTxResponse(tx))
}

func (s *Server) handleListBridgeTxs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	fromTs, _ := strconv.ParseInt(query.Get("from"), 10, 64)
	toTs, _ := strconv.ParseInt(query.Get("to"), 10, 64)
	limit, _ := strconv.Atoi(query.Get("limit"))
	page, next, err := s.bridge.Ledger().List(fromTs, toTs, query.Get("cursor"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]bridgeTxResponse, 0, len(page))
	for _, tx := range page {
		out = append(out, toBridgeTxResponse(tx))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": out,
		"nextCursor":   next,
	})
}

func (s *Server) handleGetBridgeTx(w http.ResponseWriter, r *http.Request) {
	txID, ok := parseTxID(chi.URLParam(r, "txID"))
	if !ok {
		writeError(w, http.StatusBadRequest, "txId must be 32 hex-encoded bytes")
		return
	}
	tx, err := s.bridge.Ledger().Get(txID)
	if err != nil {
		if errors.Is(err, bridge.ErrTxNotFound) {
			writeError(w, http.StatusNotFound, "transaction not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toBridgeTxResponse(tx))
}

func (s *Server) handleExportBridgeTxs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	fromTs, _ := strconv.ParseInt(query.Get("from"), 10, 64)
	toTs, _ := strconv.ParseInt(query.Get("to"), 10, 64)
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="bridge-transfers.csv"`)
	if _, err := s.bridge.Ledger().ExportCSV(w, fromTs, toTs); err != nil {
		s.logger.Error("bridge export failed", "err", err)
	}
}

func (s *Server) handleListValidators(w http.ResponseWriter, _ *http.Request) {
	members, err := s.bridge.Validators().Members()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	threshold, err := s.bridge.Validators().Threshold()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]string, 0, len(members))
	for _, member := range members {
		out = append(out, member.String())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"validators": out,
		"threshold":  threshold,
	})
}

type oracleSubmitRequest struct {
	Domain    string `json:"domain"`
	Source    string `json:"source"`
	AssetID   string `json:"assetId"`
	Rate      string `json:"rate"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"`
}

func (s *Server) handleOracleSubmit(w http.ResponseWriter, r *http.Request) {
	if _, err := callerFromContext(r.Context()); err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	var req oracleSubmitRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	sig, err := hex.DecodeString(req.Signature)
	if err != nil {
		writeError(w, http.StatusBadRequest, "signature is not hex")
		return
	}
	submission, err := oracle.NewQuoteSubmission(req.Domain, req.Source, req.AssetID, req.Rate, req.Timestamp, sig)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.feed.Submit(submission); err != nil {
		s.logger.Warn("oracle submission rejected", "asset", req.AssetID, "source", req.Source, "err", err)
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := s.registry.TouchPrice(req.AssetID, req.Timestamp); err != nil {
		s.logger.Warn("price timestamp update failed", "asset", req.AssetID, "err", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}
