package service

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/chainsafe/nft-migration-relay/pkg/app/errors"
	apphttp "github.com/chainsafe/nft-migration-relay/pkg/app/http"
	"github.com/chainsafe/nft-migration-relay/pkg/ethereum"
	"github.com/chainsafe/nft-migration-relay/pkg/migration"
	"github.com/chainsafe/nft-migration-relay/pkg/relayer"
)

const maxBodySize = 1 << 20

// HTTP wraps the Service to provide HTTP endpoints
type HTTP struct {
	service Service
	logger  *zap.Logger
}

// RegisterRoutes registers the frontend calls and the public migration API
// on the given chi router.
func RegisterRoutes(r chi.Router, service Service, logger *zap.Logger) {
	h := &HTTP{service: service, logger: logger}

	r.Post("/getAvailableWorlds", apphttp.HandleError(h.getAvailableWorlds))
	r.Post("/getAvailableTokenId", apphttp.HandleError(h.getAvailableTokenID))
	r.Post("/getTokenUri", apphttp.HandleError(h.getTokenURI))

	r.Post("/api/v1/migrations", apphttp.HandleError(h.submitMigration))
	r.Get("/api/v1/migrations", apphttp.HandleError(h.listMigrations))
	r.Get("/api/v1/migrations/{ref}", apphttp.HandleError(h.getMigration))
	r.Get("/api/v1/migrations/{ref}/transitions", apphttp.HandleError(h.listTransitions))
}

// RegisterAdminRoutes registers the operator endpoints. Callers are expected
// to guard r with apphttp.RequireAdmin.
func RegisterAdminRoutes(r chi.Router, service Service, logger *zap.Logger) {
	h := &HTTP{service: service, logger: logger}

	r.Post("/api/v1/migrations/{ref}/retry", apphttp.HandleError(h.retryMigration))
	r.Get("/api/v1/transactions", apphttp.HandleError(h.listTransactions))
}

type worldsRequest struct {
	Universe string `json:"universe"`
}

type worldsResponse struct {
	Worlds []string `json:"worlds"`
}

type tokenIDRequest struct {
	Universe string `json:"universe"`
	World    string `json:"world"`
}

type tokenIDResponse struct {
	TokenID string `json:"tokenId"`
}

type tokenURIRequest struct {
	Universe string `json:"universe"`
	World    string `json:"world"`
	TokenID  string `json:"tokenId"`
}

type tokenURIResponse struct {
	TokenURI string `json:"tokenUri"`
}

// MigrationResponse is the API view of a migration request.
type MigrationResponse struct {
	ID                  string    `json:"id"`
	Type                string    `json:"type"`
	State               string    `json:"state"`
	LastState           string    `json:"last_state,omitempty"`
	FailureReason       string    `json:"failure_reason,omitempty"`
	OriginUniverse      string    `json:"origin_universe"`
	OriginWorld         string    `json:"origin_world"`
	OriginTokenID       string    `json:"origin_token_id"`
	OriginOwner         string    `json:"origin_owner"`
	DestinationUniverse string    `json:"destination_universe"`
	DestinationWorld    string    `json:"destination_world"`
	DestinationTokenID  string    `json:"destination_token_id"`
	DestinationOwner    string    `json:"destination_owner"`
	MigrationHash       string    `json:"migration_hash,omitempty"`
	EscrowHash          string    `json:"escrow_hash,omitempty"`
	DepartureTxHash     string    `json:"departure_tx_hash,omitempty"`
	RegistrationTxHash  string    `json:"registration_tx_hash,omitempty"`
	ArrivalTxHash       string    `json:"arrival_tx_hash,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// TransitionResponse is one audited state change.
type TransitionResponse struct {
	From   string    `json:"from,omitempty"`
	To     string    `json:"to"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// TransactionResponse is one journal entry of a relay transaction.
type TransactionResponse struct {
	Universe    string  `json:"universe"`
	MigrationID string  `json:"migration_id,omitempty"`
	Label       string  `json:"label"`
	Nonce       *uint64 `json:"nonce,omitempty"`
	To          string  `json:"to"`
	TxHash      string  `json:"tx_hash,omitempty"`
	GasPrice    string  `json:"gas_price,omitempty"`
	Attempt     int     `json:"attempt"`
	Status      string  `json:"status"`
	Reason      string  `json:"reason,omitempty"`
}

func toMigrationResponse(req *migration.Request) MigrationResponse {
	return MigrationResponse{
		ID:                  req.ID,
		Type:                string(req.Type),
		State:               string(req.State),
		LastState:           string(req.LastState),
		FailureReason:       req.FailureReason,
		OriginUniverse:      req.OriginUniverse,
		OriginWorld:         req.OriginWorld,
		OriginTokenID:       req.OriginTokenID,
		OriginOwner:         req.OriginOwner,
		DestinationUniverse: req.DestinationUniverse,
		DestinationWorld:    req.DestinationWorld,
		DestinationTokenID:  req.DestinationTokenID,
		DestinationOwner:    req.DestinationOwner,
		MigrationHash:       req.MigrationHash,
		EscrowHash:          req.EscrowHash,
		DepartureTxHash:     req.DepartureTx.Latest(),
		RegistrationTxHash:  req.RegistrationTx.Latest(),
		ArrivalTxHash:       req.ArrivalTx.Latest(),
		CreatedAt:           req.CreatedAt,
		UpdatedAt:           req.UpdatedAt,
	}
}

func toTransactionResponse(tx ethereum.PendingTransaction) TransactionResponse {
	resp := TransactionResponse{
		Universe:    tx.Universe,
		MigrationID: tx.Ref,
		Label:       tx.Label,
		Nonce:       tx.Nonce,
		To:          tx.To.Hex(),
		Attempt:     tx.Attempt,
		Status:      string(tx.Status),
		Reason:      tx.Reason,
	}
	if tx.TxHash != (common.Hash{}) {
		resp.TxHash = tx.TxHash.Hex()
	}
	if tx.GasPrice != nil {
		resp.GasPrice = tx.GasPrice.String()
	}
	return resp
}

func (h *HTTP) getAvailableWorlds(w http.ResponseWriter, r *http.Request) error {
	var req worldsRequest
	if err := h.decode(r, &req); err != nil {
		return err
	}
	if req.Universe == "" {
		return apperrors.BadRequestError(nil, "universe required")
	}
	worlds, err := h.service.GetAvailableWorlds(r.Context(), req.Universe)
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, worldsResponse{Worlds: worlds})
	return nil
}

func (h *HTTP) getAvailableTokenID(w http.ResponseWriter, r *http.Request) error {
	var req tokenIDRequest
	if err := h.decode(r, &req); err != nil {
		return err
	}
	if req.Universe == "" || req.World == "" {
		return apperrors.BadRequestError(nil, "universe and world required")
	}
	tokenID, err := h.service.GetAvailableTokenID(r.Context(), req.Universe, req.World)
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, tokenIDResponse{TokenID: tokenID})
	return nil
}

func (h *HTTP) getTokenURI(w http.ResponseWriter, r *http.Request) error {
	var req tokenURIRequest
	if err := h.decode(r, &req); err != nil {
		return err
	}
	if req.Universe == "" || req.World == "" || req.TokenID == "" {
		return apperrors.BadRequestError(nil, "universe, world and tokenId required")
	}
	uri, err := h.service.GetTokenURI(r.Context(), req.Universe, req.World, req.TokenID)
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, tokenURIResponse{TokenURI: uri})
	return nil
}

func (h *HTTP) submitMigration(w http.ResponseWriter, r *http.Request) error {
	var req relayer.SubmitRequest
	if err := h.decode(r, &req); err != nil {
		return err
	}
	created, err := h.service.SubmitMigration(r.Context(), req)
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusAccepted, toMigrationResponse(created))
	return nil
}

func (h *HTTP) getMigration(w http.ResponseWriter, r *http.Request) error {
	req, err := h.service.GetMigration(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusOK, toMigrationResponse(req))
	return nil
}

func (h *HTTP) listMigrations(w http.ResponseWriter, r *http.Request) error {
	limit, err := queryLimit(r)
	if err != nil {
		return err
	}
	reqs, err := h.service.ListMigrations(r.Context(), r.URL.Query().Get("state"), limit)
	if err != nil {
		return err
	}
	out := make([]MigrationResponse, len(reqs))
	for i, req := range reqs {
		out[i] = toMigrationResponse(req)
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"migrations": out})
	return nil
}

func (h *HTTP) listTransitions(w http.ResponseWriter, r *http.Request) error {
	transitions, err := h.service.ListTransitions(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		return err
	}
	out := make([]TransitionResponse, len(transitions))
	for i, t := range transitions {
		out[i] = TransitionResponse{From: string(t.From), To: string(t.To), Reason: t.Reason, At: t.At}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"transitions": out})
	return nil
}

func (h *HTTP) retryMigration(w http.ResponseWriter, r *http.Request) error {
	id := chi.URLParam(r, "ref")
	operator, _ := apphttp.SubjectFromContext(r.Context())
	h.logger.Info("Manual retry requested",
		zap.String("migration_id", id),
		zap.String("operator", operator))

	req, err := h.service.RetryMigration(r.Context(), id)
	if err != nil {
		return err
	}
	h.writeJSON(w, http.StatusAccepted, toMigrationResponse(req))
	return nil
}

func (h *HTTP) listTransactions(w http.ResponseWriter, r *http.Request) error {
	limit, err := queryLimit(r)
	if err != nil {
		return err
	}
	q := r.URL.Query()
	filter := TransactionFilter{Universe: q.Get("universe"), TxHash: q.Get("tx_hash"), MigrationID: q.Get("migration_id")}
	txs, err := h.service.ListTransactions(r.Context(), filter, limit)
	if err != nil {
		return err
	}
	out := make([]TransactionResponse, len(txs))
	for i, tx := range txs {
		out[i] = toTransactionResponse(tx)
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"transactions": out})
	return nil
}

func queryLimit(r *http.Request) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, apperrors.BadRequestError(err, "invalid limit")
	}
	return n, nil
}

func (h *HTTP) decode(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return apperrors.BadRequestError(err, "failed to read request")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return apperrors.BadRequestError(err, "invalid JSON")
	}
	return nil
}

func (h *HTTP) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}
