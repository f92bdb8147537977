package controller

import (
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/S01-Issuer/claims-engine/pkg/orderbook"
)

// HandleWalletClaims returns the wallet's aggregate claims view. A partial
// result (some sources failed) still returns 200 with hasPartialData set,
// so the UI can render whatever succeeded.
func (c *Controller) HandleWalletClaims(w http.ResponseWriter, r *http.Request) {
	wallet, ok := walletParam(w, r)
	if !ok {
		return
	}

	result, err := c.App.Service.LoadWallet(r.Context(), wallet)
	if err != nil {
		c.App.Logger.Error("Wallet load failed", zap.String("wallet", wallet.Hex()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "wallet load failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleRefresh drops the wallet's cached view and recomputes it.
func (c *Controller) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	wallet, ok := walletParam(w, r)
	if !ok {
		return
	}

	c.App.Service.Invalidate(r.Context(), wallet)
	result, err := c.App.Service.LoadWallet(r.Context(), wallet)
	if err != nil {
		c.App.Logger.Error("Wallet refresh failed", zap.String("wallet", wallet.Hex()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "wallet refresh failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleSubmit batches the wallet's unclaimed holdings into one claim-all
// transaction. Submission failures are hard failures: nothing changed
// on-chain, which the response distinguishes from partial read data.
func (c *Controller) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	wallet, ok := walletParam(w, r)
	if !ok {
		return
	}
	if c.App.Assembler == nil {
		writeError(w, http.StatusServiceUnavailable, "claim submission is not configured")
		return
	}

	result, err := c.App.Service.LoadWallet(r.Context(), wallet)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "wallet load failed")
		return
	}

	tx, err := c.App.Assembler.ClaimAll(r.Context(), result.Holdings)
	switch {
	case errors.Is(err, orderbook.ErrNoHoldings):
		writeError(w, http.StatusBadRequest, "nothing to claim")
		return
	case errors.Is(err, orderbook.ErrOrderbookMismatch):
		c.App.Logger.Error("Holdings disagree on order-book address", zap.String("wallet", wallet.Hex()))
		writeError(w, http.StatusInternalServerError, "claim sources misconfigured")
		return
	case err != nil:
		c.App.Logger.Error("Claim submission failed", zap.String("wallet", wallet.Hex()), zap.Error(err))
		writeError(w, http.StatusBadGateway, "claim submission failed, nothing changed on-chain")
		return
	}

	// The submitted batch invalidates the cached view.
	c.App.Service.Invalidate(r.Context(), wallet)
	writeJSON(w, http.StatusOK, map[string]string{"tx": tx.Hash().Hex()})
}

func walletParam(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	raw := mux.Vars(r)["wallet"]
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "invalid wallet address")
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}
