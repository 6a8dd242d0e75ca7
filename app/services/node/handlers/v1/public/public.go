// Package public maintains the group of handlers for public access.
package public

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/DarkZeros/sqlchain/business/web/errs"
	"github.com/DarkZeros/sqlchain/foundation/events"
	"github.com/DarkZeros/sqlchain/foundation/sqlchain/database"
	"github.com/DarkZeros/sqlchain/foundation/sqlchain/signature"
	"github.com/DarkZeros/sqlchain/foundation/sqlchain/state"
	"github.com/DarkZeros/sqlchain/foundation/web"
)

// Handlers manages the set of public endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
	WS    websocket.Upgrader
	Evts  *events.Events
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	ch := h.Evts.Acquire(v.TraceID)
	defer h.Evts.Release(v.TraceID)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, wd := <-ch:
			if !wd {
				return nil
			}

			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return err
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}

// SubmitTransaction admits a new transaction into the pending queue.
func (h Handlers) SubmitTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var tx submitTx
	if err := web.Decode(r, &tx); err != nil {
		return err
	}

	signedTx, err := tx.toSignedTx()
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	txID, err := h.State.SubmitTransaction(signedTx)
	if err != nil {
		var nonceErr state.InvalidNonceError
		switch {
		case errors.Is(err, state.ErrUnknownAccount):
			return errs.NewTrusted(err, http.StatusNotFound)
		case errors.As(err, &nonceErr), errors.Is(err, state.ErrInvalidSignature):
			return errs.NewTrusted(err, http.StatusConflict)
		default:
			return err
		}
	}

	return web.Respond(ctx, w, submitTxResult{TxID: txID}, http.StatusOK)
}

// MiningInfo returns everything a miner needs to search for a nonce.
func (h Handlers) MiningInfo(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	info, err := h.State.QueryMiningInfo(ctx)
	if err != nil {
		return err
	}

	return web.Respond(ctx, w, info, http.StatusOK)
}

// CloseBlock attempts to close the next block with the provided nonce.
func (h Handlers) CloseBlock(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var cb closeBlock
	if err := web.Decode(r, &cb); err != nil {
		return err
	}

	minerPub, err := signature.ToPublicKey(cb.MinerPub)
	if err != nil {
		return errs.NewTrusted(fmt.Errorf("miner pub: %w", err), http.StatusBadRequest)
	}

	serverPub, err := signature.ToPublicKey(cb.ServerPub)
	if err != nil {
		return errs.NewTrusted(fmt.Errorf("server pub: %w", err), http.StatusBadRequest)
	}

	result, err := h.State.CloseBlock(ctx, minerPub, serverPub, cb.Nonce)
	if err != nil {
		return err
	}

	return web.Respond(ctx, w, result, http.StatusOK)
}

// Accounts returns the full ledger, ordered by account id.
func (h Handlers) Accounts(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	accounts, err := h.State.QueryAccounts()
	if err != nil {
		return err
	}

	return web.Respond(ctx, w, accounts, http.StatusOK)
}

// Account returns the ledger entry for one account.
func (h Handlers) Account(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	accountID, err := database.ToAccountID(web.Param(r, "account"))
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	account, err := h.State.QueryAccount(accountID)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return errs.NewTrusted(err, http.StatusNotFound)
		}
		return err
	}

	return web.Respond(ctx, w, account, http.StatusOK)
}

// Block returns the block with the specified number.
func (h Handlers) Block(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	number, err := strconv.ParseUint(web.Param(r, "number"), 10, 64)
	if err != nil {
		return errs.NewTrusted(fmt.Errorf("block number: %w", err), http.StatusBadRequest)
	}

	block, err := h.State.QueryBlock(number)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return errs.NewTrusted(err, http.StatusNotFound)
		}
		return err
	}

	return web.Respond(ctx, w, block, http.StatusOK)
}

// Config returns a copy of the chain's config table.
func (h Handlers) Config(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	values, err := h.State.QueryConfig()
	if err != nil {
		return err
	}

	return web.Respond(ctx, w, values, http.StatusOK)
}

// Chain summarizes the chain for read-only callers.
func (h Handlers) Chain(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	latest, err := h.State.QueryLatestBlock()
	if err != nil {
		return err
	}

	pending, err := h.State.QueryPendingCount()
	if err != nil {
		return err
	}

	accounts, err := h.State.QueryAccounts()
	if err != nil {
		return err
	}

	info := chainInfo{
		CurrentBlock: latest.Header.Number,
		LatestHash:   latest.Hash,
		PendingCount: pending,
		Accounts:     len(accounts),
	}

	return web.Respond(ctx, w, info, http.StatusOK)
}
