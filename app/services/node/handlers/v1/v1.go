// Package v1 contains the full set of handler functions and routes
// supported by the v1 web api.
package v1

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/DarkZeros/sqlchain/app/services/node/handlers/v1/public"
	"github.com/DarkZeros/sqlchain/foundation/events"
	"github.com/DarkZeros/sqlchain/foundation/sqlchain/state"
	"github.com/DarkZeros/sqlchain/foundation/web"
)

const version = "v1"

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Log   *zap.SugaredLogger
	State *state.State
	Evts  *events.Events
}

// PublicRoutes binds all the version 1 public routes.
func PublicRoutes(app *web.App, cfg Config) {
	pbl := public.Handlers{
		Log:   cfg.Log,
		State: cfg.State,
		WS:    websocket.Upgrader{},
		Evts:  cfg.Evts,
	}

	app.Handle(http.MethodPost, version, "/tx/submit", pbl.SubmitTransaction)
	app.Handle(http.MethodGet, version, "/mine/info", pbl.MiningInfo)
	app.Handle(http.MethodPost, version, "/mine/close", pbl.CloseBlock)
	app.Handle(http.MethodGet, version, "/accounts", pbl.Accounts)
	app.Handle(http.MethodGet, version, "/accounts/:account", pbl.Account)
	app.Handle(http.MethodGet, version, "/blocks/:number", pbl.Block)
	app.Handle(http.MethodGet, version, "/config", pbl.Config)
	app.Handle(http.MethodGet, version, "/chain", pbl.Chain)
	app.Handle(http.MethodGet, version, "/events", pbl.Events)
}
