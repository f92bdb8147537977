package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/S01-Issuer/claims-engine/app/api/controller"
	"github.com/S01-Issuer/claims-engine/app/api/types"
	"github.com/S01-Issuer/claims-engine/pkg/utils"
)

// NewServer wires the router into the app's HTTP server.
func NewServer(app *types.App) error {
	ctler := controller.NewController(app)
	router := ctler.NewRouter()

	// use <ip>:<port> to bind to a specific interface or :<port> to bind to all interfaces
	addr := utils.Env("ADDR", ":3000")

	app.Server = &http.Server{
		Addr:              addr,
		Handler:           controller.WithCORS(router),
		ReadHeaderTimeout: 10 * time.Second,
	}
	app.Logger.Info("Starting server", zap.String("addr", addr))

	return nil
}
