package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/beetslabs/poolsync/pkg/utils"
)

// NewServer wraps the controller's router in an http.Server bound to ADDR.
func NewServer(c *Controller) *http.Server {
	addr := utils.Env("ADDR", ":3000")

	srv := &http.Server{
		Addr:              addr,
		Handler:           c.NewRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	c.Logger.Info("Starting server", zap.String("addr", addr))

	return srv
}
