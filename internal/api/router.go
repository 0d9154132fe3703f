package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
)

// NewRouter builds the engine with recovery, request logging and the
// handler's routes. Forwarding headers are only honoured from trustedProxies;
// with none, c.ClientIP() is the socket peer.
func NewRouter(h *Handler, trustedProxies []string) (*gin.Engine, error) {
	router := gin.New()
	if len(trustedProxies) == 0 {
		trustedProxies = nil
	}
	if err := router.SetTrustedProxies(trustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	router.Use(gin.Recovery(), RequestLogger(h.log))
	router.MaxMultipartMemory = h.maxUploadBytes
	h.RegisterRoutes(router)
	return router, nil
}
