package devserver

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/hireloop/meet/internal/config"
)

// SetupRouter wires the websocket meeting endpoint.
func SetupRouter(ctx context.Context, cfg *config.Config, hub *Hub) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	ctl := NewController(hub)
	if cfg.PingPeriod > 0 {
		ctl.PingPeriod = cfg.PingPeriod
	}
	if cfg.ReadLimit > 0 {
		ctl.ReadLimit = cfg.ReadLimit
	}
	if ctl.PingPeriod == 0 {
		ctl.PingPeriod = 54 * time.Second
	}

	r.GET("/ws/meetings/:room", func(c *gin.Context) {
		ctl.HandleMeeting(ctx, c)
	})

	log.Info().Str("module", "devserver").Msg("router setup")
	return r
}
