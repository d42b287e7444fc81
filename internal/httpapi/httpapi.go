// Package httpapi builds the broker's gin.Engine: the WebSocket upgrade
// endpoint, health check, Prometheus exposition, room introspection API,
// and static file serving. Grounded on
// api/internal/handlers/websocket.go's upgrade flow and
// api/internal/middleware's request-ID/structured-logging pair, wired
// here to the single-writer reactor instead of a hub goroutine.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/scalesocket/scalesocket/internal/apierrors"
	"github.com/scalesocket/scalesocket/internal/roommetrics"
	"github.com/scalesocket/scalesocket/internal/types"
)

// reservedRooms mirrors original_source/src/routes.rs's RESERVED_ROOMS:
// path segments that can never be used as a room name because they
// collide with the broker's own routes.
var reservedRooms = map[string]struct{}{
	"api":         {},
	"metrics":     {},
	"health":      {},
	"static":      {},
	"upload":      {},
	"robots.txt":  {},
	"favicon.ico": {},
}

// Options configures which optional endpoints Router exposes.
type Options struct {
	MetricsEnabled bool
	APIEnabled     bool
	StaticDir      string
}

// New builds the broker's gin.Engine. events is the reactor's inbound
// channel; metrics backs /metrics and /api/*.
func New(opts Options, events chan<- types.Event, metrics *roommetrics.Store, log *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestID())
	r.Use(structuredLogger(log))

	r.GET("/health", handleHealth)
	r.GET("/:room", handleSocket(events, log))

	if opts.MetricsEnabled {
		handler := promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})
		r.GET("/metrics", gin.WrapH(handler))
	} else {
		r.GET("/metrics", handleDisabled("metrics"))
	}

	if opts.APIEnabled {
		api := r.Group("/api")
		api.GET("/rooms", handleRoomsAPI(metrics))
		api.GET("/:room", handleRoomAPI(metrics))
		api.GET("/:room/:metric", handleRoomAPI(metrics))
	} else {
		r.GET("/api/*any", handleDisabled("api"))
	}

	if opts.StaticDir != "" {
		r.Static("/static", opts.StaticDir)
	}

	return r
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func handleRoomsAPI(metrics *roommetrics.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, metrics.Rooms())
	}
}

func handleRoomAPI(metrics *roommetrics.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		room := types.RoomID(c.Param("room"))
		summary := metrics.Room(room)

		switch c.Param("metric") {
		case "connections":
			c.JSON(http.StatusOK, summary.Connections)
		case "metadata":
			if summary.Metadata == nil {
				c.JSON(http.StatusOK, nil)
				return
			}
			c.Data(http.StatusOK, "application/json", summary.Metadata)
		case "":
			c.JSON(http.StatusOK, summary)
		default:
			err := apierrors.NotFound("metric")
			c.JSON(err.StatusCode, err.ToResponse())
		}
	}
}

// handleDisabled answers requests to a feature-gated route with a
// structured 404 instead of falling through to gin's bare default,
// naming which flag the operator needs to enable.
func handleDisabled(feature string) gin.HandlerFunc {
	return func(c *gin.Context) {
		writeError(c, apierrors.Disabled(feature))
	}
}

func writeError(c *gin.Context, err *apierrors.AppError) {
	c.JSON(err.StatusCode, err.ToResponse())
}
