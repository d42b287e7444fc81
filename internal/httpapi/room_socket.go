package httpapi

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/scalesocket/scalesocket/internal/apierrors"
	"github.com/scalesocket/scalesocket/internal/types"
)

// handleSocket upgrades a request to a WebSocket and hands it to the
// reactor as a Connect event, mirroring original_source/src/routes.rs's
// socket() filter: reject reserved room names, build the per-connection
// Env, then let the reactor decide whether to attach or spawn.
func handleSocket(events chan<- types.Event, log *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		room := c.Param("room")
		if _, reserved := reservedRooms[room]; reserved {
			writeError(c, apierrors.InvalidRoom(room))
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Debug().Err(err).Msg("websocket upgrade failed")
			return
		}

		query := make(map[string]string, len(c.Request.URL.Query()))
		for k, v := range c.Request.URL.Query() {
			if len(v) > 0 {
				query[k] = v[0]
			}
		}

		env := types.Env{
			QueryString: c.Request.URL.RawQuery,
			// The raw peer address, not gin's ClientIP(): ClientIP() trusts
			// X-Forwarded-For/X-Real-IP, which a client can forge to spoof
			// its own REMOTE_ADDR. original_source/src/utils.rs derives
			// this from warp's untrusted remote() peer address.
			RemoteAddr: c.Request.RemoteAddr,
			Room:       types.RoomID(room),
			Query:      query,
		}

		result := make(chan types.ConnectResult, 1)
		events <- types.Event{
			Kind: types.EventConnect,
			Room: types.RoomID(room),
			Conn: types.ConnRequest{
				Env:    env,
				Socket: &wsSocket{conn: conn},
				Result: result,
			},
		}

		res := <-result
		if !res.Accepted {
			_ = conn.Close()
		}
	}
}
