package server

import (
	"net/http"
	"strings"

	"canteen-sync/internal/domain"
	"canteen-sync/internal/repo"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// handleStream pushes the full order list of a canteen, or of every canteen
// for "all", as server-sent events whenever it changes. It reads straight
// from the store and never writes.
func (s *Server) handleStream(c *gin.Context) {
	collection := domain.GlobalCollection
	if !strings.EqualFold(c.Param("canteen"), "all") {
		canteen, err := domain.ParseCanteen(c.Param("canteen"))
		if err != nil {
			writeError(c, err)
			return
		}
		collection = canteen.Collection()
	}

	ctx := c.Request.Context()
	updates := make(chan []domain.Order, 1)
	unsubscribe, err := s.store.Subscribe(ctx, collection, repo.Filter{}, func(orders []domain.Order) {
		// keep only the latest snapshot for a slow client
		for {
			select {
			case updates <- orders:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	})
	if err != nil {
		log.Error().Err(err).Str("collection", collection).Msg("server: order stream subscription failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "order stream unavailable"})
		return
	}
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	for {
		select {
		case <-ctx.Done():
			return
		case orders := <-updates:
			c.SSEvent("orders", viewsOf(orders))
			c.Writer.Flush()
		}
	}
}
