package http

import (
	"net/http"

	"github.com/dkeye/coderoom/internal/app/orch"
	"github.com/dkeye/coderoom/internal/core"
	"github.com/dkeye/coderoom/internal/domain"
	"github.com/gin-gonic/gin"
)

// roomHandlers is the read-only inspection API plus eviction. Lookups
// never create rooms.
type roomHandlers struct {
	orch *orch.Orchestrator
}

func (h *roomHandlers) room(c *gin.Context) (core.RoomService, bool) {
	room, ok := h.orch.Rooms.Get(domain.RoomID(c.Param("id")))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
	}
	return room, ok
}

func (h *roomHandlers) list(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.orch.Rooms.List()})
}

func (h *roomHandlers) get(c *gin.Context) {
	room, ok := h.room(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":           room.Room().ID,
		"member_count": room.MemberCount(),
		"state":        room.Snapshot(),
	})
}

func (h *roomHandlers) members(c *gin.Context) {
	room, ok := h.room(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": room.MembersSnapshot()})
}

// evict kicks every member and drops the room. ?purge=true also deletes
// its saved state, live or not.
func (h *roomHandlers) evict(c *gin.Context) {
	purge := c.Query("purge") == "true"
	if !h.orch.EvictRoom(domain.RoomID(c.Param("id")), purge) {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	c.Status(http.StatusNoContent)
}
