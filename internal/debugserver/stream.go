package debugserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/iris-mcp/iris/internal/cache"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Debug observability only; any origin may watch a session's stream.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const writeWait = 10 * time.Second

// handleStream upgrades to a WebSocket connection and mirrors every
// message on a session's current (or, once it completes, most recently
// completed) cache entry using CacheEntry's own snapshot-then-live-tail
// contract (spec §4.9, §9).
func (s *Server) handleStream(c *gin.Context) {
	id := c.Param("id")
	sess, err := s.store.GetSessionByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	mc, ok := s.orch.GetCache(sess.ID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no cache for session " + id})
		return
	}

	entry := latestEntry(mc)
	if entry == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session has no cache entries yet"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	sub := entry.Subscribe()
	defer sub.Unsubscribe()

	for _, msg := range sub.Snapshot {
		if !writeMessage(conn, msg) {
			return
		}
	}
	for msg := range sub.Stream {
		if !writeMessage(conn, msg) {
			return
		}
	}
}

func writeMessage(conn *websocket.Conn, msg cache.Message) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		return true
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data) == nil
}

func latestEntry(mc *cache.MessageCache) *cache.Entry {
	entries := mc.GetAllEntries()
	if len(entries) == 0 {
		return nil
	}
	return entries[len(entries)-1]
}
