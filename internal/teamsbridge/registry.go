package teamsbridge

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// the driver payload connects from the local automation browser
		return true
	},
}

// Registry maps session ids to their bridges so the driver can dial back to
// the right session.
type Registry struct {
	mu      sync.RWMutex
	bridges map[uuid.UUID]*Bridge
	logger  *zap.Logger
}

// NewRegistry creates an empty bridge registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{bridges: make(map[uuid.UUID]*Bridge), logger: logger}
}

// Create builds and registers a bridge for the session. The bridge removes
// itself from the registry when it closes.
func (r *Registry) Create(id uuid.UUID) *Bridge {
	b := NewBridge(id, r.logger, func() {
		r.mu.Lock()
		delete(r.bridges, id)
		r.mu.Unlock()
	})
	r.mu.Lock()
	r.bridges[id] = b
	r.mu.Unlock()
	return b
}

// Get returns the bridge for a session, if registered.
func (r *Registry) Get(id uuid.UUID) (*Bridge, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bridges[id]
	return b, ok
}

// ServeDriver handles GET /driver/ws/:id: upgrades the driver payload's
// connection and attaches it to the session's bridge.
func (r *Registry) ServeDriver() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
			return
		}
		bridge, ok := r.Get(id)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no session for driver"})
			return
		}
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			r.logger.Warn("driver websocket upgrade failed", zap.Error(err))
			return
		}
		bridge.Attach(conn)
	}
}
