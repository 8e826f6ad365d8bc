package delivery

import (
	"net/http"

	emaildto "mailsync-backend/internal/email/dto"
	"mailsync-backend/internal/email/usecase"
	"mailsync-backend/internal/event"

	"github.com/gin-gonic/gin"
)

// SyncBus is the slice of the event bus the HTTP layer needs to
// originate sync work.
type SyncBus interface {
	PublishSyncRequested(event.SyncRequested)
}

type SyncHandler struct {
	engine    *usecase.SyncEngine
	bus       SyncBus
	topicName string
}

func NewSyncHandler(engine *usecase.SyncEngine, bus SyncBus, topicName string) *SyncHandler {
	return &SyncHandler{
		engine:    engine,
		bus:       bus,
		topicName: topicName,
	}
}

// TriggerSync enqueues a sync run for the caller. The response is
// accepted-async: the run happens on the bus, not in this request.
func (h *SyncHandler) TriggerSync(c *gin.Context) {
	userID := c.GetString("userID")

	var body emaildto.SyncRequestBody
	// Body is optional; an empty body means the default history mode.
	_ = c.ShouldBindJSON(&body)

	mode := event.SyncModeHistory
	switch body.Mode {
	case "", string(event.SyncModeHistory):
	case string(event.SyncModeLegacyList):
		mode = event.SyncModeLegacyList
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be 'history' or 'legacy-list'"})
		return
	}

	h.bus.PublishSyncRequested(event.SyncRequested{
		UserID:      userID,
		Mode:        mode,
		PageCounter: 1,
	})

	c.JSON(http.StatusAccepted, gin.H{"message": "sync requested", "mode": string(mode)})
}

// Reconcile runs a full-listing reconciliation synchronously and
// reports which stale local records were removed.
func (h *SyncHandler) Reconcile(c *gin.Context) {
	userID := c.GetString("userID")

	removed, err := h.engine.ReconcileMailbox(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, emaildto.ReconcileResponse{
		RemovedMessageIDs: removed,
		RemovedCount:      len(removed),
	})
}

func (h *SyncHandler) WatchMailbox(c *gin.Context) {
	userID := c.GetString("userID")

	if h.topicName == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "push notifications are not configured"})
		return
	}

	if err := h.engine.WatchMailbox(c.Request.Context(), userID, h.topicName); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "watch registered"})
}
