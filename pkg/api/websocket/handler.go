package websocket

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aescanero/modkernel/internal/application/tracker"
	"github.com/aescanero/modkernel/pkg/domain"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Tracking opens event trackers
type Tracking interface {
	Track(ctx context.Context, host string, filter tracker.Filter) (*tracker.Tracker, error)
}

// Handler streams module events to WebSocket clients
type Handler struct {
	source Tracking
	logger *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(source Tracking, logger *zap.Logger) *Handler {
	return &Handler{
		source: source,
		logger: logger,
	}
}

// HandleEventStream streams module events. The client first receives the
// current state of every matching module, then live changes.
//
// Query parameters: group limits modules to one group, coordinate (repeatable)
// to specific modules, kinds to a comma separated list of transitions.
func (h *Handler) HandleEventStream(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	kinds := parseKinds(c.Query("kinds"))

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithCancel(c.Request.Context())
	host := "ws:" + c.ClientIP() + ":" + uuid.New().String()

	tr, err := h.source.Track(ctx, host, filter)
	if err != nil {
		cancel()
		h.logger.Error("failed to open event tracker", zap.Error(err))
		return
	}
	// The listener may be blocked on ch; cancel before closing
	defer func() {
		cancel()
		_ = tr.Close()
	}()

	h.logger.Info("WebSocket connection established",
		zap.String("host", host),
		zap.String("client", c.ClientIP()))

	ch := make(chan domain.ModuleEvent, 16)
	err = tr.AddEventListener(func(e domain.ModuleEvent) {
		select {
		case ch <- e:
		case <-ctx.Done():
		}
	}, kinds...)
	if err != nil {
		h.logger.Error("failed to attach listener", zap.Error(err))
		return
	}

	// Reads only to notice the client going away
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case e := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				h.logger.Debug("failed to write message", zap.String("host", host), zap.Error(err))
				return
			}
		}
	}
}

func parseFilter(c *gin.Context) (tracker.Filter, error) {
	if raw := c.QueryArray("coordinate"); len(raw) > 0 {
		coords := make([]domain.Coordinate, 0, len(raw))
		for _, s := range raw {
			coord, err := domain.ParseCoordinate(s)
			if err != nil {
				return nil, fmt.Errorf("invalid coordinate %q: %w", s, err)
			}
			coords = append(coords, coord)
		}
		return tracker.Coordinates(coords...), nil
	}
	if group := c.Query("group"); group != "" {
		return tracker.Group(group), nil
	}
	return nil, nil
}

func parseKinds(raw string) []domain.Transition {
	if raw == "" {
		return nil
	}
	var kinds []domain.Transition
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			kinds = append(kinds, domain.Transition(strings.ToUpper(k)))
		}
	}
	return kinds
}
