package handlers

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"

	apierrors "github.com/stwalsh4118/peritaje/internal/errors"
	"github.com/stwalsh4118/peritaje/internal/middleware"
	"github.com/stwalsh4118/peritaje/internal/models"
	"github.com/stwalsh4118/peritaje/internal/services"
)

// StatusWatcher follows one appraisal until it reaches a terminal status.
type StatusWatcher interface {
	Watch(ctx context.Context, id string, fn func(models.StatusEvent) error) error
}

// StreamHandler pushes status changes over a websocket.
type StreamHandler struct {
	appraisals     services.AppraisalService
	watcher        StatusWatcher
	originPatterns []string
}

// NewStreamHandler creates a StreamHandler. allowedOrigins uses the CORS
// format (scheme://host[:port]).
func NewStreamHandler(appraisals services.AppraisalService, watcher StatusWatcher, allowedOrigins []string) *StreamHandler {
	return &StreamHandler{
		appraisals:     appraisals,
		watcher:        watcher,
		originPatterns: originPatterns(allowedOrigins),
	}
}

// originPatterns reduces origins to the host patterns websocket.Accept expects.
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
			continue
		}
		patterns = append(patterns, o)
	}
	return patterns
}

// Subscribe handles GET /api/appraisal/subscribe?id=. Sends the current
// status and every change as {"id","status"} messages, then closes normally
// once the status is terminal.
func (h *StreamHandler) Subscribe(c *gin.Context) {
	id := strings.TrimSpace(c.Query("id"))
	if id == "" {
		apierrors.BadRequest(c, msgMissingID, nil)
		return
	}

	if _, err := h.appraisals.Details(c.Request.Context(), id); err != nil {
		if errors.Is(err, services.ErrAppraisalNotFound) {
			apierrors.NotFound(c, msgNotFound)
			return
		}
		apierrors.InternalServerError(c, "No se pudo consultar el peritaje", err)
		return
	}

	log := middleware.GetLogger(c)

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		if log != nil {
			log.Warn("Websocket upgrade failed", map[string]interface{}{
				"appraisal_id": id,
				"error":        err.Error(),
			})
		}
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(c.Request.Context())

	err = h.watcher.Watch(ctx, id, func(ev models.StatusEvent) error {
		return wsjson.Write(ctx, conn, ev)
	})
	switch {
	case err == nil:
		conn.Close(websocket.StatusNormalClosure, "")
	case ctx.Err() != nil:
		// client went away
	default:
		if log != nil {
			log.Error("Status stream failed", err, map[string]interface{}{"appraisal_id": id})
		}
		conn.Close(websocket.StatusInternalError, "status unavailable")
	}
}
