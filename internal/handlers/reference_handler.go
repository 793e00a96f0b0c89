package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	apierrors "github.com/stwalsh4118/peritaje/internal/errors"
	"github.com/stwalsh4118/peritaje/internal/locations"
	"github.com/stwalsh4118/peritaje/internal/middleware"
)

const defaultSearchLimit = 20

// SessionResponse describes the caller.
type SessionResponse struct {
	UserID             string `json:"user_id,omitempty"`
	AnonymousSessionID string `json:"anonymous_session_id,omitempty"`
	Email              string `json:"email,omitempty"`
	Phone              string `json:"phone,omitempty"`
	Authenticated      bool   `json:"authenticated"`
}

// Session handles GET /api/session.
func Session(c *gin.Context) {
	id, ok := middleware.GetIdentity(c)
	if !ok {
		apierrors.Unauthorized(c, "No hay una sesión activa")
		return
	}

	c.JSON(http.StatusOK, SessionResponse{
		UserID:             id.UserID,
		AnonymousSessionID: id.AnonymousSessionID,
		Email:              id.Email,
		Phone:              id.Phone,
		Authenticated:      id.Authenticated(),
	})
}

// LocationsHandler serves the department and city catalog.
type LocationsHandler struct {
	catalog *locations.Catalog
}

// NewLocationsHandler creates a LocationsHandler.
func NewLocationsHandler(catalog *locations.Catalog) *LocationsHandler {
	return &LocationsHandler{catalog: catalog}
}

// List handles GET /api/locations. With ?department= it returns that
// department's cities, with ?q= a search, and otherwise the full catalog.
func (h *LocationsHandler) List(c *gin.Context) {
	if dep := strings.TrimSpace(c.Query("department")); dep != "" {
		cities, err := h.catalog.Cities(dep)
		if err != nil {
			if errors.Is(err, locations.ErrUnknownDepartment) {
				apierrors.NotFound(c, "Departamento desconocido")
				return
			}
			apierrors.InternalServerError(c, "No se pudo consultar el catálogo", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"department": dep, "cities": cities})
		return
	}

	if q := c.Query("q"); q != "" {
		limit := defaultSearchLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				apierrors.BadRequest(c, "limit debe ser un entero positivo", nil)
				return
			}
			limit = n
		}
		c.JSON(http.StatusOK, gin.H{"matches": h.catalog.Search(q, limit)})
		return
	}

	c.JSON(http.StatusOK, gin.H{"departments": h.catalog.Departments()})
}
