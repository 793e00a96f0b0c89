package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	apierrors "github.com/stwalsh4118/peritaje/internal/errors"
	"github.com/stwalsh4118/peritaje/internal/form"
	"github.com/stwalsh4118/peritaje/internal/middleware"
	"github.com/stwalsh4118/peritaje/internal/models"
	"github.com/stwalsh4118/peritaje/internal/services"
)

const (
	// WebhookSecretHeader carries the shared secret on workflow callbacks.
	WebhookSecretHeader = "X-Webhook-Secret"

	maxCallbackBytes = 10 << 20
	msgMissingID     = "El parámetro id es obligatorio"
	msgNotFound      = "No encontramos el peritaje solicitado"
	msgImagesOnly    = "Solo se aceptan archivos de imagen"
)

// AppraisalHandler serves the intake, callback and results endpoints.
type AppraisalHandler struct {
	submissions    services.SubmissionService
	appraisals     services.AppraisalService
	validator      *form.Validator
	maxUploadBytes int64
}

// NewAppraisalHandler creates an AppraisalHandler. maxUploadMB bounds the
// multipart submission body.
func NewAppraisalHandler(submissions services.SubmissionService, appraisals services.AppraisalService, v *form.Validator, maxUploadMB int) *AppraisalHandler {
	return &AppraisalHandler{
		submissions:    submissions,
		appraisals:     appraisals,
		validator:      v,
		maxUploadBytes: int64(maxUploadMB) << 20,
	}
}

// ValidateRequest is the body of POST /api/appraisal/validate.
type ValidateRequest struct {
	Form       models.AppraisalForm `json:"form"`
	ImageCount int                  `json:"image_count"`
	ImageError string               `json:"image_error"`
}

// ToggleRequest is the body of POST /api/appraisal/toggle. Either Group
// (with Value) or SpecialZoneType is given.
type ToggleRequest struct {
	Form            models.AppraisalForm `json:"form"`
	Group           string               `json:"group"`
	Value           bool                 `json:"value"`
	SpecialZoneType *string              `json:"special_zone_type"`
}

// ToggleResponse carries the next form state.
type ToggleResponse struct {
	Form models.AppraisalForm `json:"form"`
}

// GroupInfo describes one conditional block of the form.
type GroupInfo struct {
	Group      form.Group `json:"group"`
	Dependents []string   `json:"dependents"`
}

// MaterialsRequest is the body of POST /api/appraisal/materials.
type MaterialsRequest struct {
	Entries            []models.MaterialQualityEntry `json:"entries"`
	Action             string                        `json:"action" binding:"required,oneof=add update remove"`
	ID                 string                        `json:"id"`
	Location           string                        `json:"location"`
	QualityDescription string                        `json:"quality_description"`
}

// MaterialsResponse carries the rows after the action, plus the ones that
// would be submitted.
type MaterialsResponse struct {
	Entries []models.MaterialQualityEntry `json:"entries"`
	Filled  []models.MaterialQualityEntry `json:"filled"`
}

// AssociateRequest is the body of POST /api/appraisal/associate-user.
type AssociateRequest struct {
	AnonymousSessionID string `json:"anonymous_session_id"`
	UserID             string `json:"user_id"`
}

// SaveResultRequest is the body of POST /api/appraisal/save-result.
type SaveResultRequest struct {
	ID         string          `json:"id" binding:"required"`
	ResultData json.RawMessage `json:"result_data" binding:"required"`
}

// HistoryResponse lists the caller's appraisals.
type HistoryResponse struct {
	Appraisals []models.AppraisalRecord `json:"appraisals"`
	Count      int                      `json:"count"`
}

// Submit handles POST /api/appraisal/submit. The multipart body carries the
// form as JSON in "data" and the photos in "images".
func (h *AppraisalHandler) Submit(c *gin.Context) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}

	mf, err := c.MultipartForm()
	if err != nil {
		apierrors.BadRequest(c, "No se pudo leer el formulario o supera el tamaño máximo", nil)
		return
	}

	var f models.AppraisalForm
	data := mf.Value["data"]
	if len(data) == 0 {
		apierrors.BadRequest(c, "Falta el campo data", nil)
		return
	}
	if err := json.Unmarshal([]byte(data[0]), &f); err != nil {
		apierrors.BadRequest(c, "El campo data no es un JSON válido", nil)
		return
	}

	images, imageMsg, err := readImages(mf.File["images"])
	if err != nil {
		apierrors.BadRequest(c, "No se pudieron leer las imágenes", nil)
		return
	}
	var imageErr error
	if imageMsg != "" {
		imageErr = errors.New(imageMsg)
	}

	result := h.validator.Validate(f, images.Len(), imageErr)
	if !result.Valid {
		apierrors.FormValidation(c, result.Errors)
		return
	}

	identity, _ := middleware.GetIdentity(c)
	sub, err := h.submissions.Submit(c.Request.Context(), identity, f, images.All(), f.MaterialQualityEntries)
	if err != nil {
		var subErr *services.SubmissionError
		if errors.As(err, &subErr) {
			switch subErr.Step {
			case services.StepIdentity:
				apierrors.Unauthorized(c, "No hay una sesión activa")
				return
			case services.StepEncode:
				apierrors.BadRequest(c, "No se pudieron procesar las imágenes", nil)
				return
			case services.StepTrigger:
				apierrors.ServiceUnavailable(c, "El servicio de análisis no está disponible, intenta de nuevo", err)
				return
			}
		}
		apierrors.InternalServerError(c, "No se pudo registrar la solicitud", err)
		return
	}

	c.JSON(http.StatusAccepted, sub)
}

// readImages loads every uploaded file. A non-image file yields a message
// for the validator rather than a request failure.
func readImages(files []*multipart.FileHeader) (*form.ImageSet, string, error) {
	var imageMsg string
	images := &form.ImageSet{}

	for _, fh := range files {
		contentType := fh.Header.Get("Content-Type")
		if !strings.HasPrefix(contentType, "image/") {
			imageMsg = msgImagesOnly
		}

		file, err := fh.Open()
		if err != nil {
			return nil, "", fmt.Errorf("failed to open %s: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			return nil, "", fmt.Errorf("failed to read %s: %w", fh.Filename, err)
		}

		images.Add(models.ImageUpload{
			Name:        fh.Filename,
			ContentType: contentType,
			Data:        data,
		})
	}
	return images, imageMsg, nil
}

// Validate handles POST /api/appraisal/validate. Always 200; the result
// says whether the form is valid.
func (h *AppraisalHandler) Validate(c *gin.Context) {
	var req ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.BadRequest(c, "Cuerpo de la solicitud inválido", nil)
		return
	}

	var imageErr error
	if req.ImageError != "" {
		imageErr = errors.New(req.ImageError)
	}

	c.JSON(http.StatusOK, h.validator.Validate(req.Form, req.ImageCount, imageErr))
}

// Toggle handles POST /api/appraisal/toggle and returns the form with the
// group gate applied. Setting special_zone_type also switches its gate on.
func (h *AppraisalHandler) Toggle(c *gin.Context) {
	var req ToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			apierrors.ValidationError(c, validationErrors)
			return
		}
		apierrors.BadRequest(c, "Cuerpo de la solicitud inválido", nil)
		return
	}

	if req.SpecialZoneType != nil {
		c.JSON(http.StatusOK, ToggleResponse{Form: form.SetSpecialZoneType(req.Form, *req.SpecialZoneType)})
		return
	}
	if strings.TrimSpace(req.Group) == "" {
		apierrors.BadRequest(c, "Indica group o special_zone_type", nil)
		return
	}

	group, err := form.ParseGroup(req.Group)
	if err != nil {
		apierrors.BadRequest(c, "Grupo desconocido: "+req.Group, nil)
		return
	}

	next, err := form.ApplyToggle(req.Form, group, req.Value)
	if err != nil {
		apierrors.BadRequest(c, err.Error(), nil)
		return
	}

	c.JSON(http.StatusOK, ToggleResponse{Form: next})
}

// Groups handles GET /api/appraisal/groups and lists each conditional block
// with the fields it governs.
func (h *AppraisalHandler) Groups(c *gin.Context) {
	groups := form.Groups()
	out := make([]GroupInfo, 0, len(groups))
	for _, g := range groups {
		out = append(out, GroupInfo{Group: g, Dependents: form.Dependents(g)})
	}
	c.JSON(http.StatusOK, gin.H{"groups": out})
}

// Materials handles POST /api/appraisal/materials, applying one add, update
// or remove to the material quality rows. The last row is never removed.
func (h *AppraisalHandler) Materials(c *gin.Context) {
	var req MaterialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			apierrors.ValidationError(c, validationErrors)
			return
		}
		apierrors.BadRequest(c, "Cuerpo de la solicitud inválido", nil)
		return
	}

	entries := form.NewMaterialEntries(req.Entries...)

	var err error
	switch req.Action {
	case "add":
		entries.Add()
	case "update":
		err = entries.Update(req.ID, req.Location, req.QualityDescription)
	case "remove":
		err = entries.Remove(req.ID)
	}
	if err != nil {
		switch {
		case errors.Is(err, form.ErrEntryNotFound):
			apierrors.NotFound(c, "No existe la fila indicada")
		case errors.Is(err, form.ErrLastEntry):
			apierrors.BadRequest(c, "Debe quedar al menos una fila", nil)
		default:
			apierrors.InternalServerError(c, "No se pudo actualizar la lista", err)
		}
		return
	}

	c.JSON(http.StatusOK, MaterialsResponse{Entries: entries.All(), Filled: entries.Filled()})
}

// Receive handles POST /api/appraisal/receive, the workflow callback.
func (h *AppraisalHandler) Receive(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBytes))
	if err != nil {
		apierrors.BadRequest(c, "No se pudo leer el cuerpo", nil)
		return
	}

	rec, err := h.appraisals.Receive(c.Request.Context(), c.GetHeader(WebhookSecretHeader), body)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrCallbackNotConfigured):
			apierrors.InternalServerError(c, "Error de configuración del servidor", err)
		case errors.Is(err, services.ErrUnauthorizedCallback):
			apierrors.Unauthorized(c, "Credenciales inválidas")
		case errors.Is(err, services.ErrMissingRequestID):
			apierrors.BadRequest(c, "Falta el identificador de la solicitud", nil)
		case errors.Is(err, services.ErrInvalidCallback):
			apierrors.BadRequest(c, "JSON inválido", nil)
		default:
			apierrors.InternalServerError(c, "No se pudo guardar el resultado", err)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"id":      rec.ID,
		"status":  rec.Status,
	})
}

// Details handles GET /api/appraisal/details?id=.
func (h *AppraisalHandler) Details(c *gin.Context) {
	id := strings.TrimSpace(c.Query("id"))
	if id == "" {
		apierrors.BadRequest(c, msgMissingID, nil)
		return
	}

	rec, err := h.appraisals.Details(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrAppraisalNotFound) {
			apierrors.NotFound(c, msgNotFound)
			return
		}
		apierrors.InternalServerError(c, "No se pudo consultar el peritaje", err)
		return
	}

	c.JSON(http.StatusOK, rec)
}

// Status handles GET /api/appraisal/status?id=. Answers 202 until the
// appraisal is completed, then 200 with the result.
func (h *AppraisalHandler) Status(c *gin.Context) {
	id := strings.TrimSpace(c.Query("id"))
	if id == "" {
		apierrors.BadRequest(c, msgMissingID, nil)
		return
	}

	view, err := h.appraisals.Status(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrAppraisalNotFound) {
			apierrors.NotFound(c, msgNotFound)
			return
		}
		apierrors.InternalServerError(c, "No se pudo consultar el estado", err)
		return
	}

	if view.Completed() {
		c.JSON(http.StatusOK, view)
		return
	}
	c.JSON(http.StatusAccepted, view)
}

// AssociateUser handles POST /api/appraisal/associate-user. Only the
// authenticated user named in the body may claim the records.
func (h *AppraisalHandler) AssociateUser(c *gin.Context) {
	var req AssociateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.BadRequest(c, "Cuerpo de la solicitud inválido", nil)
		return
	}

	identity, _ := middleware.GetIdentity(c)
	if !identity.Authenticated() {
		apierrors.Unauthorized(c, "Inicia sesión para asociar tus peritajes")
		return
	}
	if req.UserID != "" && req.UserID != identity.UserID {
		apierrors.Forbidden(c, "Solo puedes asociar peritajes a tu propia cuenta")
		return
	}

	n, err := h.appraisals.Associate(c.Request.Context(), req.AnonymousSessionID, req.UserID)
	if err != nil {
		if errors.Is(err, services.ErrMissingIdentifiers) {
			apierrors.BadRequest(c, "anonymous_session_id y user_id son obligatorios", nil)
			return
		}
		apierrors.InternalServerError(c, "No se pudieron asociar los peritajes", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"updated": n})
}

// History handles GET /api/appraisal/history?limit=.
func (h *AppraisalHandler) History(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			apierrors.BadRequest(c, "limit debe ser un entero positivo", nil)
			return
		}
		limit = n
	}

	identity, _ := middleware.GetIdentity(c)
	records, err := h.appraisals.History(c.Request.Context(), identity, limit)
	if err != nil {
		if errors.Is(err, services.ErrNoIdentity) {
			apierrors.Unauthorized(c, "No hay una sesión activa")
			return
		}
		apierrors.InternalServerError(c, "No se pudo consultar el historial", err)
		return
	}

	c.JSON(http.StatusOK, HistoryResponse{Appraisals: records, Count: len(records)})
}

// SaveResult handles POST /api/appraisal/save-result.
func (h *AppraisalHandler) SaveResult(c *gin.Context) {
	var req SaveResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			apierrors.ValidationError(c, validationErrors)
			return
		}
		apierrors.BadRequest(c, "Cuerpo de la solicitud inválido", nil)
		return
	}

	identity, _ := middleware.GetIdentity(c)
	rec, err := h.appraisals.SaveResult(c.Request.Context(), identity, req.ID, req.ResultData)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidResult):
			apierrors.BadRequest(c, "result_data debe ser un objeto JSON", nil)
		case errors.Is(err, services.ErrAppraisalNotFound):
			apierrors.NotFound(c, msgNotFound)
		case errors.Is(err, services.ErrNotOwner):
			apierrors.Forbidden(c, "El peritaje pertenece a otra sesión")
		default:
			apierrors.InternalServerError(c, "No se pudo guardar el resultado", err)
		}
		return
	}

	c.JSON(http.StatusOK, rec)
}
