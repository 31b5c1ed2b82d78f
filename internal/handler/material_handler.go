package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/formatio-api/internal/service"
	appErrors "github.com/noah-isme/formatio-api/pkg/errors"
	"github.com/noah-isme/formatio-api/pkg/response"
)

// MaterialHandler exposes session material endpoints.
type MaterialHandler struct {
	materials   *service.MaterialService
	maxFileSize int64
}

// NewMaterialHandler constructs MaterialHandler.
func NewMaterialHandler(materials *service.MaterialService, maxFileSize int64) *MaterialHandler {
	return &MaterialHandler{materials: materials, maxFileSize: maxFileSize}
}

// ListBySession godoc
// @Summary List a session's materials
// @Tags Materials
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/materials [get]
func (h *MaterialHandler) ListBySession(c *gin.Context) {
	materials, err := h.materials.ListBySession(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, materials, nil)
}

// Create godoc
// @Summary Attach a material to a session
// @Tags Materials
// @Accept json
// @Produce json
// @Param payload body service.CreateMaterialRequest true "Material payload"
// @Success 201 {object} response.Envelope
// @Router /materials [post]
func (h *MaterialHandler) Create(c *gin.Context) {
	var req service.CreateMaterialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInvalidRequest.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	material, err := h.materials.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, material)
}

// Update godoc
// @Summary Update material
// @Tags Materials
// @Accept json
// @Produce json
// @Param id path string true "Material ID"
// @Param payload body service.UpdateMaterialRequest true "Material payload"
// @Success 200 {object} response.Envelope
// @Router /materials/{id} [patch]
func (h *MaterialHandler) Update(c *gin.Context) {
	var req service.UpdateMaterialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInvalidRequest.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	material, err := h.materials.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, material, nil)
}

// Reorder godoc
// @Summary Reorder a session's materials
// @Tags Materials
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param payload body object true "Ordered material ids"
// @Success 204 {object} response.Envelope
// @Router /sessions/{id}/materials/reorder [put]
func (h *MaterialHandler) Reorder(c *gin.Context) {
	var payload struct {
		OrderedIDs []string `json:"ordered_ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInvalidRequest.Code, http.StatusBadRequest, "ordered ids required"))
		return
	}
	if err := h.materials.Reorder(c.Request.Context(), c.Param("id"), payload.OrderedIDs); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Delete godoc
// @Summary Delete material
// @Tags Materials
// @Produce json
// @Param id path string true "Material ID"
// @Success 204 {object} response.Envelope
// @Router /materials/{id} [delete]
func (h *MaterialHandler) Delete(c *gin.Context) {
	if err := h.materials.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// UploadFile godoc
// @Summary Upload a document file for a material
// @Tags Materials
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Material ID"
// @Param file formData file true "Document"
// @Success 200 {object} response.Envelope
// @Router /materials/{id}/file [post]
func (h *MaterialHandler) UploadFile(c *gin.Context) {
	if h.maxFileSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxFileSize)
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInvalidRequest.Code, http.StatusBadRequest, "file field required"))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInvalidRequest.Code, http.StatusBadRequest, "unreadable upload"))
		return
	}
	defer file.Close()

	material, err := h.materials.AttachFile(
		c.Request.Context(),
		c.Param("id"),
		fileHeader.Filename,
		fileHeader.Header.Get("Content-Type"),
		fileHeader.Size,
		file,
	)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, material, nil)
}

// RegisterUpload godoc
// @Summary Record a direct video upload id for a material
// @Tags Materials
// @Accept json
// @Produce json
// @Param id path string true "Material ID"
// @Param payload body object true "Upload id"
// @Success 204 {object} response.Envelope
// @Router /materials/{id}/upload [post]
func (h *MaterialHandler) RegisterUpload(c *gin.Context) {
	var payload struct {
		UploadID string `json:"upload_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInvalidRequest.Code, http.StatusBadRequest, "upload id required"))
		return
	}
	if err := h.materials.RegisterUpload(c.Request.Context(), c.Param("id"), payload.UploadID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
