package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"machine-catalog-backend/internal/catalog"
	"machine-catalog-backend/internal/model"
	"machine-catalog-backend/internal/mw"
)

func (h *Handler) ListParts(c *gin.Context) {
	respond(c, http.StatusOK, h.svc.ListParts(c.Request.Context(), mw.CurrentIdentity(c)))
}

func (h *Handler) GetPart(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		badRequest[model.Part](c, "id", "part id must be a positive integer")
		return
	}
	respond(c, http.StatusOK, h.svc.GetPart(c.Request.Context(), mw.CurrentIdentity(c), id))
}

func (h *Handler) CreatePart(c *gin.Context) {
	var in catalog.PartInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest[model.Part](c, "body", err.Error())
		return
	}
	respond(c, http.StatusCreated, h.svc.CreatePart(c.Request.Context(), mw.CurrentIdentity(c), in))
}

func (h *Handler) UpdatePart(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		badRequest[model.Part](c, "id", "part id must be a positive integer")
		return
	}
	var in catalog.PartInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest[model.Part](c, "body", err.Error())
		return
	}
	respond(c, http.StatusOK, h.svc.UpdatePart(c.Request.Context(), mw.CurrentIdentity(c), id, in))
}

// DeletePart handles DELETE /api/parts/:id. Machines that placed the part
// lose those placements.
func (h *Handler) DeletePart(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		badRequest[catalog.Deleted](c, "id", "part id must be a positive integer")
		return
	}
	respond(c, http.StatusOK, h.svc.DeletePart(c.Request.Context(), mw.CurrentIdentity(c), id))
}
