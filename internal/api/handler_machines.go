package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"machine-catalog-backend/internal/catalog"
	"machine-catalog-backend/internal/mw"
	"machine-catalog-backend/internal/store"
)

// ListMachines handles GET /api/machines?page=&pageSize=.
func (h *Handler) ListMachines(c *gin.Context) {
	page := queryInt(c, "page", 1)
	pageSize := queryInt(c, "pageSize", store.DefaultPageSize)
	respond(c, http.StatusOK, h.svc.ListMachines(c.Request.Context(), mw.CurrentIdentity(c), page, pageSize))
}

// GetMachine handles GET /api/machines/:id.
func (h *Handler) GetMachine(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		badRequest[store.MachineDetail](c, "id", "machine id must be a positive integer")
		return
	}
	respond(c, http.StatusOK, h.svc.GetMachine(c.Request.Context(), mw.CurrentIdentity(c), id))
}

// CreateMachine handles POST /api/machines.
func (h *Handler) CreateMachine(c *gin.Context) {
	var in catalog.MachineInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest[catalog.Created](c, "body", err.Error())
		return
	}
	respond(c, http.StatusCreated, h.svc.CreateMachine(c.Request.Context(), mw.CurrentIdentity(c), in))
}

// EditMachine handles PUT /api/machines/:id: metadata and placements
// together.
func (h *Handler) EditMachine(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		badRequest[store.MachineDetail](c, "id", "machine id must be a positive integer")
		return
	}
	var in catalog.MachineInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest[store.MachineDetail](c, "body", err.Error())
		return
	}
	respond(c, http.StatusOK, h.svc.EditMachine(c.Request.Context(), mw.CurrentIdentity(c), id, in))
}

// UpdateMachineMeta handles PATCH /api/machines/:id.
func (h *Handler) UpdateMachineMeta(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		badRequest[store.MachineDetail](c, "id", "machine id must be a positive integer")
		return
	}
	var in catalog.MetaInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest[store.MachineDetail](c, "body", err.Error())
		return
	}
	respond(c, http.StatusOK, h.svc.UpdateMachineMeta(c.Request.Context(), mw.CurrentIdentity(c), id, in))
}

// ReplacePlacements handles PUT /api/machines/:id/placements.
func (h *Handler) ReplacePlacements(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		badRequest[store.MachineDetail](c, "id", "machine id must be a positive integer")
		return
	}
	var in catalog.PlacementsInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest[store.MachineDetail](c, "body", err.Error())
		return
	}
	respond(c, http.StatusOK, h.svc.ReplacePlacements(c.Request.Context(), mw.CurrentIdentity(c), id, in))
}

// DeleteMachine handles DELETE /api/machines/:id.
func (h *Handler) DeleteMachine(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		badRequest[catalog.Deleted](c, "id", "machine id must be a positive integer")
		return
	}
	respond(c, http.StatusOK, h.svc.DeleteMachine(c.Request.Context(), mw.CurrentIdentity(c), id))
}
