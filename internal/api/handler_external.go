package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"machine-catalog-backend/internal/catalog"
	"machine-catalog-backend/internal/store"
)

type assignRequest struct {
	UserID     string  `json:"userId"`
	MachineIDs []int64 `json:"machineIds"`
}

// ListMachineRefs handles GET /external/machines.
func (h *Handler) ListMachineRefs(c *gin.Context) {
	respond(c, http.StatusOK, h.svc.MachineRefs(c.Request.Context()))
}

// AssignMachines handles POST /external/user-machines.
func (h *Handler) AssignMachines(c *gin.Context) {
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest[store.AssignResult](c, "body", err.Error())
		return
	}
	respond(c, http.StatusOK, h.svc.AssignMachines(c.Request.Context(), req.UserID, req.MachineIDs))
}

// UnassignMachine handles DELETE /external/user-machines/:userId/:machineId.
func (h *Handler) UnassignMachine(c *gin.Context) {
	machineID, ok := pathID(c, "machineId")
	if !ok {
		badRequest[catalog.Deleted](c, "machineId", "machine id must be a positive integer")
		return
	}
	respond(c, http.StatusOK, h.svc.UnassignMachine(c.Request.Context(), c.Param("userId"), machineID))
}
