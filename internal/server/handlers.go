package server

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/warden-project/warden/internal/allocator"
	"github.com/warden-project/warden/internal/api"
	"github.com/warden-project/warden/internal/emergency"
	"github.com/warden-project/warden/internal/hostmetrics"
	"github.com/warden-project/warden/internal/logger"
	"github.com/warden-project/warden/internal/telemetry"
	"github.com/warden-project/warden/internal/types"
	"github.com/warden-project/warden/internal/version"
	"github.com/warden-project/warden/internal/workload"
	"github.com/warden-project/warden/internal/ws"
)

func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{
		"status":            "ok",
		"version":           version.Version,
		"monitoring_active": s.deps.Sup.Running(),
	}
	// Hardware counters are best-effort on the health probe
	if n, err := s.deps.GPUs.Count(c.Request.Context()); err == nil {
		resp["gpu_count"] = n
	}
	if sys, err := s.deps.Host.Status(c.Request.Context()); err == nil {
		resp["system_memory_usage"] = sys.MemoryUsage
	}
	api.Success(c, resp)
}

// statusSnapshot is the full aggregate returned by the status query. The
// compact periodic digest stays on the WebSocket feed.
type statusSnapshot struct {
	System      *hostmetrics.SystemStatus `json:"system"`
	GPUs        []telemetry.GPUStatus     `json:"gpus"`
	Allocations []allocator.Allocation    `json:"allocations"`
	Emergency   emergency.CheckResult     `json:"emergency"`
}

// handleStatus builds the aggregate snapshot from fresh telemetry. A
// failing backend degrades its slice of the snapshot instead of aborting
// the whole query.
func (s *Server) handleStatus(c *gin.Context) {
	ctx := c.Request.Context()

	statuses, err := s.deps.GPUs.AllStatuses(ctx)
	if err != nil {
		logger.GetLogger().WithError(err).Warnf("status query: telemetry unavailable")
		statuses = nil
	}
	sys, err := s.deps.Host.Status(ctx)
	if err != nil {
		logger.GetLogger().WithError(err).Warnf("status query: host metrics unavailable")
		sys = nil
	}

	api.Success(c, statusSnapshot{
		System:      sys,
		GPUs:        statuses,
		Allocations: s.deps.Allocator.List(),
		Emergency:   emergency.CheckConditions(statuses, sys),
	})
}

// gpuView couples a snapshot with its health evaluation.
type gpuView struct {
	Status telemetry.GPUStatus     `json:"status"`
	Health *telemetry.HealthReport `json:"health"`
}

func (s *Server) handleListGPUs(c *gin.Context) {
	statuses, err := s.deps.GPUs.AllStatuses(c.Request.Context())
	if err != nil {
		api.Error(c, types.ErrCodeHardwareUnavailable, "telemetry unavailable", err.Error())
		return
	}

	views := make([]gpuView, 0, len(statuses))
	for i := range statuses {
		views = append(views, gpuView{
			Status: statuses[i],
			Health: telemetry.CheckHealth(&statuses[i]),
		})
	}
	api.Success(c, views)
}

func (s *Server) handleGetGPU(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id < 0 {
		api.BadRequest(c, "invalid GPU id", c.Param("id"))
		return
	}

	status, err := s.deps.GPUs.Status(c.Request.Context(), id)
	if err != nil {
		api.Error(c, types.ErrCodeHardwareUnavailable, "telemetry unavailable", err.Error())
		return
	}
	api.Success(c, gpuView{Status: *status, Health: telemetry.CheckHealth(status)})
}

func (s *Server) handleAllocate(c *gin.Context) {
	var req allocator.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		api.BadRequest(c, "malformed request body", err.Error())
		return
	}

	alloc, err := s.deps.Allocator.Allocate(c.Request.Context(), req)
	if err != nil {
		s.writeAllocError(c, err)
		return
	}

	s.deps.Hub.Emit(ws.EventAllocation, alloc)
	api.SuccessWithStatus(c, 201, alloc)
}

// writeAllocError maps allocator errors onto API error codes.
func (s *Server) writeAllocError(c *gin.Context, err error) {
	var verr *allocator.ValidationError
	var serr *allocator.SafetyError
	switch {
	case errors.As(err, &verr):
		api.BadRequest(c, "invalid allocation request", verr.Error())
	case errors.As(err, &serr):
		api.Error(c, types.ErrCodeSafetyRejected, "request rejected by safety limits", serr.Error())
	case errors.Is(err, allocator.ErrEmergencyHold):
		api.Error(c, types.ErrCodeEmergencyActive, "allocations held", err.Error())
	case errors.Is(err, telemetry.ErrHardwareQuery):
		api.Error(c, types.ErrCodeHardwareUnavailable, "telemetry unavailable", err.Error())
	default:
		api.Internal(c, "allocation failed", err.Error())
	}
}

func (s *Server) handleGetAllocation(c *gin.Context) {
	alloc, err := s.deps.Allocator.Get(c.Param("id"))
	if err != nil {
		api.NotFound(c, "allocation not found", c.Param("id"))
		return
	}
	api.Success(c, alloc)
}

func (s *Server) handleDeallocate(c *gin.Context) {
	id := c.Param("id")
	if !s.deps.Allocator.Deallocate(c.Request.Context(), id) {
		api.NotFound(c, "allocation not found", id)
		return
	}

	s.deps.Hub.Emit(ws.EventDeallocation, gin.H{"allocation_id": id})
	api.Success(c, gin.H{"released": id})
}

func (s *Server) handleListAllocations(c *gin.Context) {
	api.Success(c, s.deps.Allocator.List())
}

func (s *Server) handleJournal(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			api.BadRequest(c, "invalid limit", raw)
			return
		}
		limit = n
	}

	recs, err := s.deps.Journal.Recent(c.Request.Context(), limit)
	if err != nil {
		api.Internal(c, "journal query failed", err.Error())
		return
	}
	api.Success(c, recs)
}

// registerWorkloadRequest binds POST /api/workloads.
type registerWorkloadRequest struct {
	Component    string `json:"component" binding:"required"`
	AllocationID string `json:"allocation_id" binding:"required"`
	PID          int    `json:"pid" binding:"required"`
}

func (s *Server) handleRegisterWorkload(c *gin.Context) {
	var req registerWorkloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.BadRequest(c, "malformed request body", err.Error())
		return
	}

	// The workload must run under a live allocation
	if _, err := s.deps.Allocator.Get(req.AllocationID); err != nil {
		api.NotFound(c, "allocation not found", req.AllocationID)
		return
	}

	if err := s.deps.Workloads.Register(req.Component, req.AllocationID, req.PID); err != nil {
		api.BadRequest(c, "invalid workload registration", err.Error())
		return
	}

	w, err := s.deps.Workloads.Lookup(req.Component)
	if err != nil {
		api.Internal(c, "workload registration lost", err.Error())
		return
	}
	api.SuccessWithStatus(c, 201, w)
}

func (s *Server) handleDeregisterWorkload(c *gin.Context) {
	component := c.Param("component")
	if !s.deps.Workloads.Deregister(component) {
		api.Error(c, types.ErrCodeWorkloadNotFound, "workload not found", component)
		return
	}
	api.Success(c, gin.H{"deregistered": component})
}

func (s *Server) handleListWorkloads(c *gin.Context) {
	list := s.deps.Workloads.List()
	// Annotate liveness so operators can spot dead registrations
	type view struct {
		workload.Workload
		Alive bool `json:"alive"`
	}
	views := make([]view, 0, len(list))
	for _, w := range list {
		views = append(views, view{Workload: w, Alive: s.deps.Workloads.Alive(w)})
	}
	api.Success(c, views)
}

func (s *Server) handleEmergencyState(c *gin.Context) {
	api.Success(c, s.deps.Protocol.State())
}

func (s *Server) handleEmergencyReset(c *gin.Context) {
	if err := s.deps.Protocol.Reset(c.Request.Context()); err != nil {
		api.Internal(c, "emergency reset failed", err.Error())
		return
	}
	api.Success(c, s.deps.Protocol.State())
}
