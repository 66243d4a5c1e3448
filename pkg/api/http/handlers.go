package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aescanero/modkernel/internal/application/manager"
	"github.com/aescanero/modkernel/internal/application/registry"
	"github.com/aescanero/modkernel/internal/kernel"
	"github.com/aescanero/modkernel/pkg/domain"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// OutcomeResponse is the result of one request of a group
type OutcomeResponse struct {
	Index      int                `json:"index"`
	Target     string             `json:"target"`
	Coordinate *domain.Coordinate `json:"coordinate,omitempty"`
	Action     domain.Action      `json:"action"`
	Status     string             `json:"status"`
	Phase      string             `json:"phase,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// GroupResponse is returned once a committed group finished, or timed out
type GroupResponse struct {
	Status   string            `json:"status"`
	Outcomes []OutcomeResponse `json:"outcomes,omitempty"`
}

func (s *Server) fail(c *gin.Context, status int, code, message string, details interface{}) {
	c.JSON(status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// handleHealth reports the kernel state; only a running kernel is healthy
func (s *Server) handleHealth(c *gin.Context) {
	state := s.kernel.State()
	status, code := "healthy", http.StatusOK
	if state != kernel.StateRunning {
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"checks": gin.H{
			"kernel": state.String(),
		},
	})
}

func (s *Server) handleListModules(c *gin.Context) {
	modules := s.kernel.Modules()
	infos := make([]domain.ModuleInfo, len(modules))
	for i, m := range modules {
		infos[i] = m.Info()
	}
	c.JSON(http.StatusOK, gin.H{
		"modules": infos,
		"total":   len(infos),
	})
}

func (s *Server) handleGetModule(c *gin.Context) {
	coord, ok := s.coordinateParam(c)
	if !ok {
		return
	}
	m, err := s.kernel.Module(coord)
	if errors.Is(err, registry.ErrModuleNotFound) {
		s.fail(c, http.StatusNotFound, "NOT_FOUND", "Module not found", nil)
		return
	}
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "LOOKUP_FAILED", err.Error(), nil)
		return
	}
	c.JSON(http.StatusOK, m.Info())
}

// handleModuleAction applies one lifecycle action to one module
func (s *Server) handleModuleAction(c *gin.Context) {
	coord, ok := s.coordinateParam(c)
	if !ok {
		return
	}
	group := domain.NewLifecycleChangeGroup(domain.LifecycleChangeRequest{
		Coordinate: coord,
		Action:     domain.Action(c.Param("action")),
	})
	prep, err := s.kernel.ModuleManager().PrepareLifecycle(group)
	if err != nil {
		s.rejectGroup(c, err)
		return
	}
	s.commit(c, prep)
}

func (s *Server) handleInstall(c *gin.Context) {
	var group domain.InstallationGroup
	if err := c.ShouldBindJSON(&group); err != nil {
		s.fail(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}
	prep, err := s.kernel.ModuleManager().PrepareInstall(group)
	if err != nil {
		s.rejectGroup(c, err)
		return
	}
	s.commit(c, prep)
}

func (s *Server) handleLifecycle(c *gin.Context) {
	var group domain.LifecycleChangeGroup
	if err := c.ShouldBindJSON(&group); err != nil {
		s.fail(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}
	prep, err := s.kernel.ModuleManager().PrepareLifecycle(group)
	if err != nil {
		s.rejectGroup(c, err)
		return
	}
	s.commit(c, prep)
}

// commit submits a prepared group and waits for its outcomes. When the wait
// times out the group keeps running and 202 is returned.
func (s *Server) commit(c *gin.Context, prep *manager.Preparation) {
	if s.kernel.State() != kernel.StateRunning {
		s.fail(c, http.StatusServiceUnavailable, "KERNEL_NOT_RUNNING",
			"Kernel is "+s.kernel.State().String(), nil)
		return
	}

	f := prep.Commit(context.WithoutCancel(c.Request.Context()))

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.requestTimeout)
	defer cancel()
	outcomes, err := f.Wait(ctx)
	if err != nil {
		s.logger.Warn("request group still running", zap.Int("requests", prep.Len()), zap.Error(err))
		c.JSON(http.StatusAccepted, GroupResponse{Status: "pending"})
		return
	}

	resp := GroupResponse{Status: "completed", Outcomes: make([]OutcomeResponse, len(outcomes))}
	for i, o := range outcomes {
		resp.Outcomes[i] = outcomeResponse(o)
		if o.Err != nil {
			resp.Status = "partial"
		}
	}
	if resp.Status == "partial" && allFailed(outcomes) {
		resp.Status = "failed"
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) rejectGroup(c *gin.Context, err error) {
	var verr *manager.ValidationError
	if errors.As(err, &verr) {
		s.fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Request group rejected", verr.Problems)
		return
	}
	s.fail(c, http.StatusUnprocessableEntity, "SUBMISSION_FAILED", err.Error(), nil)
}

func (s *Server) handleSchedule(c *gin.Context) {
	levels, err := s.kernel.ModuleManager().Schedule()
	if err != nil {
		s.fail(c, http.StatusConflict, "SCHEDULE_FAILED", err.Error(), nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"levels": levels})
}

func (s *Server) handleKernelStatus(c *gin.Context) {
	counts := make(map[string]int)
	for _, m := range s.kernel.Modules() {
		counts[m.State().String()]++
	}
	c.JSON(http.StatusOK, gin.H{
		"state":     s.kernel.State().String(),
		"modules":   counts,
		"processes": s.kernel.Scheduler().Active(),
	})
}

func (s *Server) handleReload(c *gin.Context) {
	if err := s.kernel.Reload(c.Request.Context()); err != nil {
		s.logger.Error("kernel reload failed", zap.Error(err))
		status := http.StatusInternalServerError
		if errors.Is(err, kernel.ErrKernelState) {
			status = http.StatusConflict
		}
		s.fail(c, status, "RELOAD_FAILED", err.Error(), nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": s.kernel.State().String()})
}

func (s *Server) handleWorkers(c *gin.Context) {
	if s.pool == nil {
		s.fail(c, http.StatusServiceUnavailable, "POOL_NOT_AVAILABLE", "Worker pool is not configured", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"health":  s.pool.Health().GetStatus(),
		"workers": s.pool.GetStatus(),
	})
}

func (s *Server) coordinateParam(c *gin.Context) (domain.Coordinate, bool) {
	coord, err := domain.ParseCoordinate(c.Param("coordinate"))
	if err != nil {
		s.fail(c, http.StatusBadRequest, "INVALID_COORDINATE", err.Error(), nil)
		return domain.Coordinate{}, false
	}
	return coord, true
}

func outcomeResponse(o domain.Outcome) OutcomeResponse {
	r := OutcomeResponse{
		Index:  o.Index,
		Target: o.Target,
		Action: o.Action,
		Status: "succeeded",
		Phase:  o.Phase,
	}
	if !o.Coordinate.IsZero() {
		c := o.Coordinate
		r.Coordinate = &c
	}
	if o.Err != nil {
		r.Status = "failed"
		if errors.Is(o.Err, manager.ErrModuleBusy) {
			r.Status = "busy"
		}
		r.Error = o.Err.Error()
	}
	return r
}

func allFailed(outcomes []domain.Outcome) bool {
	for _, o := range outcomes {
		if o.Err == nil {
			return false
		}
	}
	return true
}
