package api

import (
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ajitpratap0/expflow/internal/engine"
	"github.com/ajitpratap0/expflow/internal/experiment"
)

// handleRoot identifies the service
func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "expflow API",
		"version": "1.0.0",
		"status":  "running",
		"time":    time.Now().UTC(),
	})
}

// handleGetStatus returns engine and process status
func (s *Server) handleGetStatus(c *gin.Context) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	status := s.framework.Status()
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(s.startTime).Seconds(),
		"engine": gin.H{
			"experiments":        status.Experiments,
			"active_experiments": status.ActiveExperiments,
		},
		"system": gin.H{
			"goroutines": runtime.NumGoroutine(),
			"alloc_mb":   memStats.Alloc / 1024 / 1024,
			"go_version": runtime.Version(),
		},
	})
}

// handleGetHealth is the load balancer probe
func (s *Server) handleGetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "time": time.Now().UTC()})
}

// handleCreateExperiment registers a new experiment
func (s *Server) handleCreateExperiment(c *gin.Context) {
	var cfg experiment.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	exp, err := s.framework.CreateExperiment(c.Request.Context(), cfg)
	if err != nil {
		if experiment.IsValidation(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, exp)
}

// handleListExperiments returns all experiments, optionally filtered to
// active ones via ?status=active
func (s *Server) handleListExperiments(c *gin.Context) {
	if c.Query("status") == string(experiment.StatusActive) {
		c.JSON(http.StatusOK, gin.H{"experiments": s.framework.ActiveExperiments()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"experiments": s.framework.ListExperiments()})
}

// handleGetExperiment returns one experiment with its assignment counts
func (s *Server) handleGetExperiment(c *gin.Context) {
	id, ok := s.experimentID(c)
	if !ok {
		return
	}
	exp, err := s.framework.Experiment(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"experiment":  exp,
		"assignments": s.framework.AssignmentCounts(id),
	})
}

// assignRequest is the body of POST /experiments/:id/assignments
type assignRequest struct {
	UserID  string                 `json:"user_id" binding:"required"`
	Context experiment.UserContext `json:"context"`
}

// handleAssignUser resolves the sticky variant for a user. A user outside
// the experiment (stopped, targeting miss) gets assigned=false rather than
// an error.
func (s *Server) handleAssignUser(c *gin.Context) {
	id, ok := s.experimentID(c)
	if !ok {
		return
	}
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	variant, err := s.framework.AssignUser(c.Request.Context(), req.UserID, id, req.Context)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":  req.UserID,
		"variant":  variant,
		"assigned": variant != "",
	})
}

// handleTrackMetric ingests one metric event
func (s *Server) handleTrackMetric(c *gin.Context) {
	var ev experiment.MetricEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if ev.UserID == "" || ev.Metric == "" || ev.ExperimentID == uuid.Nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id, experiment_id, and metric are required"})
		return
	}

	s.framework.TrackMetric(c.Request.Context(), &ev)
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

// handleIngestEvent ingests one external observation with no experiment id;
// the engine routes it to every active experiment declaring the metric
func (s *Server) handleIngestEvent(c *gin.Context) {
	var ev experiment.MetricEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if ev.UserID == "" || ev.Metric == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and metric are required"})
		return
	}

	routed := s.framework.IngestEvent(c.Request.Context(), &ev)
	c.JSON(http.StatusAccepted, gin.H{"accepted": true, "experiments": routed})
}

// handleAnalyze runs the statistical analysis
func (s *Server) handleAnalyze(c *gin.Context) {
	id, ok := s.experimentID(c)
	if !ok {
		return
	}
	result, err := s.framework.AnalyzeExperiment(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, experiment.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// stopRequest is the optional body of POST /experiments/:id/stop
type stopRequest struct {
	Reason string `json:"reason"`
}

// handleStop stops an experiment and returns the final analysis
func (s *Server) handleStop(c *gin.Context) {
	id, ok := s.experimentID(c)
	if !ok {
		return
	}
	var req stopRequest
	_ = c.ShouldBindJSON(&req) // body optional

	result, err := s.framework.StopExperiment(c.Request.Context(), id, engine.StopOptions{Reason: req.Reason})
	if err != nil {
		switch {
		case errors.Is(err, experiment.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, experiment.ErrNotActive):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleExportDefinition exports the versioned experiment definition,
// YAML by default or JSON via ?format=json
func (s *Server) handleExportDefinition(c *gin.Context) {
	id, ok := s.experimentID(c)
	if !ok {
		return
	}
	exp, err := s.framework.Experiment(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	def := experiment.Export(exp.ToConfig())
	if c.Query("format") == "json" {
		out, err := def.ToJSON()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Data(http.StatusOK, "application/json", out)
		return
	}
	out, err := def.ToYAML()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/x-yaml", out)
}

// experimentID parses the :id path parameter, responding 400 on garbage
func (s *Server) experimentID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid experiment id"})
		return uuid.Nil, false
	}
	return id, true
}
