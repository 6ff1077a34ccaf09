package api

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/status", s.handleGetStatus)
		v1.GET("/health", s.handleGetHealth)

		experiments := v1.Group("/experiments")
		{
			experiments.POST("", s.handleCreateExperiment)
			experiments.GET("", s.handleListExperiments)
			experiments.GET("/:id", s.handleGetExperiment)
			experiments.POST("/:id/assignments", s.handleAssignUser)
			experiments.GET("/:id/analysis", s.handleAnalyze)
			experiments.POST("/:id/stop", s.handleStop)
			experiments.GET("/:id/definition", s.handleExportDefinition)
		}

		v1.POST("/metrics", s.handleTrackMetric)
		v1.POST("/events", s.handleIngestEvent)
	}

	if s.hub != nil {
		s.router.GET("/ws/events", s.handleEventStream)
	}

	s.router.GET("/", s.handleRoot)
}
