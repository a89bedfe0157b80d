package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/brightfund/review-api/api/swagger"
	"github.com/brightfund/review-api/internal/handler"
	"github.com/brightfund/review-api/internal/middleware"
	"github.com/brightfund/review-api/internal/repository"
	"github.com/brightfund/review-api/internal/service"
	"github.com/brightfund/review-api/pkg/cache"
	"github.com/brightfund/review-api/pkg/config"
	"github.com/brightfund/review-api/pkg/database"
	"github.com/brightfund/review-api/pkg/jobs"
	"github.com/brightfund/review-api/pkg/logger"
	corsmiddleware "github.com/brightfund/review-api/pkg/middleware/cors"
	reqidmiddleware "github.com/brightfund/review-api/pkg/middleware/requestid"
)

// @title BrightFund Review API
// @version 0.1.0
// @description Application review workflow engine
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to database", "error", err)
	}
	defer db.Close() //nolint:errcheck

	validate := validator.New()

	workflowRepo := repository.NewWorkflowRepository(db)
	stageRepo := repository.NewStageRepository(db)
	configRepo := repository.NewStageConfigRepository(db)
	rubricRepo := repository.NewRubricRepository(db)
	typeRepo := repository.NewReviewerTypeRepository(db)
	reviewerRepo := repository.NewReviewerRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	settingsRepo := repository.NewWorkspaceSettingsRepository(db)

	metricsSvc := service.NewMetricsService()

	var cacheRepo service.CacheRepository
	if cfg.Analytics.CacheEnabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, analytics cache disabled", "error", err)
		} else {
			defer redisClient.Close() //nolint:errcheck
			cacheRepo = repository.NewCacheRepository(redisClient, logr)
		}
	}
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Analytics.CacheTTL, logr, cfg.Analytics.CacheEnabled && cacheRepo != nil)
	workflowSvc := service.NewWorkflowService(workflowRepo, stageRepo, configRepo, settingsRepo, rubricRepo, typeRepo, validate, logr)
	rubricSvc := service.NewRubricService(rubricRepo, validate, logr)
	reviewerSvc := service.NewReviewerService(typeRepo, reviewerRepo, submissionRepo, cfg.Reviewers.TokenSecret, cfg.Reviewers.TokenExpiration, validate, logr)
	assignmentSvc := service.NewAssignmentService(submissionRepo, reviewerRepo, workflowSvc, cfg.Assignment.BulkWorkers, validate, logr)

	transitionSvc := service.NewTransitionService(submissionRepo, stageRepo, submissionRepo, nil, validate, logr)
	occupancyQueue := jobs.NewQueue("stage-occupancy", transitionSvc.RecountOccupancy, jobs.QueueConfig{
		Workers: 1,
		Logger:  logr,
	})
	transitionSvc.AttachQueue(occupancyQueue)
	occupancyQueue.Start(context.Background())
	defer occupancyQueue.Stop()

	scoringSvc := service.NewScoringService(submissionRepo, stageRepo, rubricRepo, transitionSvc, validate, logr)
	analyticsSvc := service.NewAnalyticsService(submissionRepo, reviewerRepo, workflowSvc, rubricRepo, cacheSvc, logr)
	exportSvc := service.NewExportService(analyticsSvc, logr)

	workflowHandler := handler.NewWorkflowHandler(workflowSvc, transitionSvc)
	rubricHandler := handler.NewRubricHandler(rubricSvc)
	reviewerHandler := handler.NewReviewerHandler(reviewerSvc, assignmentSvc, analyticsSvc)
	applicationHandler := handler.NewApplicationHandler(analyticsSvc, assignmentSvc, transitionSvc, scoringSvc, metricsSvc)
	analyticsHandler := handler.NewAnalyticsHandler(analyticsSvc, exportSvc, metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	{
		api.GET("/workflows", workflowHandler.List)
		api.POST("/workflows", workflowHandler.Create)
		api.GET("/workflows/:id", workflowHandler.Get)
		api.PATCH("/workflows/:id", workflowHandler.Update)
		api.DELETE("/workflows/:id", workflowHandler.Delete)
		api.GET("/workflows/:id/stages", workflowHandler.ListStages)
		api.POST("/workflows/:id/stages/reorder", workflowHandler.ReorderStage)
		api.GET("/workflows/:id/occupancy", workflowHandler.Occupancy)

		api.PUT("/workspaces/:workspaceId/default-workflow", workflowHandler.SetDefault)
		api.GET("/workspaces/:workspaceId/snapshot", workflowHandler.Snapshot)

		api.POST("/stages", workflowHandler.CreateStage)
		api.GET("/stages/:id", workflowHandler.GetStage)
		api.PATCH("/stages/:id", workflowHandler.UpdateStage)
		api.DELETE("/stages/:id", workflowHandler.DeleteStage)

		api.POST("/stage-configs", workflowHandler.CreateStageConfig)
		api.PUT("/stage-configs/:id", workflowHandler.UpdateStageConfig)
		api.DELETE("/stage-configs/:id", workflowHandler.DeleteStageConfig)

		api.GET("/rubrics", rubricHandler.List)
		api.POST("/rubrics", rubricHandler.Create)
		api.GET("/rubrics/:id", rubricHandler.Get)
		api.PUT("/rubrics/:id", rubricHandler.Update)
		api.DELETE("/rubrics/:id", rubricHandler.Delete)

		api.GET("/reviewer-types", reviewerHandler.ListTypes)
		api.POST("/reviewer-types", reviewerHandler.CreateType)
		api.PUT("/reviewer-types/:id", reviewerHandler.UpdateType)
		api.DELETE("/reviewer-types/:id", reviewerHandler.DeleteType)

		api.GET("/reviewers", reviewerHandler.List)
		api.POST("/reviewers", reviewerHandler.Create)
		api.PUT("/reviewers/:id/status", reviewerHandler.UpdateStatus)
		api.DELETE("/reviewers/:id", reviewerHandler.Delete)
		api.POST("/reviewer-sessions", reviewerHandler.ExchangeToken)

		api.POST("/assignments", reviewerHandler.Assign)
		api.POST("/assignments/bulk", applicationHandler.BulkAssignWorkflow)
		api.POST("/assignments/unassigned", applicationHandler.AssignAllUnassigned)

		api.GET("/applications", applicationHandler.List)
		api.PUT("/applications/:id/stage", applicationHandler.MoveToStage)
		api.POST("/applications/:id/decision", applicationHandler.RecordDecision)
		api.PATCH("/applications/:id/details", applicationHandler.UpdateDetails)

		api.GET("/analytics/report", analyticsHandler.Report)
		api.GET("/analytics/system", analyticsHandler.System)
		if cfg.Exports.Enabled {
			api.GET("/analytics/export", analyticsHandler.Export)
		}

		// Reviewer session routes carry PII redaction based on the stage
		// configuration.
		review := api.Group("/review", middleware.ReviewerAuth(reviewerSvc))
		{
			review.GET("/applications", applicationHandler.List)
			review.POST("/applications/:id/scores", applicationHandler.RecordScores)
		}

		// Staff scoring path, no session required.
		api.POST("/applications/:id/scores", applicationHandler.RecordScores)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
