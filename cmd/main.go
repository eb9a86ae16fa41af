package main

import (
	"context"
	"fmt"
	"os"

	"github.com/selimacar/facetrack-backend/internal/clients/recognizer"
	"github.com/selimacar/facetrack-backend/internal/clients/redis"
	"github.com/selimacar/facetrack-backend/internal/db"
	"github.com/selimacar/facetrack-backend/internal/handlers"
	"github.com/selimacar/facetrack-backend/internal/logger"
	"github.com/selimacar/facetrack-backend/internal/repos"
	"github.com/selimacar/facetrack-backend/internal/server"
	"github.com/selimacar/facetrack-backend/internal/services"
	"github.com/selimacar/facetrack-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	batchSize := utils.GetEnvAsInt("BATCH_SIZE", 10, log)

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	subjectRepo := repos.NewSubjectRepo(thePG, log)
	faceImageRepo := repos.NewFaceImageRepo(thePG, log)
	trainingJobRepo := repos.NewTrainingJobRepo(thePG, log)
	batchTrackingRepo := repos.NewBatchTrackingRepo(thePG, log)
	counterRepo := repos.NewSystemCounterRepo(thePG, log)
	backupRecordRepo := repos.NewBackupRecordRepo(thePG, log)

	if err := counterRepo.EnsureDefaults(context.Background(), nil, batchSize); err != nil {
		log.Error("Failed to seed batch counters", "error", err)
		os.Exit(1)
	}

	// Clients
	log.Info("Setting up clients from main...")
	recognizerClient, err := recognizer.New(log)
	if err != nil {
		log.Error("Could not init recognizer client", "error", err)
		os.Exit(1)
	}
	eventBus, err := redis.NewEventBus(log)
	if err != nil {
		log.Warn("Redis event bus unavailable, pipeline events disabled", "error", err)
		eventBus = nil
	}

	// Services
	log.Info("Setting up Services from main...")
	bucketService, err := services.NewBucketService(log)
	if err != nil {
		log.Error("Could not init BucketService", "error", err)
		os.Exit(1)
	}
	enrollmentService := services.NewEnrollmentService(thePG, log, subjectRepo, faceImageRepo, bucketService)
	batchService := services.NewBatchService(thePG, log, counterRepo, batchTrackingRepo, subjectRepo, eventBus)
	stageRunner := services.NewStageRunner(thePG, log, services.DefaultStageRunnerConfig(), trainingJobRepo, subjectRepo, recognizerClient, eventBus)
	backupService := services.NewBackupService(thePG, log, subjectRepo, faceImageRepo, backupRecordRepo, bucketService)
	pipelineService := services.NewPipelineService(thePG, log, services.DefaultPipelineConfig(), counterRepo, batchTrackingRepo, stageRunner, backupService, recognizerClient, eventBus)
	statusService := services.NewStatusService(thePG, log, counterRepo, batchTrackingRepo, trainingJobRepo)

	pipelineService.StartWorker(context.Background())

	// Handlers
	log.Info("Setting up handlers from main...")
	subjectHandler := handlers.NewSubjectHandler(log, enrollmentService, batchService)
	pipelineHandler := handlers.NewPipelineHandler(log, pipelineService, statusService)
	jobsHandler := handlers.NewJobsHandler(trainingJobRepo)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		SubjectHandler:  subjectHandler,
		PipelineHandler: pipelineHandler,
		JobsHandler:     jobsHandler,
	})

	port := utils.GetEnv("PORT", "8080", log)
	fmt.Printf("Server listening on :%s\n", port)
	if err := router.Run(":" + port); err != nil {
		log.Error("Server failed", "error", err)
	}
}
