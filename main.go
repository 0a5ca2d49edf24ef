package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	_ "github.com/joho/godotenv/autoload"

	utils "textbookflow/internal"
	"textbookflow/internal/config"
	"textbookflow/internal/notify"
	"textbookflow/internal/record"
	"textbookflow/internal/storage"
	"textbookflow/internal/upload"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	uploadCfg, err := config.LoadUploadConfig()
	if err != nil {
		log.Fatalf("🚨 Failed to load upload config: %v", err)
	}

	backend := buildBackend(ctx, cfg)
	store := buildStore(ctx, cfg)
	notifier := buildNotifier(ctx, cfg)

	uploadService := upload.NewService(backend, store, notifier, uploadCfg)
	uploadHandler := upload.NewHandler(uploadService, uploadCfg)

	mux := http.NewServeMux()

	// APIs
	mux.HandleFunc("/api/upload/pdf", uploadHandler.HandleUpload)
	mux.HandleFunc("/api/upload/pdf/{id}/status", uploadHandler.HandleStatus)
	mux.HandleFunc("/api/upload/pdf/{id}", uploadHandler.HandleDelete)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("Starting server on port %s 🚀", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start 🚨: %v", err)
		}
	}()

	signal.Notify(utils.QuitChan, syscall.SIGINT, syscall.SIGTERM)
	<-utils.QuitChan

	log.Println("Shutting down server... 🛑")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown 🚨: %v", err)
	}

	log.Println("Server exited")
}

// buildBackend picks the storage backend: S3 when a bucket is configured,
// the local filesystem otherwise.
func buildBackend(ctx context.Context, cfg *config.Config) storage.Backend {
	if cfg.S3Bucket == "" {
		log.Printf("Using local storage backend at %s", cfg.UploadRoot)
		return storage.NewLocal(cfg.UploadRoot)
	}

	backend, err := storage.NewS3Backend(ctx, cfg.S3Region, cfg.S3Bucket, cfg.AWSAccessKey, cfg.AWSSecretKey, cfg.S3Endpoint)
	if err != nil {
		utils.Shutdown(fmt.Sprintf("Failed to build S3 backend: %v", err))
	}
	log.Printf("Using S3 storage backend (bucket %s)", cfg.S3Bucket)
	return backend
}

// buildStore picks the record store: DynamoDB when an uploads table is
// configured, in-memory otherwise.
func buildStore(ctx context.Context, cfg *config.Config) record.Store {
	if cfg.UploadsTable == "" {
		return record.NewMemoryStore()
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		utils.Shutdown(fmt.Sprintf("Failed to load AWS config: %v", err))
	}
	log.Printf("Using DynamoDB record store (table %s)", cfg.UploadsTable)
	return record.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.UploadsTable)
}

// buildNotifier picks the job handoff: SQS when a queue URL is configured,
// otherwise a job-entry directory next to the upload root.
func buildNotifier(ctx context.Context, cfg *config.Config) notify.Notifier {
	if cfg.JobQueueURL != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
		if err != nil {
			utils.Shutdown(fmt.Sprintf("Failed to load AWS config: %v", err))
		}
		log.Printf("Using SQS job handoff (%s)", cfg.JobQueueURL)
		return notify.NewSQSNotifier(sqs.NewFromConfig(awsCfg), cfg.JobQueueURL)
	}

	dir := cfg.JobQueueDir
	if dir == "" {
		dir = filepath.Join(cfg.UploadRoot, "jobs")
	}
	log.Printf("Using file job queue at %s", dir)
	return notify.NewFileQueue(dir)
}
