package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// ExtractJob tells the PDF processing worker that a finished artifact is
// ready for content extraction.
type ExtractJob struct {
	FileID      string    `json:"fileId"`
	Slug        string    `json:"fileSlug"`
	FilePath    string    `json:"filePath"`
	FileName    string    `json:"fileName"`
	Subject     string    `json:"subject"`
	Grade       string    `json:"grade"`
	PDFType     string    `json:"pdfType"`
	CompletedAt time.Time `json:"completedAt"`
}

// Notifier hands a completed upload off to the external worker. The upload
// is already durable and marked uploaded by the time Notify runs; failures
// here must never fail the upload itself.
type Notifier interface {
	Notify(ctx context.Context, job ExtractJob) error
}

// FileQueue drops one JSON job entry per completed upload into a directory
// watched by the processing worker.
type FileQueue struct {
	dir string
}

func NewFileQueue(dir string) *FileQueue {
	return &FileQueue{dir: dir}
}

func (q *FileQueue) Notify(ctx context.Context, job ExtractJob) error {
	if err := os.MkdirAll(q.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create job queue directory: %w", err)
	}

	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	// Write-then-rename so the watcher never reads a half-written entry.
	entry := filepath.Join(q.dir, job.FileID+".json")
	tmp := entry + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write job entry: %w", err)
	}
	if err := os.Rename(tmp, entry); err != nil {
		return fmt.Errorf("failed to publish job entry: %w", err)
	}

	return nil
}

// SQSAPI is the slice of the SQS client the notifier uses.
type SQSAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, opts ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSNotifier publishes completion events to an SQS queue instead of the
// local job directory.
type SQSNotifier struct {
	client   SQSAPI
	queueURL string
}

func NewSQSNotifier(client SQSAPI, queueURL string) *SQSNotifier {
	return &SQSNotifier{
		client:   client,
		queueURL: queueURL,
	}
}

func (n *SQSNotifier) Notify(ctx context.Context, job ExtractJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	_, err = n.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(n.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("failed to send job message: %w", err)
	}
	return nil
}

// Nop discards notifications. Used in tests and when no worker is wired up.
type Nop struct{}

func (Nop) Notify(ctx context.Context, job ExtractJob) error { return nil }
