package notify

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testJob() ExtractJob {
	return ExtractJob{
		FileID:      "file-123",
		Slug:        "physics-11-1700000000000",
		FilePath:    "uploads/pdfs/physics-11-1700000000000.pdf",
		FileName:    "physics_11.pdf",
		Subject:     "Physics",
		Grade:       "11",
		PDFType:     "normal",
		CompletedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestFileQueue_Notify(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "jobs")
	q := NewFileQueue(dir)

	require.NoError(t, q.Notify(context.Background(), testJob()))

	data, err := os.ReadFile(filepath.Join(dir, "file-123.json"))
	require.NoError(t, err)

	var got ExtractJob
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, testJob(), got)

	// No half-written temp entry left behind.
	_, err = os.Stat(filepath.Join(dir, "file-123.json.tmp"))
	assert.True(t, os.IsNotExist(err))
}

type fakeSQS struct {
	sent []string
	err  error
}

func (f *fakeSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, opts ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, aws.ToString(in.MessageBody))
	return &sqs.SendMessageOutput{}, nil
}

func TestSQSNotifier_Notify(t *testing.T) {
	fake := &fakeSQS{}
	n := NewSQSNotifier(fake, "https://sqs.us-east-1.amazonaws.com/123/jobs")

	require.NoError(t, n.Notify(context.Background(), testJob()))
	require.Len(t, fake.sent, 1)

	var got ExtractJob
	require.NoError(t, json.Unmarshal([]byte(fake.sent[0]), &got))
	assert.Equal(t, "file-123", got.FileID)
	assert.Equal(t, "uploads/pdfs/physics-11-1700000000000.pdf", got.FilePath)
}
