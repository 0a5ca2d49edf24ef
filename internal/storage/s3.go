package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

const (
	pdfContentType = "application/pdf"

	// S3 rejects multipart parts below 5 MB except the last one.
	minPartSize = 5 * 1024 * 1024
)

// S3API is the slice of the S3 client the backend drives, narrowed for tests.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, opts ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPartCopy(ctx context.Context, in *s3.UploadPartCopyInput, opts ...func(*s3.Options)) (*s3.UploadPartCopyOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, opts ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// S3Backend stores final PDFs under pdfs/ and in-flight chunks under chunks/
// in a single bucket.
type S3Backend struct {
	client   S3API
	bucket   string
	region   string
	endpoint string
}

func NewS3Backend(ctx context.Context, region, bucket, accessKey, secretKey, endpoint string) (*S3Backend, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 backend requires a bucket name")
	}

	var cfg aws.Config
	var err error

	if accessKey != "" && secretKey != "" {
		cfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		)
	} else {
		cfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Backend{
		client:   client,
		bucket:   bucket,
		region:   region,
		endpoint: endpoint,
	}, nil
}

func (b *S3Backend) SaveFile(ctx context.Context, data []byte, slug string) (string, error) {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(finalKey(slug)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(pdfContentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to save file: %w", err)
	}

	return FinalPath(slug), nil
}

func (b *S3Backend) SaveChunk(ctx context.Context, data []byte, slug string, index, totalChunks int) (string, error) {
	key := chunkKey(slug, index)

	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("failed to save chunk %d: %w", index, err)
	}

	return key, nil
}

func (b *S3Backend) FinalizeUpload(ctx context.Context, slug string, totalChunks int) error {
	if totalChunks == 1 {
		if err := b.copySingleChunk(ctx, slug); err != nil {
			return err
		}
		b.deleteChunks(ctx, slug, totalChunks)
		return nil
	}

	// All chunks except the last share one size; the first chunk tells us
	// whether the parts are big enough for UploadPartCopy.
	head, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(chunkKey(slug, 0)),
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s chunk 0", ErrChunkMissing, slug)
		}
		return fmt.Errorf("failed to stat chunk 0: %w", err)
	}

	if aws.ToInt64(head.ContentLength) < minPartSize {
		if err := b.streamMerge(ctx, slug, totalChunks); err != nil {
			return err
		}
	} else {
		if err := b.multipartCopy(ctx, slug, totalChunks); err != nil {
			return err
		}
	}

	b.deleteChunks(ctx, slug, totalChunks)
	return nil
}

func (b *S3Backend) copySingleChunk(ctx context.Context, slug string) error {
	_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(b.bucket),
		Key:               aws.String(finalKey(slug)),
		CopySource:        aws.String(b.bucket + "/" + chunkKey(slug, 0)),
		ContentType:       aws.String(pdfContentType),
		MetadataDirective: s3types.MetadataDirectiveReplace,
	})
	if err != nil {
		return fmt.Errorf("failed to copy chunk: %w", err)
	}
	return nil
}

// streamMerge downloads every chunk in index order and writes the
// concatenation as one object. Used when chunks are below the S3 minimum
// part size.
func (b *S3Backend) streamMerge(ctx context.Context, slug string, totalChunks int) error {
	var buf bytes.Buffer

	for i := 0; i < totalChunks; i++ {
		out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(chunkKey(slug, i)),
		})
		if err != nil {
			if isNotFound(err) {
				return fmt.Errorf("%w: %s chunk %d", ErrChunkMissing, slug, i)
			}
			return fmt.Errorf("failed to get chunk %d: %w", i, err)
		}

		if _, err := io.Copy(&buf, out.Body); err != nil {
			out.Body.Close()
			return fmt.Errorf("failed to read chunk %d: %w", i, err)
		}
		out.Body.Close()
	}

	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(finalKey(slug)),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String(pdfContentType),
	})
	if err != nil {
		return fmt.Errorf("failed to put merged file: %w", err)
	}
	return nil
}

// multipartCopy assembles the final object server-side: one UploadPartCopy
// per chunk, part numbers following chunk indices so order never depends on
// listing order.
func (b *S3Backend) multipartCopy(ctx context.Context, slug string, totalChunks int) (err error) {
	createOut, err := b.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(finalKey(slug)),
		ContentType: aws.String(pdfContentType),
	})
	if err != nil {
		return fmt.Errorf("failed to create multipart upload: %w", err)
	}

	uploadID := aws.ToString(createOut.UploadId)

	defer func() {
		if err != nil {
			if _, abortErr := b.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
				Bucket:   aws.String(b.bucket),
				Key:      aws.String(finalKey(slug)),
				UploadId: aws.String(uploadID),
			}); abortErr != nil {
				slog.Error("failed to abort multipart upload", "slug", slug, "upload_id", uploadID, "error", abortErr)
			}
		}
	}()

	completed := make([]s3types.CompletedPart, 0, totalChunks)
	for i := 0; i < totalChunks; i++ {
		partNumber := int32(i + 1)

		copyOut, copyErr := b.client.UploadPartCopy(ctx, &s3.UploadPartCopyInput{
			Bucket:     aws.String(b.bucket),
			Key:        aws.String(finalKey(slug)),
			UploadId:   aws.String(uploadID),
			PartNumber: aws.Int32(partNumber),
			CopySource: aws.String(b.bucket + "/" + chunkKey(slug, i)),
		})
		if copyErr != nil {
			if isNotFound(copyErr) {
				err = fmt.Errorf("%w: %s chunk %d", ErrChunkMissing, slug, i)
				return err
			}
			err = fmt.Errorf("failed to copy part %d: %w", partNumber, copyErr)
			return err
		}

		completed = append(completed, s3types.CompletedPart{
			PartNumber: aws.Int32(partNumber),
			ETag:       copyOut.CopyPartResult.ETag,
		})
	}

	_, err = b.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(b.bucket),
		Key:      aws.String(finalKey(slug)),
		UploadId: aws.String(uploadID),
		MultipartUpload: &s3types.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	if err != nil {
		err = fmt.Errorf("failed to complete multipart upload: %w", err)
		return err
	}

	return nil
}

// deleteChunks removes chunk objects after a successful finalize. Losing a
// stale chunk is preferable to failing a finished upload, so errors are
// only logged.
func (b *S3Backend) deleteChunks(ctx context.Context, slug string, totalChunks int) {
	for i := 0; i < totalChunks; i++ {
		_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(chunkKey(slug, i)),
		})
		if err != nil {
			slog.Warn("failed to delete chunk after finalize", "slug", slug, "index", i, "error", err)
		}
	}
}

func (b *S3Backend) FileURL(path string) string {
	key := strings.TrimPrefix(path, "uploads/")
	if b.endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(b.endpoint, "/"), b.bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", b.bucket, b.region, key)
}

func (b *S3Backend) DeleteFile(ctx context.Context, path string) error {
	key := strings.TrimPrefix(path, "uploads/")

	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

func finalKey(slug string) string {
	return "pdfs/" + slug + ".pdf"
}

func chunkKey(slug string, index int) string {
	return fmt.Sprintf("chunks/%s_%d", slug, index)
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
