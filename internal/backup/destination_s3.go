package backup

import (
	"context"
	"fmt"
	"io"
	"log"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/yourusername/bedrock-server-manager/internal/config"
)

// S3Destination stores archives in AWS S3 or S3-compatible storage
type S3Destination struct {
	config   config.BackupDestination
	s3Client *s3.S3
	uploader *s3manager.Uploader
}

// NewS3Destination creates a new S3 destination
func NewS3Destination(cfg config.BackupDestination) (*S3Destination, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsConfig := &aws.Config{
		Region: aws.String(region),
	}
	if cfg.AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}

	// Custom endpoint for S3-compatible storage (MinIO, Backblaze, etc.)
	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	client := s3.New(sess)
	log.Printf("[S3Dest] Initialized S3 destination: bucket=%s, region=%s", cfg.Bucket, region)

	return &S3Destination{
		config:   cfg,
		s3Client: client,
		uploader: s3manager.NewUploaderWithClient(client),
	}, nil
}

func (sd *S3Destination) key(filename string) string {
	return path.Join(strings.Trim(sd.config.Path, "/"), filename)
}

// Upload streams an archive to the bucket, using multipart for large archives
func (sd *S3Destination) Upload(ctx context.Context, filename string, reader io.Reader, sizeBytes int64) error {
	key := sd.key(filename)
	log.Printf("[S3Dest] Uploading %s to s3://%s/%s (%d bytes)", filename, sd.config.Bucket, key, sizeBytes)

	_, err := sd.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(sd.config.Bucket),
		Key:         aws.String(key),
		Body:        reader,
		ContentType: aws.String("application/zip"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}

	log.Printf("[S3Dest] Upload complete: %s", filename)
	return nil
}

// Delete removes an archive from the bucket
func (sd *S3Destination) Delete(ctx context.Context, filename string) error {
	_, err := sd.s3Client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(sd.config.Bucket),
		Key:    aws.String(sd.key(filename)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}
	return nil
}

// List returns the archives under the configured prefix
func (sd *S3Destination) List(ctx context.Context) ([]BackupFile, error) {
	prefix := strings.Trim(sd.config.Path, "/")
	if prefix != "" {
		prefix += "/"
	}

	var files []BackupFile
	err := sd.s3Client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(sd.config.Bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			key := aws.StringValue(obj.Key)
			if key == prefix || strings.HasSuffix(key, "/") {
				continue
			}
			// Only direct children of the prefix
			if strings.Contains(strings.TrimPrefix(key, prefix), "/") {
				continue
			}
			files = append(files, BackupFile{
				Filename:  path.Base(key),
				SizeBytes: aws.Int64Value(obj.Size),
				CreatedAt: aws.TimeValue(obj.LastModified).Unix(),
			})
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list S3 objects: %w", err)
	}

	return files, nil
}

// GetType returns the destination type
func (sd *S3Destination) GetType() string {
	return "s3"
}

// Close is a no-op; the SDK session holds no persistent connection
func (sd *S3Destination) Close() error {
	return nil
}
