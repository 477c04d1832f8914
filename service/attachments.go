package services

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/Itish41/IAOMS/config"
	"github.com/Itish41/IAOMS/models"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// AttachmentStorage uploads attachment blobs to the Supabase S3 bucket.
type AttachmentStorage struct {
	s3Client  s3iface.S3API
	bucket    string
	publicURL string
}

// NewAttachmentStorage returns nil when storage is not configured.
func NewAttachmentStorage(cfg config.StorageConfig) (*AttachmentStorage, error) {
	if cfg.Region == "" || cfg.Endpoint == "" || cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, nil
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name not configured")
	}

	sess, err := session.NewSession(&aws.Config{
		Region:           aws.String(cfg.Region),
		Endpoint:         aws.String(cfg.Endpoint),
		DisableSSL:       aws.Bool(false),
		Credentials:      credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""),
		S3ForcePathStyle: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return &AttachmentStorage{s3Client: s3.New(sess), bucket: cfg.Bucket, publicURL: cfg.PublicURL}, nil
}

// Upload stores data under documentID and returns the attachment reference.
func (s *AttachmentStorage) Upload(ctx context.Context, documentID, filename, contentType string, data []byte) (models.Attachment, error) {
	name := filepath.Base(filename)
	key := fmt.Sprintf("%s/%d-%s", documentID, time.Now().Unix(), strings.ReplaceAll(name, " ", "_"))

	_, err := s.s3Client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return models.Attachment{}, fmt.Errorf("failed to upload file to S3: %w", err)
	}

	return models.Attachment{
		Key:         key,
		Name:        name,
		URL:         fmt.Sprintf("%s/object/public/%s/%s", s.publicURL, s.bucket, key),
		ContentType: contentType,
		Size:        int64(len(data)),
	}, nil
}
