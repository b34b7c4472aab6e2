package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"docsync/pkg/domain"
)

// MinioArchive keeps long-term copies of processed source documents in
// MinIO/S3 compatible storage. The staging area stays ephemeral; this
// is the durable copy.
type MinioArchive struct {
	client *minio.Client
	bucket string
}

// NewMinioArchive connects to MinIO and ensures the bucket exists.
func NewMinioArchive(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioArchive, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &MinioArchive{client: client, bucket: bucket}, nil
}

// ArchiveDocument uploads the source bytes of a document.
func (a *MinioArchive) ArchiveDocument(ctx context.Context, doc domain.Document, data []byte) error {
	opts := minio.PutObjectOptions{ContentType: doc.MimeType}
	_, err := a.client.PutObject(ctx, a.bucket, objectKey(doc), bytes.NewReader(data), int64(len(data)), opts)
	if err != nil {
		return fmt.Errorf("archive document %d: %w", doc.ID, err)
	}
	return nil
}

// RemoveDocument drops the archived copy of a document.
func (a *MinioArchive) RemoveDocument(ctx context.Context, doc domain.Document) error {
	if err := a.client.RemoveObject(ctx, a.bucket, objectKey(doc), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove archived document %d: %w", doc.ID, err)
	}
	return nil
}

func objectKey(doc domain.Document) string {
	return fmt.Sprintf("%s/%s/%s", doc.UserID, doc.RemoteFileID, doc.FileName)
}
