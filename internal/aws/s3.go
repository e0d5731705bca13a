package aws

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

// MaxDeleteBatch is the most keys one DeleteObjects call accepts.
const MaxDeleteBatch = 1000

// ArtifactKey returns the object key of an uploaded job artifact:
// apps/<stack-name>/<artifact-file-name>.
func ArtifactKey(stackName, artifactPath string) string {
	return path.Join("apps", stackName, filepath.Base(artifactPath))
}

// OutputPrefix returns the key prefix the job writes results under:
// outputs/<stack-name>/<job-name>/.
func OutputPrefix(stackName, jobName string) string {
	return path.Join("outputs", stackName, jobName) + "/"
}

// S3URI formats an s3:// URI. Trailing slashes on key are kept.
func S3URI(bucket, key string) string {
	return fmt.Sprintf("s3://%s/%s", bucket, key)
}

// ArtifactUploader pushes the local job artifact to the artifact bucket.
type ArtifactUploader struct {
	api    ObjectAPI
	logger *zap.Logger
}

// NewArtifactUploader creates an artifact uploader.
func NewArtifactUploader(api ObjectAPI, logger *zap.Logger) *ArtifactUploader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArtifactUploader{api: api, logger: logger}
}

// Upload puts localPath at ArtifactKey(stackName, localPath) in bucket and
// returns the key. Re-uploading overwrites the previous object.
func (u *ArtifactUploader) Upload(ctx context.Context, bucket, stackName, localPath string) (string, error) {
	key := ArtifactKey(stackName, localPath)

	f, err := os.Open(localPath)
	if err != nil {
		return "", stageErr(StageUpload, ErrUpload, fmt.Errorf("opening artifact %s: %w", localPath, err))
	}
	defer f.Close()

	u.logger.Info("Uploading artifact", zap.String("path", localPath), zap.String("uri", S3URI(bucket, key)))
	_, err = u.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return "", stageErr(StageUpload, ErrUpload, fmt.Errorf("uploading file to %s: %w", S3URI(bucket, key), err))
	}
	return key, nil
}

// KeyError is a per-key failure reported by DeleteObjects.
type KeyError struct {
	Key     string
	Code    string
	Message string
}

// ObjectStore exposes the listing and deletion primitives cleanup needs.
type ObjectStore struct {
	api ObjectAPI
}

// NewObjectStore creates an object store over the given S3 API.
func NewObjectStore(api ObjectAPI) *ObjectStore {
	return &ObjectStore{api: api}
}

// DeleteObject deletes a single key.
func (s *ObjectStore) DeleteObject(ctx context.Context, bucket, key string) error {
	_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("deleting %s: %w", S3URI(bucket, key), err)
	}
	return nil
}

// WalkPrefix pages through every key under prefix and calls fn for each page.
func (s *ObjectStore) WalkPrefix(ctx context.Context, bucket, prefix string, fn func(keys []string) error) error {
	paginator := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("listing objects under %s: %w", S3URI(bucket, prefix), err)
		}
		if len(page.Contents) == 0 {
			continue
		}

		keys := make([]string, 0, len(page.Contents))
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		if err := fn(keys); err != nil {
			return err
		}
	}
	return nil
}

// DeleteKeys removes up to MaxDeleteBatch keys in one quiet DeleteObjects
// call and returns the keys S3 refused to delete.
func (s *ObjectStore) DeleteKeys(ctx context.Context, bucket string, keys []string) ([]KeyError, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	if len(keys) > MaxDeleteBatch {
		return nil, fmt.Errorf("batch of %d keys exceeds the limit of %d", len(keys), MaxDeleteBatch)
	}

	objects := make([]s3types.ObjectIdentifier, len(keys))
	for i, k := range keys {
		objects[i] = s3types.ObjectIdentifier{Key: aws.String(k)}
	}

	out, err := s.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(bucket),
		Delete: &s3types.Delete{Objects: objects, Quiet: aws.Bool(true)},
	})
	if err != nil {
		return nil, fmt.Errorf("deleting %d objects in bucket %s: %w", len(keys), bucket, err)
	}

	var failed []KeyError
	for _, e := range out.Errors {
		failed = append(failed, KeyError{
			Key:     aws.ToString(e.Key),
			Code:    aws.ToString(e.Code),
			Message: aws.ToString(e.Message),
		})
	}
	return failed, nil
}
