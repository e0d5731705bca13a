// Package cleanup removes the objects a run leaves in the artifact bucket.
package cleanup

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/stackrun/stackrun/internal/aws"
)

// Target names what to remove. Empty fields are skipped.
type Target struct {
	Bucket       string
	ArtifactKey  string
	OutputPrefix string
}

// Report describes what a cleanup pass did. Failures are collected as
// warnings instead of being returned.
type Report struct {
	ArtifactDeleted bool
	ObjectsDeleted  int
	Batches         int
	Warnings        []string
}

func (r *Report) warn(logger *zap.Logger, msg string, err error) {
	logger.Warn(msg, zap.Error(err))
	r.Warnings = append(r.Warnings, fmt.Sprintf("%s: %v", msg, err))
}

// Coordinator deletes the artifact and everything under the output prefix.
type Coordinator struct {
	store     *aws.ObjectStore
	logger    *zap.Logger
	batchSize int
}

// NewCoordinator creates a cleanup coordinator. A batchSize outside
// 1..aws.MaxDeleteBatch uses aws.MaxDeleteBatch.
func NewCoordinator(store *aws.ObjectStore, logger *zap.Logger, batchSize int) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if batchSize <= 0 || batchSize > aws.MaxDeleteBatch {
		batchSize = aws.MaxDeleteBatch
	}
	return &Coordinator{store: store, logger: logger, batchSize: batchSize}
}

// Clean removes t's objects. It never fails; see Report.Warnings.
func (c *Coordinator) Clean(ctx context.Context, t Target) *Report {
	report := &Report{}
	if t.Bucket == "" {
		c.logger.Info("No artifact bucket known, skipping cleanup")
		return report
	}

	if t.ArtifactKey != "" {
		c.logger.Info("Deleting artifact", zap.String("uri", aws.S3URI(t.Bucket, t.ArtifactKey)))
		if err := c.store.DeleteObject(ctx, t.Bucket, t.ArtifactKey); err != nil {
			report.warn(c.logger, "deleting artifact", err)
		} else {
			report.ArtifactDeleted = true
		}
	}

	if t.OutputPrefix != "" {
		c.cleanPrefix(ctx, t.Bucket, t.OutputPrefix, report)
	}
	return report
}

func (c *Coordinator) cleanPrefix(ctx context.Context, bucket, prefix string, report *Report) {
	c.logger.Info("Deleting job output", zap.String("uri", aws.S3URI(bucket, prefix)))

	b := &batcher{size: c.batchSize, flush: func(keys []string) {
		report.Batches++
		failed, err := c.store.DeleteKeys(ctx, bucket, keys)
		if err != nil {
			report.warn(c.logger, "deleting output batch", err)
			return
		}
		for _, f := range failed {
			c.logger.Warn("Object not deleted",
				zap.String("key", f.Key), zap.String("code", f.Code), zap.String("message", f.Message))
			report.Warnings = append(report.Warnings, fmt.Sprintf("object %s not deleted: %s", f.Key, f.Code))
		}
		report.ObjectsDeleted += len(keys) - len(failed)
	}}

	err := c.store.WalkPrefix(ctx, bucket, prefix, func(keys []string) error {
		b.add(keys...)
		return nil
	})
	// Whatever was listed before a failure still gets deleted.
	b.close()
	if err != nil {
		report.warn(c.logger, "listing job output", err)
	}

	c.logger.Info("Output cleanup finished",
		zap.Int("deleted", report.ObjectsDeleted), zap.Int("batches", report.Batches))
}

// batcher accumulates keys across listing pages and flushes full batches.
type batcher struct {
	size    int
	pending []string
	flush   func(keys []string)
}

func (b *batcher) add(keys ...string) {
	for _, k := range keys {
		b.pending = append(b.pending, k)
		if len(b.pending) == b.size {
			b.flush(b.pending)
			b.pending = nil
		}
	}
}

func (b *batcher) close() {
	if len(b.pending) > 0 {
		b.flush(b.pending)
		b.pending = nil
	}
}
