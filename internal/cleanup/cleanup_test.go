package cleanup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackrun/stackrun/internal/aws"
)

func seed(api *aws.MockObjectAPI, bucket, prefix string, n int) []string {
	keys := make([]string, n)
	for i := range keys {
		keys[i] = fmt.Sprintf("%spart-%05d", prefix, i)
		api.Put(bucket, keys[i], nil)
	}
	return keys
}

func TestClean_Batching(t *testing.T) {
	for _, n := range []int{0, 1, 999, 1000, 1001, 2500} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			api := aws.NewMockObjectAPI(nil)
			api.PageSize = 700
			prefix := "outputs/s/j/"
			want := seed(api, "bkt", prefix, n)
			api.Put("bkt", "outputs/s/other/keep", nil)

			report := NewCoordinator(aws.NewObjectStore(api), nil, 0).Clean(context.Background(), Target{
				Bucket:       "bkt",
				OutputPrefix: prefix,
			})

			wantBatches := (n + aws.MaxDeleteBatch - 1) / aws.MaxDeleteBatch
			assert.Len(t, api.DeleteObjectsCalls, wantBatches)
			assert.Equal(t, wantBatches, report.Batches)
			assert.Equal(t, n, report.ObjectsDeleted)
			assert.Empty(t, report.Warnings)

			var got []string
			for _, batch := range api.DeleteObjectsCalls {
				assert.LessOrEqual(t, len(batch), aws.MaxDeleteBatch)
				got = append(got, batch...)
			}
			sort.Strings(got)
			if n == 0 {
				assert.Empty(t, got)
			} else {
				assert.Equal(t, want, got)
			}
			assert.True(t, api.Has("bkt", "outputs/s/other/keep"))
		})
	}
}

func TestClean_ArtifactAndOutput(t *testing.T) {
	log := &aws.CallLog{}
	api := aws.NewMockObjectAPI(log)
	api.Put("bkt", "apps/s/job.py", []byte("x"))
	seed(api, "bkt", "outputs/s/wc1/", 3)

	report := NewCoordinator(aws.NewObjectStore(api), nil, 0).Clean(context.Background(), Target{
		Bucket:       "bkt",
		ArtifactKey:  "apps/s/job.py",
		OutputPrefix: "outputs/s/wc1/",
	})

	assert.True(t, report.ArtifactDeleted)
	assert.Equal(t, 3, report.ObjectsDeleted)
	assert.Empty(t, api.Objects)
	assert.Equal(t, []string{"s3:DeleteObject", "s3:ListObjectsV2", "s3:DeleteObjects"}, log.Calls())
}

func TestClean_NoBucketIsNoop(t *testing.T) {
	log := &aws.CallLog{}
	api := aws.NewMockObjectAPI(log)

	report := NewCoordinator(aws.NewObjectStore(api), nil, 0).Clean(context.Background(), Target{
		ArtifactKey:  "apps/s/job.py",
		OutputPrefix: "outputs/s/wc1/",
	})

	assert.Empty(t, log.Calls())
	assert.False(t, report.ArtifactDeleted)
	assert.Empty(t, report.Warnings)
}

func TestClean_FailuresAreWarnings(t *testing.T) {
	api := aws.NewMockObjectAPI(nil)
	seed(api, "bkt", "outputs/s/wc1/", 3)
	api.DeleteErr = errors.New("access denied")
	api.KeyErrors = map[string]string{"outputs/s/wc1/part-00001": "AccessDenied"}

	report := NewCoordinator(aws.NewObjectStore(api), nil, 0).Clean(context.Background(), Target{
		Bucket:       "bkt",
		ArtifactKey:  "apps/s/job.py",
		OutputPrefix: "outputs/s/wc1/",
	})

	assert.False(t, report.ArtifactDeleted)
	assert.Equal(t, 2, report.ObjectsDeleted)
	require.Len(t, report.Warnings, 2)
	assert.Contains(t, report.Warnings[0], "deleting artifact")
	assert.Contains(t, report.Warnings[1], "part-00001")
}

func TestClean_ListFailure(t *testing.T) {
	api := aws.NewMockObjectAPI(nil)
	api.ListErr = errors.New("throttled")

	report := NewCoordinator(aws.NewObjectStore(api), nil, 0).Clean(context.Background(), Target{
		Bucket:       "bkt",
		OutputPrefix: "outputs/s/wc1/",
	})

	assert.Zero(t, report.Batches)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "listing job output")
}

func TestClean_BatchFailureContinues(t *testing.T) {
	api := aws.NewMockObjectAPI(nil)
	seed(api, "bkt", "out/", 5)
	api.DeleteObjectsErr = errors.New("slow down")

	report := NewCoordinator(aws.NewObjectStore(api), nil, 2).Clean(context.Background(), Target{
		Bucket:       "bkt",
		OutputPrefix: "out/",
	})

	assert.Equal(t, 3, report.Batches)
	assert.Len(t, report.Warnings, 3)
	assert.Zero(t, report.ObjectsDeleted)
}

func TestBatcher(t *testing.T) {
	var batches [][]string
	b := &batcher{size: 2, flush: func(keys []string) { batches = append(batches, keys) }}
	b.add("a")
	b.add("b", "c")
	b.add("d", "e")
	b.close()
	b.close()
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}, {"e"}}, batches)
}
