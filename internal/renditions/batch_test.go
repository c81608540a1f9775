package renditions

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngestBatch_EmptyFileIsIsolated(t *testing.T) {
	f := newFixture(t)
	jpg := testJPEG(t, 80, 60)

	var inputs []Input
	for i := 1; i <= 5; i++ {
		in := jpegInput(fmt.Sprintf("photo-%d.jpg", i), jpg)
		in.Source = SourceAdmin
		if i == 3 {
			in.File.Data = nil
		}
		inputs = append(inputs, in)
	}

	res := f.p.IngestBatch(context.Background(), inputs)

	assert.False(t, res.Success)
	assert.Equal(t, 5, res.Total)
	assert.Equal(t, 4, res.Uploaded)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Results, 5)

	for i, item := range res.Results {
		assert.Equal(t, fmt.Sprintf("photo-%d.jpg", i+1), item.FileName, "results keep input order")
		if i == 2 {
			assert.Equal(t, StatusError, item.Status)
			assert.Equal(t, "Empty file: photo-3.jpg", item.Error)
			assert.Empty(t, item.PhotoID)
			continue
		}
		assert.Equal(t, StatusSuccess, item.Status)
		assert.NotEmpty(t, item.PhotoID)
		assert.Empty(t, item.Error)
	}
	assert.Len(t, f.store.photos, 4)
	assert.Len(t, f.auditor.entries, 4)
}

func TestIngestBatch_AllSucceed(t *testing.T) {
	f := newFixture(t)
	jpg := testJPEG(t, 40, 30)
	inputs := []Input{jpegInput("a.jpg", jpg), jpegInput("b.jpg", jpg)}

	res := f.p.IngestBatch(context.Background(), inputs)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Uploaded)
	assert.Zero(t, res.Failed)
}

func TestIngestBatch_StorageErrorHidesDetail(t *testing.T) {
	f := newFixture(t)
	f.blobs.failOn = "/original"

	res := f.p.IngestBatch(context.Background(), []Input{jpegInput("a.jpg", testJPEG(t, 40, 30))})
	require.Len(t, res.Results, 1)
	assert.Equal(t, StatusError, res.Results[0].Status)
	assert.Equal(t, "Internal server error", res.Results[0].Error)
}

func TestIngestBatch_CancelledBeforeStart(t *testing.T) {
	f := newFixture(t)
	jpg := testJPEG(t, 40, 30)
	inputs := []Input{jpegInput("a.jpg", jpg), jpegInput("b.jpg", jpg), jpegInput("c.jpg", jpg)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := f.p.IngestBatch(ctx, inputs)

	assert.Equal(t, 3, res.Failed)
	assert.Zero(t, res.Uploaded)
	for _, item := range res.Results {
		assert.Equal(t, StatusError, item.Status)
		assert.Equal(t, cancelledMessage, item.Error)
	}
	assert.Empty(t, f.store.photos)
}

func TestIngestBatch_Empty(t *testing.T) {
	f := newFixture(t)
	res := f.p.IngestBatch(context.Background(), nil)
	assert.True(t, res.Success)
	assert.Zero(t, res.Total)
	assert.NotNil(t, res.Results)
}
