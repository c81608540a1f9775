package renditions

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aspr-photos/intake/internal/apierrors"
	"github.com/aspr-photos/intake/internal/storage"
)

func ingested(t *testing.T, f *fixture) string {
	t.Helper()
	res, err := f.p.Ingest(context.Background(), jpegInput("scene.jpg", testJPEG(t, 800, 600)))
	require.NoError(t, err)
	return res.Photo.ID
}

func editInput(t *testing.T, photoID string, w, h int) EditInput {
	return EditInput{
		PhotoID:    photoID,
		Image:      FileInput{FileName: "edited.png", ContentType: "image/png", Data: testPNG(t, w, h)},
		EditType:   "crop",
		EditParams: json.RawMessage(`{"x":0,"y":0}`),
		EditedBy:   "editor@example.org",
	}
}

func TestEdit_DoubleEditKeepsOneRowPerVariant(t *testing.T) {
	f := newFixture(t)
	id := ingested(t, f)

	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	f.p.now = func() time.Time { return clock }

	first, err := f.p.Edit(context.Background(), editInput(t, id, 600, 400))
	require.NoError(t, err)
	assert.Equal(t, 2, first.Version)

	clock = clock.Add(time.Second)
	second, err := f.p.Edit(context.Background(), editInput(t, id, 300, 300))
	require.NoError(t, err)
	assert.Equal(t, 3, second.Version)
	assert.Equal(t, 300, second.Width)
	assert.Equal(t, 300, second.Height)

	rows := f.store.renditionsFor(id)
	require.Len(t, rows, len(Variants), "renditions are replaced, not duplicated")
	for _, rd := range rows {
		if rd.VariantType == VariantThumbMedium {
			assert.Equal(t, 300, rd.Width)
			assert.Equal(t, 300, rd.Height)
		}
	}

	require.Len(t, f.store.edits, 2)
	assert.NotEqual(t, *f.store.edits[0].EditedBlobPath, *f.store.edits[1].EditedBlobPath)
	for _, e := range f.store.edits {
		_, ok := f.blobs.get(*e.EditedBlobPath)
		assert.True(t, ok, "edited blob %s stored", *e.EditedBlobPath)
	}

	photo := f.store.photos[id]
	assert.Equal(t, 300, photo.Width)
	assert.Equal(t, "image/png", photo.MimeType)
	require.NotNil(t, photo.UpdatedBy)
	assert.Equal(t, "editor@example.org", *photo.UpdatedBy)

	original, _ := f.blobs.get(storage.OriginalPath(id))
	assert.Equal(t, "image/png", original.contentType, "original is replaced by the edit")

	thumbMD, _ := f.blobs.get(storage.RenditionPath(id, VariantThumbMedium))
	legacy, _ := f.blobs.get(storage.ThumbnailPath(id))
	assert.Equal(t, thumbMD.data, legacy.data)

	assert.Equal(t, []string{"photo.uploaded", "photo.edited", "photo.edited"}, f.auditor.actions())
	last := f.auditor.entries[2]
	assert.Equal(t, "crop", last.Details["editType"])
	assert.Equal(t, 300, last.Details["newWidth"])
}

func TestEdit_Defaults(t *testing.T) {
	f := newFixture(t)
	id := ingested(t, f)

	in := editInput(t, id, 100, 100)
	in.EditType, in.EditParams = "", nil
	_, err := f.p.Edit(context.Background(), in)
	require.NoError(t, err)

	require.Len(t, f.store.edits, 1)
	assert.Equal(t, "edit", f.store.edits[0].EditType)
	assert.JSONEq(t, "{}", string(f.store.edits[0].EditParams))
}

func TestEdit_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.p.Edit(context.Background(), editInput(t, "00000000-0000-0000-0000-000000000000", 10, 10))
	assert.True(t, apierrors.IsKind(err, apierrors.KindNotFound))
	assert.Zero(t, f.blobs.count())
}

func TestEdit_StaleVersionRejectedBeforeWriting(t *testing.T) {
	f := newFixture(t)
	id := ingested(t, f)
	before := f.blobs.count()

	stale := 7
	in := editInput(t, id, 50, 50)
	in.ExpectedVersion = &stale
	_, err := f.p.Edit(context.Background(), in)

	assert.True(t, apierrors.IsKind(err, apierrors.KindConflict))
	assert.Equal(t, before, f.blobs.count())
	assert.Empty(t, f.store.edits)
}

func TestEdit_MatchingVersionAccepted(t *testing.T) {
	f := newFixture(t)
	id := ingested(t, f)

	v := 1
	in := editInput(t, id, 50, 50)
	in.ExpectedVersion = &v
	res, err := f.p.Edit(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Version)
}

func TestEdit_ConcurrentWriterDetectedAtUpdate(t *testing.T) {
	f := newFixture(t)
	id := ingested(t, f)
	f.store.conflictNext = true

	before := map[string][]byte{}
	for _, path := range []string{
		storage.OriginalPath(id),
		storage.ThumbnailPath(id),
		storage.RenditionPath(id, VariantWeb),
		storage.RenditionPath(id, VariantThumbMedium),
	} {
		b, ok := f.blobs.get(path)
		require.True(t, ok, path)
		before[path] = b.data
	}
	count := f.blobs.count()

	_, err := f.p.Edit(context.Background(), editInput(t, id, 50, 50))
	assert.True(t, apierrors.IsKind(err, apierrors.KindConflict))
	assert.Empty(t, f.store.edits)

	for path, data := range before {
		after, _ := f.blobs.get(path)
		assert.Equal(t, data, after.data, "%s overwritten by the losing editor", path)
	}
	assert.Equal(t, count, f.blobs.count(), "no edited blob written")
	photo := f.store.photos[id]
	assert.Equal(t, 800, photo.Width)
	assert.Equal(t, 1, photo.Version)
}

func TestEdit_InvalidInput(t *testing.T) {
	f := newFixture(t)
	id := ingested(t, f)

	in := editInput(t, id, 10, 10)
	in.EditParams = json.RawMessage(`{not json`)
	_, err := f.p.Edit(context.Background(), in)
	assert.True(t, apierrors.IsKind(err, apierrors.KindValidation))

	in = editInput(t, id, 10, 10)
	in.Image.Data = nil
	_, err = f.p.Edit(context.Background(), in)
	assert.True(t, apierrors.IsKind(err, apierrors.KindValidation))
}

func TestParseVersion(t *testing.T) {
	v, err := ParseVersion("")
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = ParseVersion("3")
	require.NoError(t, err)
	assert.Equal(t, 3, *v)

	v, err = ParseVersion(`"4"`)
	require.NoError(t, err)
	assert.Equal(t, 4, *v)

	for _, bad := range []string{"abc", "0", "-1", `W/"2"`} {
		_, err := ParseVersion(bad)
		assert.True(t, apierrors.IsKind(err, apierrors.KindValidation), "input %q", bad)
	}
}
