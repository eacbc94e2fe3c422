package images

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	xwebp "golang.org/x/image/webp"

	"github.com/adminx/perfgate/internal/common/configtypes"
	"github.com/adminx/perfgate/pkg/types"
)

const uploadsURL = "https://example.com/wp-content/uploads"

func defaultOptions() configtypes.FeatureOptions {
	return configtypes.FeatureOptions{
		ImageOptimization: true,
		ImageQuality:      85,
		WebPEnabled:       true,
		WebPQuality:       80,
	}
}

func newOptimizer(t *testing.T, store AttachmentStore, opts configtypes.FeatureOptions) (*Optimizer, string) {
	t.Helper()
	dir := t.TempDir()
	o, err := NewOptimizer(Config{UploadsURL: uploadsURL, UploadsDir: dir}, store, configtypes.StaticOptions(opts), zap.NewNop())
	require.NoError(t, err)
	return o, o.uploads.Root()
}

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 4), B: uint8((x * y) % 256), A: 255})
		}
	}
	return img
}

// photoImage is a noisy gradient that compresses like a photograph
func photoImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 400, 300))
	seed := uint32(7)
	for y := 0; y < 300; y++ {
		for x := 0; x < 400; x++ {
			seed = seed*1664525 + 1013904223
			noise := uint8(seed >> 27)
			img.Set(x, y, color.RGBA{R: uint8(x/2) + noise, G: uint8(y/2) + noise, B: uint8((x+y)/4) + noise, A: 255})
		}
	}
	return img
}

func writeJPEG(t *testing.T, path string, quality int) int64 {
	t.Helper()
	return writeJPEGImage(t, path, testImage(), quality)
}

func writeJPEGImage(t *testing.T, path string, img image.Image, quality int) int64 {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	return int64(buf.Len())
}

func writePNG(t *testing.T, path string) int64 {
	t.Helper()
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.NoCompression}
	require.NoError(t, enc.Encode(&buf, testImage()))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	return int64(buf.Len())
}

func fileSize(t *testing.T, path string) int64 {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	return info.Size()
}

func TestWebPPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"2024/01/photo.jpg", "2024/01/photo.webp", true},
		{"photo.JPEG", "photo.webp", true},
		{"/abs/logo.png", "/abs/logo.webp", true},
		{"anim.gif", "anim.gif", false},
		{"photo.jpg.bak", "photo.jpg.bak", false},
	}
	for _, tt := range tests {
		got, ok := WebPPath(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
}

func TestCompressFile_JPEG(t *testing.T) {
	o, dir := newOptimizer(t, nil, defaultOptions())
	path := filepath.Join(dir, "photo.jpg")
	before := writeJPEG(t, path, 100)

	saved, err := o.CompressFile(path, types.MimeJPEG)
	require.NoError(t, err)
	assert.Positive(t, saved)
	assert.Equal(t, before-saved, fileSize(t, path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := jpeg.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 64, 64), img.Bounds())
}

func TestCompressFile_PNG(t *testing.T) {
	o, dir := newOptimizer(t, nil, defaultOptions())
	path := filepath.Join(dir, "logo.png")
	before := writePNG(t, path)

	saved, err := o.CompressFile(path, types.MimePNG)
	require.NoError(t, err)
	assert.Positive(t, saved)
	assert.Equal(t, before-saved, fileSize(t, path))
}

func TestCompressFile_KeepsSmallerOriginal(t *testing.T) {
	opts := defaultOptions()
	opts.ImageQuality = 100
	o, dir := newOptimizer(t, nil, opts)
	path := filepath.Join(dir, "small.jpg")
	before := writeJPEG(t, path, 60)
	original, err := os.ReadFile(path)
	require.NoError(t, err)

	saved, err := o.CompressFile(path, types.MimeJPEG)
	require.NoError(t, err)
	assert.Zero(t, saved)
	assert.Equal(t, before, fileSize(t, path))

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, original, after)
}

func TestCompressFile_Passthrough(t *testing.T) {
	o, dir := newOptimizer(t, nil, defaultOptions())

	garbage := filepath.Join(dir, "broken.jpg")
	require.NoError(t, os.WriteFile(garbage, []byte("not a jpeg"), 0644))
	saved, err := o.CompressFile(garbage, types.MimeJPEG)
	require.NoError(t, err)
	assert.Zero(t, saved)

	gif := filepath.Join(dir, "anim.gif")
	require.NoError(t, os.WriteFile(gif, []byte("GIF89a"), 0644))
	saved, err = o.CompressFile(gif, types.MimeGIF)
	require.NoError(t, err)
	assert.Zero(t, saved)

	_, err = o.CompressFile(filepath.Join(dir, "missing.jpg"), types.MimeJPEG)
	assert.Error(t, err)
}

func TestCreateWebP(t *testing.T) {
	o, dir := newOptimizer(t, nil, defaultOptions())
	path := filepath.Join(dir, "2024", "01", "photo.jpg")
	writeJPEG(t, path, 90)

	created, err := o.CreateWebP(path, types.MimeJPEG)
	require.NoError(t, err)
	assert.True(t, created)

	webpPath := filepath.Join(dir, "2024", "01", "photo.webp")
	f, err := os.Open(webpPath)
	require.NoError(t, err)
	defer f.Close()
	img, err := xwebp.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 64, 64), img.Bounds())

	created, err = o.CreateWebP(path, types.MimeJPEG)
	require.NoError(t, err)
	assert.False(t, created, "existing sibling is kept")
}

func TestCreateWebP_QualityChangesSize(t *testing.T) {
	sizes := make(map[int]int64)
	for _, quality := range []int{30, 75} {
		opts := defaultOptions()
		opts.WebPQuality = quality
		o, dir := newOptimizer(t, nil, opts)
		path := filepath.Join(dir, "photo.jpg")
		writeJPEGImage(t, path, photoImage(), 95)

		created, err := o.CreateWebP(path, types.MimeJPEG)
		require.NoError(t, err)
		require.True(t, created, "quality %d", quality)
		sizes[quality] = fileSize(t, filepath.Join(dir, "photo.webp"))
	}
	assert.Less(t, sizes[30], sizes[75])
}

func TestCreateWebP_SkipsLargerSibling(t *testing.T) {
	opts := defaultOptions()
	opts.WebPQuality = 100
	o, dir := newOptimizer(t, nil, opts)
	path := filepath.Join(dir, "tiny.jpg")
	writeJPEGImage(t, path, photoImage(), 5)

	created, err := o.CreateWebP(path, types.MimeJPEG)
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoFileExists(t, filepath.Join(dir, "tiny.webp"))
}

func TestCreateWebP_PNGSibling(t *testing.T) {
	o, dir := newOptimizer(t, nil, defaultOptions())
	path := filepath.Join(dir, "logo.png")
	before := writePNG(t, path)

	created, err := o.CreateWebP(path, types.MimePNG)
	require.NoError(t, err)
	require.True(t, created)
	assert.Less(t, fileSize(t, filepath.Join(dir, "logo.webp")), before)
}

func TestCreateWebP_Disabled(t *testing.T) {
	opts := defaultOptions()
	opts.WebPEnabled = false
	o, dir := newOptimizer(t, nil, opts)
	path := filepath.Join(dir, "photo.png")
	writePNG(t, path)

	created, err := o.CreateWebP(path, types.MimePNG)
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoFileExists(t, filepath.Join(dir, "photo.webp"))
}

func TestOnUpload(t *testing.T) {
	o, dir := newOptimizer(t, nil, defaultOptions())
	writeJPEG(t, filepath.Join(dir, "2024", "upload.jpg"), 100)

	saved, err := o.OnUpload("2024/upload.jpg", types.MimeJPEG)
	require.NoError(t, err)
	assert.Positive(t, saved)

	saved, err = o.OnUpload("2024/readme.txt", "text/plain")
	require.NoError(t, err)
	assert.Zero(t, saved)

	_, err = o.OnUpload("../../etc/passwd", types.MimeJPEG)
	assert.ErrorIs(t, err, ErrOutsideUploads)
}

func TestOnUpload_Disabled(t *testing.T) {
	opts := defaultOptions()
	opts.ImageOptimization = false
	o, dir := newOptimizer(t, nil, opts)
	path := filepath.Join(dir, "upload.jpg")
	before := writeJPEG(t, path, 100)

	saved, err := o.OnUpload(path, types.MimeJPEG)
	require.NoError(t, err)
	assert.Zero(t, saved)
	assert.Equal(t, before, fileSize(t, path))
}

func TestOnAttachmentAdded(t *testing.T) {
	store := newFakeStore()
	o, dir := newOptimizer(t, store, defaultOptions())
	writePNG(t, filepath.Join(dir, "2024", "logo.png"))
	store.add(types.Attachment{ID: 7, File: "2024/logo.png", MimeType: types.MimePNG})
	store.add(types.Attachment{ID: 8, File: "2024/doc.pdf", MimeType: "application/pdf"})

	created, err := o.OnAttachmentAdded(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, created)
	assert.FileExists(t, filepath.Join(dir, "2024", "logo.webp"))

	created, err = o.OnAttachmentAdded(context.Background(), 8)
	require.NoError(t, err)
	assert.False(t, created)

	created, err = o.OnAttachmentAdded(context.Background(), 99)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestOnAttachmentAdded_NoStore(t *testing.T) {
	o, _ := newOptimizer(t, nil, defaultOptions())
	_, err := o.OnAttachmentAdded(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNoStore)
}

func TestBulkOptimize_Batches(t *testing.T) {
	store := newFakeStore()
	o, dir := newOptimizer(t, store, defaultOptions())

	for i := int64(1); i <= 25; i++ {
		file := fmt.Sprintf("2024/img-%02d.jpg", i)
		writeJPEG(t, filepath.Join(dir, file), 100)
		store.add(types.Attachment{ID: i, File: file, MimeType: types.MimeJPEG})
	}

	ctx := context.Background()
	result, err := o.BulkOptimize(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 10, result.Optimized)
	assert.Zero(t, result.Skipped)
	assert.Positive(t, result.BytesSaved)
	assert.Equal(t, int64(15), result.Remaining)
	assert.FileExists(t, filepath.Join(dir, "2024", "img-01.webp"))

	result, err = o.BulkOptimize(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 10, result.Optimized)
	assert.Equal(t, int64(5), result.Remaining)

	result, err = o.BulkOptimize(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 5, result.Optimized)
	assert.Zero(t, result.Remaining)

	stats, err := o.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(25), stats.TotalImages)
	assert.Equal(t, int64(25), stats.OptimizedImages)
	assert.Equal(t, 100.0, stats.PercentageOptimized)
	assert.Positive(t, stats.TotalSavings)
}

func TestBulkOptimize_MissingFileSkipped(t *testing.T) {
	store := newFakeStore()
	o, dir := newOptimizer(t, store, defaultOptions())
	writeJPEG(t, filepath.Join(dir, "present.jpg"), 100)
	store.add(types.Attachment{ID: 1, File: "present.jpg", MimeType: types.MimeJPEG})
	store.add(types.Attachment{ID: 2, File: "gone.jpg", MimeType: types.MimeJPEG})

	result, err := o.BulkOptimize(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Optimized)
	assert.Equal(t, 1, result.Skipped)
	assert.Zero(t, result.Remaining)
	assert.Equal(t, int64(0), store.savings[2])
}

func TestStats_Percentage(t *testing.T) {
	store := newFakeStore()
	o, _ := newOptimizer(t, store, defaultOptions())
	for i := int64(1); i <= 3; i++ {
		store.add(types.Attachment{ID: i, File: "x.jpg", MimeType: types.MimeJPEG})
	}
	store.savings[1] = 100

	stats, err := o.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.ImageStats{
		TotalImages:         3,
		OptimizedImages:     1,
		TotalSavings:        100,
		PercentageOptimized: 33.33,
	}, stats)
}

func TestStats_Empty(t *testing.T) {
	o, _ := newOptimizer(t, newFakeStore(), defaultOptions())
	stats, err := o.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.ImageStats{}, stats)
}
