package media

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func currentYearMonth() string {
	now := time.Now().UTC()
	return fmt.Sprintf("%04d/%02d", now.Year(), now.Month())
}

type fakeUploader struct {
	calls   int
	failN   int // fail this many times before succeeding
	lastKey string
}

func (f *fakeUploader) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.calls++
	if f.calls <= f.failN {
		return nil, assertErr{}
	}
	f.lastKey = *params.Key
	return &s3.PutObjectOutput{}, nil
}

type assertErr struct{}

func (assertErr) Error() string { return "put object failed" }

func TestPipeline_UploadSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("fake-image-bytes"))
	}))
	defer srv.Close()

	up := &fakeUploader{}
	p := NewPipeline(srv.Client(), up, "bucket", "https://cdn.example.com", 3)

	url, err := p.Upload(context.Background(), srv.URL+"/photo.jpg", "image", "creator1", "media1", 0)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/images/"+currentYearMonth()+"/creator1/media1.jpg", url)
	assert.Equal(t, 1, up.calls)
}

func TestPipeline_UploadRetriesThenSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.Write([]byte("fake-video-bytes"))
	}))
	defer srv.Close()

	up := &fakeUploader{failN: 2}
	p := NewPipeline(srv.Client(), up, "bucket", "https://cdn.example.com", 3)

	url, err := p.Upload(context.Background(), srv.URL+"/clip.mp4", "video", "creator1", "media2", 0)
	require.NoError(t, err)
	assert.Contains(t, url, "videos/")
	assert.Equal(t, 3, up.calls)
}

func TestPipeline_UploadExhaustedRetriesDegradesToOriginalURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("bytes"))
	}))
	defer srv.Close()

	up := &fakeUploader{failN: 99}
	p := NewPipeline(srv.Client(), up, "bucket", "https://cdn.example.com", 2)

	originalURL := srv.URL + "/img.bin"
	url, err := p.Upload(context.Background(), originalURL, "image", "creator1", "media3", 0)
	require.NoError(t, err, "upload failure degrades gracefully rather than erroring")
	assert.Equal(t, originalURL, url)
}

func TestPipeline_DownloadFailureDegradesToOriginalURL(t *testing.T) {
	up := &fakeUploader{}
	p := NewPipeline(http.DefaultClient, up, "bucket", "https://cdn.example.com", 3)

	originalURL := "http://127.0.0.1:0/unreachable"
	url, err := p.Upload(context.Background(), originalURL, "image", "creator1", "media4", 0)
	require.NoError(t, err)
	assert.Equal(t, originalURL, url)
	assert.Equal(t, 0, up.calls, "a download failure must never reach the uploader")
}

func TestExtensionFor(t *testing.T) {
	assert.Equal(t, ".jpg", extensionFor("image/jpeg", "http://x/y"))
	assert.Equal(t, ".mp4", extensionFor("video/mp4", "http://x/y"))
	assert.Equal(t, ".png", extensionFor("", "http://x/y.png"))
	assert.Equal(t, ".bin", extensionFor("application/octet-stream", "http://x/y"))
}
