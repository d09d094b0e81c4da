// Package media implements the MediaPipeline (spec.md §4.5): CDN download
// followed by an S3-compatible (R2) object-storage upload, grounded in the
// teacher's pkg/external/storage.go client shape but backed by a real
// S3-compatible endpoint instead of an in-memory mock.
package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// Class is the media category driving timeout and key-prefix selection
// (spec.md §4.5).
type Class string

const (
	ClassImage   Class = "image"
	ClassVideo   Class = "video"
	ClassProfile Class = "profile"
)

var classTimeouts = map[Class]time.Duration{
	ClassImage:   30 * time.Second,
	ClassVideo:   90 * time.Second,
	ClassProfile: 30 * time.Second,
}

var classPrefixes = map[Class]string{
	ClassImage:   "images",
	ClassVideo:   "videos",
	ClassProfile: "profiles",
}

// Uploader is the narrow S3 capability Pipeline needs, satisfied by
// *s3.Client.
type Uploader interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Pipeline is the production MediaPipeline, backed by an S3-compatible (R2)
// endpoint. Compression is explicitly NOT performed: the source system
// trades storage cost for upload latency, and re-encoding video class media
// would multiply per-item wall-clock far beyond the 90s class timeout.
type Pipeline struct {
	httpClient *http.Client
	s3Client   Uploader
	bucket     string
	publicURL  string
	maxRetries int
}

// NewPipeline constructs a Pipeline.
func NewPipeline(httpClient *http.Client, s3Client Uploader, bucket, publicURL string, maxRetries int) *Pipeline {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Pipeline{httpClient: httpClient, s3Client: s3Client, bucket: bucket, publicURL: publicURL, maxRetries: maxRetries}
}

// Upload downloads cdnURL and re-uploads it to the configured R2 bucket,
// returning the public URL. On exhausted retry, it returns the original
// cdnURL unchanged (not an error) so the Processor's upsert path degrades
// gracefully rather than losing the media reference entirely (spec.md §4.5
// "Failure policy", §8 scenario 6) — errors are still logged for operators.
func (p *Pipeline) Upload(ctx context.Context, cdnURL string, class, creatorID, mediaPK string, index int) (string, error) {
	c := Class(class)
	timeout, ok := classTimeouts[c]
	if !ok {
		timeout = 30 * time.Second
	}

	downloadCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	data, contentType, err := p.download(downloadCtx, cdnURL)
	if err != nil {
		log.Warn().Err(err).Str("cdn_url", cdnURL).Msg("media: download failed, keeping CDN url")
		return cdnURL, nil
	}

	key := p.composeKey(c, creatorID, mediaPK, index, contentType, cdnURL)

	var uploadErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond): // linear backoff
			case <-ctx.Done():
				return cdnURL, nil
			}
		}
		_, uploadErr = p.s3Client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(p.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String(contentType),
			Metadata: map[string]string{
				"creator_id":   creatorID,
				"media_pk":     mediaPK,
				"original_url": truncateURL(cdnURL, 200),
			},
		})
		if uploadErr == nil {
			return fmt.Sprintf("%s/%s", strings.TrimRight(p.publicURL, "/"), key), nil
		}
		log.Warn().Err(uploadErr).Str("key", key).Int("attempt", attempt+1).Msg("media: put object failed, retrying")
	}

	log.Error().Err(uploadErr).Str("cdn_url", cdnURL).Msg("media: upload exhausted retries, keeping CDN url")
	return cdnURL, nil
}

func (p *Pipeline) download(ctx context.Context, cdnURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cdnURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build download request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download %s: %w", cdnURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download %s: status %d", cdnURL, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read download body %s: %w", cdnURL, err)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return data, contentType, nil
}

// composeKey builds the deterministic object key
// {prefix[class]}/{YYYY}/{MM}/{creator_id}/{media_pk}[_{index}].{ext}
// (spec.md §4.5 step 2).
func (p *Pipeline) composeKey(c Class, creatorID, mediaPK string, index int, contentType, cdnURL string) string {
	now := time.Now().UTC()
	ext := extensionFor(contentType, cdnURL)
	suffix := ""
	if index > 0 {
		suffix = fmt.Sprintf("_%d", index)
	}
	return fmt.Sprintf("%s/%04d/%02d/%s/%s%s%s",
		classPrefixes[c], now.Year(), now.Month(), creatorID, mediaPK, suffix, ext)
}

func extensionFor(contentType, cdnURL string) string {
	switch {
	case strings.Contains(contentType, "jpeg"), strings.Contains(contentType, "jpg"):
		return ".jpg"
	case strings.Contains(contentType, "png"):
		return ".png"
	case strings.Contains(contentType, "webp"):
		return ".webp"
	case strings.Contains(contentType, "mp4"):
		return ".mp4"
	}
	if ext := path.Ext(cdnURL); ext != "" && len(ext) <= 5 {
		return strings.SplitN(ext, "?", 2)[0]
	}
	return ".bin"
}

func truncateURL(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
