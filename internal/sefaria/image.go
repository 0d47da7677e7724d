package sefaria

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"net/url"
	"path"
	"strings"

	apierrors "github.com/olgasafonova/sefaria-mcp-server/internal/errors"
	"github.com/olgasafonova/sefaria-mcp-server/internal/upstream"
)

const defaultImageMIME = "image/jpeg"

// ImageResult is a downloaded manuscript image. Data holds the raw bytes;
// ImageData is their base64 form for clients that only read text.
type ImageResult struct {
	Success      bool   `json:"success"`
	ImageData    string `json:"image_data,omitempty"`
	MimeType     string `json:"mime_type"`
	Size         int    `json:"size"`
	OriginalSize int    `json:"original_size"`
	WasResized   bool   `json:"was_resized"`
	Filename     string `json:"filename"`
	Title        string `json:"title"`
	SourceURL    string `json:"source_url"`

	Data []byte `json:"-"`
}

// Metadata returns a copy without the encoded image, for text summaries.
func (r *ImageResult) Metadata() ImageResult {
	m := *r
	m.ImageData = ""
	m.Data = nil
	return m
}

// GetManuscriptImage downloads an image and passes it through unchanged.
// Images larger than the configured limit are rejected. Concurrent requests
// for the same URL share one download, but images are never cached.
func (s *Service) GetManuscriptImage(ctx context.Context, args ManuscriptImageArgs) (*ImageResult, error) {
	raw := strings.TrimSpace(args.ImageURL)
	if err := s.guard.Check(ctx, raw); err != nil {
		return nil, err
	}
	req := upstream.Request{
		Endpoint: "manuscript-image",
		BaseURL:  raw,
		Accept:   "image/*",
		MaxBytes: s.cfg.MaxImageBytes,
	}
	packed, err := s.cache.GetOrFetch(ctx, req.Signature(), 0, func(ctx context.Context) ([]byte, error) {
		resp, err := s.images.Call(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp.Oversize {
			return nil, apierrors.NewUpstreamRejected(resp.Status,
				fmt.Sprintf("image exceeds the %d byte limit (size %d); resizing is not supported", s.cfg.MaxImageBytes, resp.Size))
		}
		return packImage(imageMIME(resp.ContentType), resp.Body), nil
	})
	if err != nil {
		return nil, err
	}
	mimeType, data := unpackImage(packed)

	filename := imageFilename(raw)
	title := strings.TrimSpace(args.ManuscriptTitle)
	if title == "" {
		title = "Manuscript: " + filename
	}
	return &ImageResult{
		Success:      true,
		ImageData:    base64.StdEncoding.EncodeToString(data),
		MimeType:     mimeType,
		Size:         len(data),
		OriginalSize: len(data),
		Filename:     filename,
		Title:        title,
		SourceURL:    raw,
		Data:         data,
	}, nil
}

// imageMIME keeps image/* content types and falls back to JPEG otherwise.
func imageMIME(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mt, "image/") {
		return defaultImageMIME
	}
	return mt
}

// imageFilename is the last path segment of the URL when it has an extension.
func imageFilename(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "manuscript.jpg"
	}
	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." || !strings.Contains(name, ".") {
		return "manuscript.jpg"
	}
	return name
}

// packImage stores the content type ahead of the bytes so joined callers see both.
func packImage(mimeType string, data []byte) []byte {
	out := make([]byte, 0, len(mimeType)+1+len(data))
	out = append(out, mimeType...)
	out = append(out, 0)
	return append(out, data...)
}

func unpackImage(packed []byte) (string, []byte) {
	i := bytes.IndexByte(packed, 0)
	if i < 0 {
		return defaultImageMIME, packed
	}
	return string(packed[:i]), packed[i+1:]
}
