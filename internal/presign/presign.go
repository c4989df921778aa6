// Package presign issues time-limited upload and download access to file objects.
package presign

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/MedLarabi/compucar-sub005/internal/apperr"
	"github.com/MedLarabi/compucar-sub005/internal/aws"
)

// DefaultTTL is the lifetime of issued URLs when none is configured.
const DefaultTTL = 900 * time.Second

// Access is an issued URL plus what the client needs to use it.
type Access struct {
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers,omitempty"`
	ExpiresAt *time.Time        `json:"expiresAt,omitempty"`
}

// Options configures an Issuer.
type Options struct {
	Bucket         string
	PublicBaseURL  string        // download via static URL when set
	TTL            time.Duration
	MaxUploadBytes int64
	ContentTypes   []string // allow-list; empty permits every type
}

// Issuer presigns object access against one bucket.
type Issuer struct {
	presigner aws.PresignAPI
	objects   aws.S3API
	opts      Options
	nowFunc   func() time.Time
}

func NewIssuer(presigner aws.PresignAPI, objects aws.S3API, opts Options) *Issuer {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	opts.PublicBaseURL = strings.TrimRight(opts.PublicBaseURL, "/")
	return &Issuer{
		presigner: presigner,
		objects:   objects,
		opts:      opts,
		nowFunc:   time.Now,
	}
}

// TTL returns the configured URL lifetime.
func (i *Issuer) TTL() time.Duration { return i.opts.TTL }

// IssueUpload presigns a PUT for key. The size ceiling and content type
// allow-list are enforced here, before anything is signed.
func (i *Issuer) IssueUpload(ctx context.Context, key, contentType string, contentLength int64) (*Access, error) {
	if key == "" {
		return nil, apperr.Validation("object key is required")
	}
	if contentLength <= 0 {
		return nil, apperr.Validation("contentLength must be positive")
	}
	if i.opts.MaxUploadBytes > 0 && contentLength > i.opts.MaxUploadBytes {
		return nil, apperr.Validation(fmt.Sprintf("file exceeds maximum size of %d bytes", i.opts.MaxUploadBytes))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if !i.contentTypeAllowed(contentType) {
		return nil, apperr.Validation("content type " + contentType + " is not allowed")
	}

	req, err := i.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:        sdkaws.String(i.opts.Bucket),
		Key:           sdkaws.String(key),
		ContentType:   sdkaws.String(contentType),
		ContentLength: sdkaws.Int64(contentLength),
	}, func(o *s3.PresignOptions) { o.Expires = i.opts.TTL })
	if err != nil {
		return nil, apperr.External("presign upload", err)
	}

	exp := i.nowFunc().Add(i.opts.TTL)
	return &Access{
		URL:       req.URL,
		Method:    http.MethodPut,
		Headers:   map[string]string{"Content-Type": contentType},
		ExpiresAt: &exp,
	}, nil
}

// IssueDownload returns a GET URL for key. With a public base URL the object
// is addressed directly and no expiry applies.
func (i *Issuer) IssueDownload(ctx context.Context, key, dispositionName string) (*Access, error) {
	if key == "" {
		return nil, apperr.Validation("object key is required")
	}
	if i.opts.PublicBaseURL != "" {
		return &Access{URL: i.opts.PublicBaseURL + "/" + escapeKey(key), Method: http.MethodGet}, nil
	}

	in := &s3.GetObjectInput{
		Bucket: sdkaws.String(i.opts.Bucket),
		Key:    sdkaws.String(key),
	}
	if dispositionName != "" {
		in.ResponseContentDisposition = sdkaws.String(mime.FormatMediaType("attachment", map[string]string{"filename": dispositionName}))
	}
	req, err := i.presigner.PresignGetObject(ctx, in, func(o *s3.PresignOptions) { o.Expires = i.opts.TTL })
	if err != nil {
		return nil, apperr.External("presign download", err)
	}
	exp := i.nowFunc().Add(i.opts.TTL)
	return &Access{URL: req.URL, Method: http.MethodGet, ExpiresAt: &exp}, nil
}

// Exists reports whether key has been uploaded.
func (i *Issuer) Exists(ctx context.Context, key string) (bool, error) {
	_, err := i.objects.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: sdkaws.String(i.opts.Bucket),
		Key:    sdkaws.String(key),
	})
	if err == nil {
		return true, nil
	}
	var nf *s3types.NotFound
	if errors.As(err, &nf) {
		return false, nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchKey") {
		return false, nil
	}
	return false, apperr.External("head object", err)
}

func (i *Issuer) contentTypeAllowed(ct string) bool {
	if len(i.opts.ContentTypes) == 0 {
		return true
	}
	base, _, err := mime.ParseMediaType(ct)
	if err != nil {
		base = ct
	}
	for _, allowed := range i.opts.ContentTypes {
		if strings.EqualFold(strings.TrimSpace(allowed), base) {
			return true
		}
	}
	return false
}

// escapeKey escapes each path segment but keeps the separators.
func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for n, p := range parts {
		parts[n] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
