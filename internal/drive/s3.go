package drive

import (
	"context"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/openmined/drivesync/internal/version"
)

// S3Config describes the bucket backing a remote drive.
type S3Config struct {
	Bucket    string `json:"bucket" mapstructure:"bucket"`
	Prefix    string `json:"prefix" mapstructure:"prefix"`
	Region    string `json:"region" mapstructure:"region"`
	Endpoint  string `json:"endpoint" mapstructure:"endpoint"`
	AccessKey string `json:"access_key" mapstructure:"access_key"`
	SecretKey string `json:"secret_key" mapstructure:"secret_key"`
	PathStyle bool   `json:"path_style" mapstructure:"path_style"`
}

// S3API is the subset of the S3 client used by S3Drive.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Drive is a remote drive over an S3 compatible bucket. Folders are
// zero-byte "<path>/" marker objects, or implied by the keys below them.
//
// ETags are taken as content fingerprints until one is seen that does not
// match the bytes written or read (SSE-KMS buckets, some gateways). From then
// on listings carry no fingerprint and content is hashed instead.
type S3Drive struct {
	client S3API
	bucket string
	prefix string

	opaqueETags atomic.Bool
}

// NewS3Drive connects to the configured bucket. Without static keys the default
// AWS credential chain is used.
func NewS3Drive(ctx context.Context, cfg *S3Config) (*S3Drive, error) {
	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   32,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithHTTPClient(httpClient),
		config.WithAppID(version.Get().AppID()),
	}
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
	})

	return NewS3DriveWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewS3DriveWithClient wraps an existing client.
func NewS3DriveWithClient(client S3API, bucket, prefix string) *S3Drive {
	prefix = NormPath(prefix)
	if prefix != "" {
		prefix += "/"
	}
	return &S3Drive{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}
}

func (d *S3Drive) Name() string {
	return "s3://" + d.bucket + "/" + d.prefix
}

func (d *S3Drive) List(ctx context.Context) (Listing, error) {
	listing := make(Listing)

	paginator := s3.NewListObjectsV2Paginator(d.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(d.bucket),
		Prefix: aws.String(d.prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("remote list: %w", translateS3Error(err))
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			relPath := NormPath(strings.TrimPrefix(key, d.prefix))
			if relPath == "" {
				continue
			}

			modTime := aws.ToTime(obj.LastModified).UTC()
			if strings.HasSuffix(key, "/") {
				addFolder(listing, relPath, modTime)
				continue
			}

			if existing, ok := listing[relPath]; ok && existing.IsFolder {
				slog.Warn("remote list kind mismatch", "path", relPath, "key", key)
			}

			etag := NormDigest(aws.ToString(obj.ETag))
			item := &Item{
				Path:         relPath,
				Size:         aws.ToInt64(obj.Size),
				LastModified: modTime,
				RemoteID:     etag,
			}
			if d.trustETag(etag) {
				item.Fingerprint = etag
			}
			listing[relPath] = item
		}
	}

	// implied parent folders
	for _, p := range listing.Paths() {
		for dir := path.Dir(p); dir != "." && dir != "/"; dir = path.Dir(dir) {
			if _, ok := listing[dir]; ok {
				break
			}
			addFolder(listing, dir, listing[p].LastModified)
		}
	}

	return listing, nil
}

func addFolder(listing Listing, relPath string, modTime time.Time) {
	if existing, ok := listing[relPath]; ok {
		if !existing.IsFolder {
			slog.Warn("remote list kind mismatch", "path", relPath)
		}
		return
	}
	listing[relPath] = &Item{
		Path:         relPath,
		IsFolder:     true,
		LastModified: modTime,
	}
}

func (d *S3Drive) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	path = NormPath(path)
	if err := ValidPath(path); err != nil {
		return nil, err
	}

	resp, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key(path)),
	})
	if err != nil {
		return nil, fmt.Errorf("remote read %s: %w", path, translateS3Error(err))
	}

	etag := NormDigest(aws.ToString(resp.ETag))
	if !d.trustETag(etag) {
		return resp.Body, nil
	}
	return &etagReader{
		ReadCloser: resp.Body,
		hash:       NewHash(),
		etag:       etag,
		mismatch:   func() { d.distrustETags(path) },
	}, nil
}

func (d *S3Drive) Write(ctx context.Context, path string, r io.Reader, modTime time.Time, opts ...WriteOption) (*Item, error) {
	path = NormPath(path)
	if err := ValidPath(path); err != nil {
		return nil, err
	}
	o := newWriteOptions(opts)

	// spool to disk so the body is seekable and its size known before upload
	spool, err := os.CreateTemp("", "drivesync-upload-*")
	if err != nil {
		return nil, fmt.Errorf("remote write %s: create spool file: %w", path, err)
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	hasher := NewHash()
	size, err := io.Copy(io.MultiWriter(spool, hasher), &contextReader{ctx: ctx, r: r})
	if err != nil {
		return nil, fmt.Errorf("remote write %s: %w", path, err)
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("remote write %s: rewind spool file: %w", path, err)
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(d.bucket),
		Key:           aws.String(d.key(path)),
		Body:          spool,
		ContentLength: aws.Int64(size),
	}
	if o.ifMatch != nil && o.ifMatch.RemoteID != "" {
		input.IfMatch = aws.String(o.ifMatch.RemoteID)
	}
	if o.ifAbsent {
		input.IfNoneMatch = aws.String("*")
	}

	resp, err := d.client.PutObject(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("remote write %s: %w", path, translateS3Error(err))
	}

	sum := HexSum(hasher)
	etag := NormDigest(aws.ToString(resp.ETag))
	if d.trustETag(etag) && etag != sum {
		d.distrustETags(path)
	}

	return &Item{
		Path: path,
		Size: size,
		// PutObjectOutput carries no LastModified
		LastModified: time.Now().UTC(),
		Fingerprint:  sum,
		RemoteID:     etag,
	}, nil
}

func (d *S3Drive) Mkdir(ctx context.Context, path string) (*Item, error) {
	path = NormPath(path)
	if err := ValidPath(path); err != nil {
		return nil, err
	}

	_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(d.bucket),
		Key:           aws.String(d.key(path) + "/"),
		Body:          strings.NewReader(""),
		ContentLength: aws.Int64(0),
	})
	if err != nil {
		return nil, fmt.Errorf("remote mkdir %s: %w", path, translateS3Error(err))
	}

	return &Item{
		Path:         path,
		IsFolder:     true,
		LastModified: time.Now().UTC(),
	}, nil
}

func (d *S3Drive) Delete(ctx context.Context, path string, opts ...WriteOption) error {
	path = NormPath(path)
	if err := ValidPath(path); err != nil {
		return err
	}
	o := newWriteOptions(opts)

	key := d.key(path)
	children, err := d.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(d.bucket),
		Prefix:  aws.String(key + "/"),
		MaxKeys: aws.Int32(2),
	})
	if err != nil {
		return fmt.Errorf("remote delete %s: %w", path, translateS3Error(err))
	}

	isFolder := false
	for _, obj := range children.Contents {
		if aws.ToString(obj.Key) == key+"/" {
			isFolder = true
			continue
		}
		return fmt.Errorf("remote delete %s: %w", path, ErrNotEmpty)
	}
	if isFolder {
		key += "/"
	}

	input := &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	}
	if o.ifMatch != nil && !o.ifMatch.IsFolder && o.ifMatch.RemoteID != "" {
		input.IfMatch = aws.String(o.ifMatch.RemoteID)
	}

	if _, err := d.client.DeleteObject(ctx, input); err != nil {
		return fmt.Errorf("remote delete %s: %w", path, translateS3Error(err))
	}
	return nil
}

// trustETag reports whether etag can stand in for the content fingerprint.
func (d *S3Drive) trustETag(etag string) bool {
	return !d.opaqueETags.Load() && IsNativeDigest(etag)
}

func (d *S3Drive) distrustETags(path string) {
	if d.opaqueETags.CompareAndSwap(false, true) {
		slog.Warn("remote etags are not content digests, hashing content instead", "drive", d.Name(), "path", path)
	}
}

// etagReader hashes a download and compares it with the object's ETag at EOF.
type etagReader struct {
	io.ReadCloser
	hash     hash.Hash
	etag     string
	mismatch func()
	checked  bool
}

func (r *etagReader) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	r.hash.Write(p[:n])
	if err == io.EOF && !r.checked {
		r.checked = true
		if HexSum(r.hash) != r.etag {
			r.mismatch()
		}
	}
	return n, err
}

func (d *S3Drive) key(relPath string) string {
	return d.prefix + relPath
}

// translateS3Error maps S3 API failures onto the drive error taxonomy.
func translateS3Error(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return fmt.Errorf("%w: %w", ErrNotFound, err)
		case "PreconditionFailed", "ConditionalRequestConflict":
			return fmt.Errorf("%w: %w", ErrConflict, err)
		case "SlowDown", "ServiceUnavailable", "InternalError", "RequestTimeout", "Throttling", "RequestLimitExceeded":
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() >= http.StatusInternalServerError {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	return err
}
