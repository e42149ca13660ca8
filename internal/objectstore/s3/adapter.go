// Package s3 is the sole ObjectStore implementation: an S3-compatible
// adapter built on aws-sdk-go-v2, using CargoShip's transporter for
// uploads and a circuit breaker plus bounded retry for resilience against
// a flaky or throttling endpoint.
package s3

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssdkconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	awscargoconfig "github.com/scttfrdmn/cargoship/pkg/aws/config"
	cargoships3 "github.com/scttfrdmn/cargoship/pkg/aws/s3"

	"github.com/ser94mor/cloudtiering/internal/circuit"
	cterrors "github.com/ser94mor/cloudtiering/internal/errors"
	"github.com/ser94mor/cloudtiering/internal/retry"
)

const objectIDMaxLen = 1024

// Config configures a connection to one S3-compatible bucket.
type Config struct {
	Endpoint         string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	Region           string
	UseHTTPS         bool
	Retries          int
	ForcePathStyle   bool
	EnableAccel      bool
	TargetThroughput float64
}

// Adapter implements objectstore.Store against an S3-compatible endpoint.
type Adapter struct {
	cfg    Config
	logger *slog.Logger

	client      *s3.Client
	transporter *cargoships3.Transporter
	breaker     *circuit.CircuitBreaker
	retryer     *retry.Retryer
}

// New builds an Adapter. The client is not initialized until Connect runs.
func New(cfg Config, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	breaker := circuit.NewCircuitBreaker("s3-"+cfg.Bucket, circuit.Config{
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
	})
	return &Adapter{
		cfg:     cfg,
		logger:  logger.With("component", "s3adapter", "bucket", cfg.Bucket),
		breaker: breaker,
		retryer: retry.New(retry.DefaultConfig(cfg.Retries)),
	}
}

// Connect initializes the S3 client, validates the bucket name, and
// ensures the bucket exists, creating it with a private ACL if absent.
func (a *Adapter) Connect(ctx context.Context) error {
	if err := validateBucketName(a.cfg.Bucket); err != nil {
		return cterrors.New(cterrors.KindConfigInvalid, "s3adapter", "invalid bucket name").WithCause(err)
	}

	awsCfg, err := awssdkconfig.LoadDefaultConfig(ctx,
		awssdkconfig.WithRegion(regionOrDefault(a.cfg.Region)),
		awssdkconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			a.cfg.AccessKeyID, a.cfg.SecretAccessKey, "")),
	)
	if err != nil {
		return cterrors.New(cterrors.KindObjectStoreFailed, "s3adapter", "load aws config").WithCause(err)
	}

	scheme := "https"
	if !a.cfg.UseHTTPS {
		scheme = "http"
	}
	endpoint := a.cfg.Endpoint
	if endpoint != "" && !strings.Contains(endpoint, "://") {
		endpoint = fmt.Sprintf("%s://%s", scheme, endpoint)
	}

	a.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = a.cfg.ForcePathStyle
		o.UseAccelerate = a.cfg.EnableAccel
	})

	cargoCfg := awscargoconfig.S3Config{
		Bucket:             a.cfg.Bucket,
		StorageClass:       awscargoconfig.StorageClassStandard,
		MultipartThreshold: 32 * 1024 * 1024,
		MultipartChunkSize: 16 * 1024 * 1024,
		Concurrency:        4,
	}
	a.transporter = cargoships3.NewTransporter(a.client, cargoCfg)

	return a.ensureBucket(ctx)
}

func (a *Adapter) ensureBucket(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.cfg.Bucket)})
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return cterrors.New(cterrors.KindObjectStoreFailed, "s3adapter", "head bucket").
			WithCause(err).WithRetryable(isRetryable(err))
	}

	_, err = a.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(a.cfg.Bucket),
		ACL:    s3types.BucketCannedACLPrivate,
	})
	if err != nil {
		return cterrors.New(cterrors.KindObjectStoreFailed, "s3adapter", "create bucket").
			WithCause(err).WithRetryable(isRetryable(err))
	}
	a.logger.Info("created bucket", "bucket", a.cfg.Bucket)
	return nil
}

// Disconnect releases adapter state. The aws SDK client holds no sockets
// that need explicit closing, so this only clears local references.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.client = nil
	a.transporter = nil
	return nil
}

// Upload streams f's content, from offset 0 to EOF, to objectID.
// It duplicates the fd before streaming so closing the internal reader
// cannot invalidate the caller's descriptor.
func (a *Adapter) Upload(ctx context.Context, f *os.File, objectID string) error {
	dup, err := dupFile(f)
	if err != nil {
		return cterrors.New(cterrors.KindFileOpFailed, "s3adapter", "dup fd for upload").WithCause(err)
	}
	defer dup.Close()

	info, err := dup.Stat()
	if err != nil {
		return cterrors.New(cterrors.KindFileOpFailed, "s3adapter", "stat fd for upload").WithCause(err)
	}

	return a.retryer.Do(ctx, func(ctx context.Context) error {
		return a.breakerExecute(ctx, func(ctx context.Context) error {
			if _, err := dup.Seek(0, io.SeekStart); err != nil {
				return cterrors.New(cterrors.KindFileOpFailed, "s3adapter", "seek before upload").WithCause(err)
			}
			archive := cargoships3.Archive{
				Key:          objectID,
				Reader:       dup,
				Size:         info.Size(),
				StorageClass: awscargoconfig.StorageClassStandard,
			}
			_, uploadErr := a.transporter.Upload(ctx, archive)
			if uploadErr != nil {
				return cterrors.New(cterrors.KindObjectStoreFailed, "s3adapter", "upload").
					WithCause(uploadErr).WithRetryable(isRetryable(uploadErr))
			}
			return nil
		})
	})
}

// Download streams objectID's content into f starting at offset 0,
// overwriting any bytes already there.
func (a *Adapter) Download(ctx context.Context, f *os.File, objectID string) error {
	dup, err := dupFile(f)
	if err != nil {
		return cterrors.New(cterrors.KindFileOpFailed, "s3adapter", "dup fd for download").WithCause(err)
	}
	defer dup.Close()

	return a.retryer.Do(ctx, func(ctx context.Context) error {
		return a.breakerExecute(ctx, func(ctx context.Context) error {
			out, getErr := a.client.GetObject(ctx, &s3.GetObjectInput{
				Bucket: aws.String(a.cfg.Bucket),
				Key:    aws.String(objectID),
			})
			if getErr != nil {
				kind := cterrors.KindObjectStoreFailed
				if isNotFound(getErr) {
					kind = cterrors.KindInvalid
				}
				return cterrors.New(kind, "s3adapter", "download").
					WithCause(getErr).WithRetryable(isRetryable(getErr))
			}
			defer out.Body.Close()

			if _, err := dup.Seek(0, io.SeekStart); err != nil {
				return cterrors.New(cterrors.KindFileOpFailed, "s3adapter", "seek before download").WithCause(err)
			}
			if _, err := io.Copy(dup, out.Body); err != nil {
				return cterrors.New(cterrors.KindFileOpFailed, "s3adapter", "write downloaded content").WithCause(err)
			}
			return nil
		})
	})
}

func (a *Adapter) breakerExecute(ctx context.Context, fn func(context.Context) error) error {
	err := a.breaker.ExecuteWithContext(ctx, fn)
	if errors.Is(err, circuit.ErrOpenState) || errors.Is(err, circuit.ErrTooManyRequests) {
		return cterrors.New(cterrors.KindObjectStoreFailed, "s3adapter", "circuit open").WithCause(err).WithRetryable(true)
	}
	return err
}

// ObjectIDFor derives a deterministic, collision-resistant object id from
// the device and inode identity of the file plus its path, rather than
// the original design's simple path reversal (which the source's own
// comments flag as a TODO-grade scheme).
func (a *Adapter) ObjectIDFor(path string, dev, ino uint64) (string, error) {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d:%d:%s", dev, ino, path)
	id := fmt.Sprintf("%016x", h.Sum64())
	if len(id) > objectIDMaxLen {
		id = id[:objectIDMaxLen]
	}
	return id, nil
}

func (a *Adapter) ObjectIDMaxLen() int { return objectIDMaxLen }

func dupFile(f *os.File) (*os.File, error) {
	fd, err := dupFd(f.Fd())
	if err != nil {
		return nil, err
	}
	return os.NewFile(fd, f.Name()), nil
}

func validateBucketName(name string) error {
	if len(name) < 3 || len(name) > 63 {
		return fmt.Errorf("bucket name %q must be 3-63 characters", name)
	}
	return nil
}

func regionOrDefault(region string) string {
	if region == "" {
		return "us-east-1"
	}
	return region
}

func isNotFound(err error) bool {
	var nb *s3types.NoSuchBucket
	var nk *s3types.NoSuchKey
	if errors.As(err, &nb) || errors.As(err, &nk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchBucket", "NoSuchKey":
			return true
		}
	}
	return false
}

func isRetryable(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "RequestTimeout", "ThrottlingException", "SlowDown", "InternalError", "ServiceUnavailable":
			return true
		}
		return false
	}
	// Unclassified transport-level errors (DNS, connection reset) are
	// worth a bounded retry.
	return true
}
