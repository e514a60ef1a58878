package postprocess

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/mentat25/Metrix/pkg/config"
	"github.com/mentat25/Metrix/pkg/run"
	"github.com/sirupsen/logrus"
)

// defaultArchivePrefix is used when no prefix is configured.
const defaultArchivePrefix = "runs"

// putObjectAPI is the part of the S3 client the archiver uses.
type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver uploads the metadata and InterOp telemetry of a finished run to
// an S3-compatible bucket.
type S3Archiver struct {
	log    logrus.FieldLogger
	cfg    *config.S3Config
	client putObjectAPI
}

// Ensure interface compliance.
var _ Trigger = (*S3Archiver)(nil)

// NewS3Archiver creates an archiver from the given configuration.
func NewS3Archiver(log logrus.FieldLogger, cfg *config.S3Config) *S3Archiver {
	opts := []func(*s3.Options){
		func(o *s3.Options) {
			o.Region = cfg.Region
			if o.Region == "" {
				o.Region = config.DefaultS3Region
			}

			if cfg.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.EndpointURL)
			}

			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}

			if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
				o.Credentials = credentials.NewStaticCredentialsProvider(
					cfg.AccessKeyID, cfg.SecretAccessKey, "",
				)
			}
		},
	}

	return &S3Archiver{
		log:    log.WithField("component", "s3-archiver"),
		cfg:    cfg,
		client: s3.New(s3.Options{}, opts...),
	}
}

func (a *S3Archiver) Name() string {
	return "s3"
}

// Preflight verifies S3 connectivity by writing a small test object.
func (a *S3Archiver) Preflight(ctx context.Context) error {
	content := fmt.Sprintf("metrix write test: %s", time.Now().UTC().Format(time.RFC3339))

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(".metrix-write-test"),
		Body:        strings.NewReader(content),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return fmt.Errorf("writing test object to s3://%s: %w", a.cfg.Bucket, err)
	}

	return nil
}

// Run archives the run's metadata files, its completion marker and every
// file under InterOp. Files that do not exist are skipped.
func (a *S3Archiver) Run(ctx context.Context, s *run.Summary) error {
	root := run.RootDirectory(s.RunDirectory)
	prefix := a.resolvePrefix(s.RunID)

	var count int

	for _, name := range []string{run.RunInfoFile, run.RunParametersFile, run.CompletionMarker} {
		uploaded, err := a.uploadIfExists(ctx, filepath.Join(root, name), prefix+"/"+name)
		if err != nil {
			return fmt.Errorf("uploading %s: %w", name, err)
		}

		if uploaded {
			count++
		}
	}

	interOp := filepath.Join(root, run.InterOpDir)

	err := filepath.WalkDir(interOp, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == interOp {
				return filepath.SkipDir
			}

			return err
		}

		if d.IsDir() {
			return nil
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("computing relative path: %w", err)
		}

		if err := a.uploadFile(ctx, path, prefix+"/"+filepath.ToSlash(relPath)); err != nil {
			return fmt.Errorf("uploading %s: %w", relPath, err)
		}

		count++

		return nil
	})
	if err != nil {
		return fmt.Errorf("walking directory %s: %w", interOp, err)
	}

	a.log.WithFields(logrus.Fields{
		"run_id": s.RunID,
		"files":  count,
		"bucket": a.cfg.Bucket,
		"prefix": prefix,
	}).Info("Run archived")

	return nil
}

func (a *S3Archiver) uploadIfExists(ctx context.Context, localPath, key string) (bool, error) {
	if _, err := os.Stat(localPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}

		return false, err
	}

	return true, a.uploadFile(ctx, localPath, key)
}

// uploadFile uploads a single file to S3.
func (a *S3Archiver) uploadFile(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening file: %w", err)
	}
	defer func() { _ = f.Close() }()

	a.log.WithFields(logrus.Fields{
		"key":    key,
		"bucket": a.cfg.Bucket,
	}).Debug("Uploading file")

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(detectContentType(localPath)),
	})
	if err != nil {
		return fmt.Errorf("PutObject: %w", err)
	}

	return nil
}

// resolvePrefix builds the S3 key prefix for a run.
func (a *S3Archiver) resolvePrefix(runID string) string {
	prefix := a.cfg.Prefix
	if prefix == "" {
		prefix = defaultArchivePrefix
	}

	return strings.TrimRight(prefix, "/") + "/" + runID
}

// detectContentType returns a MIME type based on file extension.
func detectContentType(path string) string {
	ext := filepath.Ext(path)
	if ext == "" {
		return "application/octet-stream"
	}

	ct := mime.TypeByExtension(ext)
	if ct == "" {
		return "application/octet-stream"
	}

	return ct
}
