package archive

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const contentType = "text/csv; charset=windows-1251"

// S3Config configures the S3 archive. Endpoint and PathStyle allow
// S3-compatible services such as MinIO.
type S3Config struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	PathStyle bool
}

// PutObjectAPI is the subset of the S3 client used by the archive.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archive stores reports as private S3 objects.
type S3Archive struct {
	client PutObjectAPI
	bucket string
	prefix string
}

var _ Archive = (*S3Archive)(nil)

// NewS3 creates an archive using the default AWS credential chain.
func NewS3(ctx context.Context, cfg S3Config) (*S3Archive, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket name is required")
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	return NewS3WithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewS3WithClient creates an archive over an existing client.
func NewS3WithClient(client PutObjectAPI, bucket, prefix string) *S3Archive {
	return &S3Archive{client: client, bucket: bucket, prefix: prefix}
}

// Store uploads the report.
func (a *S3Archive) Store(ctx context.Context, e Entry) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:            aws.String(a.bucket),
		Key:               aws.String(Key(a.prefix, e)),
		Body:              bytes.NewReader(e.Content),
		ACL:               types.ObjectCannedACLPrivate,
		ContentType:       aws.String(contentType),
		ChecksumAlgorithm: types.ChecksumAlgorithmCrc64nvme,
		ChecksumCRC64NVME: aws.String(Checksum(e.Content)),
		Metadata: map[string]string{
			"fingerprint": Fingerprint(e.Content),
			"direction":   string(e.Direction),
			"tenant":      e.TenantKey,
			"identity_id": fmt.Sprint(e.IdentityID),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to archive report %s: %w", e.Filename, err)
	}
	return nil
}
