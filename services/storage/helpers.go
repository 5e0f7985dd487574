package storage

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"

	"github.com/superkabe/healthstack/config"
	"github.com/superkabe/healthstack/interfaces"
	"github.com/superkabe/healthstack/services/storage/aws_client"
)

// NewRawEventArchive returns nil when object storage is not configured.
func NewRawEventArchive(cfg *config.StorageConfig) interfaces.RawEventArchive {
	if !cfg.Enabled() {
		return nil
	}
	if cfg.AccountID != "" {
		return NewArchive(newR2Client(cfg.AccountID, cfg.AccessKeyID, cfg.AccessKeySecret), cfg.RawEventBucket)
	}
	return NewArchive(newS3Client(cfg.AWSRegion, cfg.AccessKeyID, cfg.AccessKeySecret), cfg.RawEventBucket)
}

func newS3Client(awsRegion, accessKeyID, accessKeySecret string) aws_client.S3Client {
	return aws_client.NewS3Client(&aws.Config{
		Region:      aws.String(awsRegion),
		Credentials: credentials.NewStaticCredentials(accessKeyID, accessKeySecret, ""),
	})
}

func newR2Client(accountID, accessKeyID, accessKeySecret string) aws_client.S3Client {
	return aws_client.NewS3Client(&aws.Config{
		Endpoint:         aws.String("https://" + accountID + ".r2.cloudflarestorage.com"),
		Region:           aws.String("auto"),
		Credentials:      credentials.NewStaticCredentials(accessKeyID, accessKeySecret, ""),
		S3ForcePathStyle: aws.Bool(true),
	})
}
