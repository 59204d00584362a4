package remote

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"bitwise74/stream-vault/internal/model"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/spf13/viper"
)

const minMultipartSize = 12 << 20

// S3Client implements Client against an S3-compatible bucket. Objects are
// immediately playable after a successful put, so uploads report ready
// rather than processing.
type S3Client struct {
	C       *s3.Client
	Presign *s3.PresignClient
	Bucket  *string
}

func NewS3() (*S3Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			viper.GetString("remote.access_key_id"),
			viper.GetString("remote.secret_access_key"),
			"",
		)),
	)
	if err != nil {
		return nil, err
	}

	bucket := aws.String(viper.GetString("remote.bucket"))

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.Region = viper.GetString("remote.region")
	})

	_, err = client.HeadBucket(context.TODO(), &s3.HeadBucketInput{
		Bucket: bucket,
	})
	if err != nil {
		var apiErr smithy.APIError

		if errors.As(err, &apiErr) {
			if apiErr.ErrorCode() == "NotFound" {
				return nil, fmt.Errorf("bucket '%s' does not exist", *bucket)
			}
		}

		return nil, fmt.Errorf("failed to check if bucket exists, %w", err)
	}

	return &S3Client{
		C:       client,
		Presign: s3.NewPresignClient(client),
		Bucket:  bucket,
	}, nil
}

func (c *S3Client) Upload(ctx context.Context, sourcePath string, metadata map[string]string) (*UploadResult, error) {
	f, err := os.Open(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open source file, %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat source file, %w", err)
	}

	key, err := gonanoid.New(21)
	if err != nil {
		return nil, err
	}
	key += ".mp4"

	input := &s3.PutObjectInput{
		Bucket:        c.Bucket,
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(stat.Size()),
		ContentType:   aws.String("video/mp4"),
		CacheControl:  aws.String("public, max-age=31536000, immutable"),
		Metadata:      metadata,
	}

	if stat.Size() > minMultipartSize {
		uploader := manager.NewUploader(c.C, func(u *manager.Uploader) {
			u.Concurrency = 5
			u.PartSize = 6 << 20
		})

		_, err = uploader.Upload(ctx, input)
	} else {
		_, err = c.C.PutObject(ctx, input)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to upload to remote storage, %w", err)
	}

	return &UploadResult{
		RemoteID: key,
		Status:   model.StatusReady,
	}, nil
}

func (c *S3Client) GetStatus(ctx context.Context, remoteID string) (*StatusResult, error) {
	_, err := c.C.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: c.Bucket,
		Key:    aws.String(remoteID),
	})
	if err != nil {
		var apiErr smithy.APIError

		if errors.As(err, &apiErr) {
			if apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchKey" {
				return nil, ErrNotFound
			}
		}

		return nil, fmt.Errorf("failed to fetch remote status, %w", err)
	}

	return &StatusResult{Status: model.StatusReady}, nil
}

func (c *S3Client) Delete(ctx context.Context, remoteID string) error {
	_, err := c.C.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: c.Bucket,
		Key:    aws.String(remoteID),
	})
	if err != nil {
		return fmt.Errorf("failed to delete remote asset, %w", err)
	}

	return nil
}

func (c *S3Client) List(ctx context.Context, pageSize int32) ([]RemoteObject, error) {
	out, err := c.C.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  c.Bucket,
		MaxKeys: aws.Int32(pageSize),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list remote assets, %w", err)
	}

	objects := make([]RemoteObject, 0, len(out.Contents))
	for _, o := range out.Contents {
		objects = append(objects, RemoteObject{
			RemoteID: aws.ToString(o.Key),
			Size:     aws.ToInt64(o.Size),
		})
	}

	return objects, nil
}

func (c *S3Client) SignedURL(ctx context.Context, remoteID string, expiry time.Duration) (string, error) {
	req, err := c.Presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: c.Bucket,
		Key:    aws.String(remoteID),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("failed to presign playback URL, %w", err)
	}

	return req.URL, nil
}
