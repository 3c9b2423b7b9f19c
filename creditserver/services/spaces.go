package services

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/disgoorg/snowflake/v2"
)

// SpacesService stores generated preview images in an S3-compatible bucket
// and hands back public URLs the app can render directly.
type SpacesService struct {
	client      *s3.Client
	bucket      string
	region      string
	PreviewRoot string
}

func NewSpacesService(spacesKey, spacesSecret, region, bucket, previewRoot string) (*SpacesService, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{
			URL: fmt.Sprintf("https://%s.digitaloceanspaces.com", region),
		}, nil
	})

	cfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithEndpointResolverWithOptions(resolver),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(spacesKey, spacesSecret, "")),
		awsconfig.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load Spaces config: %w", err)
	}

	return &SpacesService{
		client:      s3.NewFromConfig(cfg),
		bucket:      bucket,
		region:      region,
		PreviewRoot: strings.TrimPrefix(previewRoot, "/"),
	}, nil
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	default:
		return "jpg"
	}
}

// UploadPreview stores one generated image under the account's prefix and
// returns its public URL.
func (s *SpacesService) UploadPreview(ctx context.Context, accountID string, result *GenerationResult) (string, error) {
	key := fmt.Sprintf("%s/%s/%s.%s",
		s.PreviewRoot,
		accountID,
		snowflake.New(time.Now()),
		extensionFor(result.ContentType),
	)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(result.Image),
		ContentType: aws.String(result.ContentType),
		ACL:         "public-read",
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload preview: %w", err)
	}

	return fmt.Sprintf("https://%s.%s.digitaloceanspaces.com/%s", s.bucket, s.region, key), nil
}

// DeletePreviews removes every stored preview for an account.
func (s *SpacesService) DeletePreviews(ctx context.Context, accountID string) error {
	prefix := fmt.Sprintf("%s/%s/", s.PreviewRoot, accountID)

	list, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	if err != nil {
		return fmt.Errorf("failed to list previews: %w", err)
	}

	for _, obj := range list.Contents {
		if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    obj.Key,
		}); err != nil {
			return fmt.Errorf("failed to delete preview %s: %w", aws.ToString(obj.Key), err)
		}
	}

	return nil
}
