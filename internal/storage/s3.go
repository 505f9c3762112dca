package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"graphony/internal/util"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

func NewS3Client(ctx context.Context) *s3.Client {
	region := util.GetEnv("AWS_REGION")
	endpoint := util.GetEnv("AWS_ENDPOINT")
	accessKey := util.GetEnv("AWS_ACCESS_KEY")
	secretKey := util.GetEnv("AWS_SECRET_KEY")
	util.GetEnv("AWS_BUCKET")
	cfg, err := config.LoadDefaultConfig(
		ctx,
		config.WithRegion(region),
		config.WithBaseEndpoint(endpoint),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey,
			secretKey,
			"",
		)),
	)
	if err != nil {
		return nil
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	return client
}

type s3IClient interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// SamplePayloadStore keeps raw sample audio under samples/<id> in the
// configured bucket. It backs the cache manager's payload persistence so
// entries survive process restarts without a remote refetch.
type SamplePayloadStore struct {
	client s3IClient
	bucket string
}

// NewSamplePayloadStoreParams contains configuration for creating a
// SamplePayloadStore.
type NewSamplePayloadStoreParams struct {
	Client s3IClient
}

// NewSamplePayloadStore creates a payload store over an S3 client. The
// bucket comes from AWS_BUCKET.
func NewSamplePayloadStore(params NewSamplePayloadStoreParams) *SamplePayloadStore {
	return &SamplePayloadStore{
		client: params.Client,
		bucket: util.GetEnv("AWS_BUCKET"),
	}
}

func sampleKey(sampleID int64) string {
	return fmt.Sprintf("samples/%d", sampleID)
}

// PutPayload uploads a sample payload.
func (s *SamplePayloadStore) PutPayload(ctx context.Context, sampleID int64, payload []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(sampleKey(sampleID)),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload sample %d to S3: %v", sampleID, err)
	}
	return nil
}

// GetPayload downloads a sample payload.
func (s *SamplePayloadStore) GetPayload(ctx context.Context, sampleID int64) ([]byte, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(sampleKey(sampleID)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get sample %d from S3: %v", sampleID, err)
	}
	defer result.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, result.Body); err != nil {
		return nil, fmt.Errorf("failed to read sample contents: %v", err)
	}

	return buf.Bytes(), nil
}

// DeletePayload removes a sample payload.
func (s *SamplePayloadStore) DeletePayload(ctx context.Context, sampleID int64) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(sampleKey(sampleID)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete sample %d from S3: %v", sampleID, err)
	}
	return nil
}

// ListSampleIDs returns the ids of every stored payload.
func (s *SamplePayloadStore) ListSampleIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	listInput := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String("samples/"),
	}

	for {
		listOutput, err := s.client.ListObjectsV2(ctx, listInput)
		if err != nil {
			return nil, fmt.Errorf("failed to list sample payloads: %w", err)
		}

		for _, obj := range listOutput.Contents {
			if obj.Key == nil {
				continue
			}
			var id int64
			raw := strings.TrimPrefix(*obj.Key, "samples/")
			if _, err := fmt.Sscanf(raw, "%d", &id); err == nil {
				ids = append(ids, id)
			}
		}

		if listOutput.IsTruncated != nil && *listOutput.IsTruncated {
			listInput.ContinuationToken = listOutput.NextContinuationToken
		} else {
			break
		}
	}

	return ids, nil
}

// Reconcile drops payloads whose ids are not in the known set, so the
// bucket tracks the stats schema after a database reset or partial
// eviction failure. An empty known set wipes the whole sample prefix.
// Returns the number of payloads removed.
func (s *SamplePayloadStore) Reconcile(ctx context.Context, known map[int64]struct{}) (int, error) {
	stored, err := s.ListSampleIDs(ctx)
	if err != nil {
		return 0, err
	}
	if len(stored) == 0 {
		return 0, nil
	}

	if len(known) == 0 {
		if err := s.DeleteAllPayloads(ctx); err != nil {
			return 0, err
		}
		return len(stored), nil
	}

	removed := 0
	for _, id := range stored {
		if _, ok := known[id]; ok {
			continue
		}
		if err := s.DeletePayload(ctx, id); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// DeleteAllPayloads clears the sample prefix, used when the cache is reset.
func (s *SamplePayloadStore) DeleteAllPayloads(ctx context.Context) error {
	listInput := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String("samples/"),
	}

	for {
		listOutput, err := s.client.ListObjectsV2(ctx, listInput)
		if err != nil {
			return fmt.Errorf("failed to list sample payloads: %w", err)
		}

		if len(listOutput.Contents) == 0 {
			break
		}

		var objectsToDelete []types.ObjectIdentifier
		for _, obj := range listOutput.Contents {
			objectsToDelete = append(objectsToDelete, types.ObjectIdentifier{
				Key: obj.Key,
			})
		}

		_, err = s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{
				Objects: objectsToDelete,
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			return fmt.Errorf("failed to delete sample payloads: %w", err)
		}

		if listOutput.IsTruncated != nil && *listOutput.IsTruncated {
			listInput.ContinuationToken = listOutput.NextContinuationToken
		} else {
			break
		}
	}

	return nil
}
