package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	platformaws "github.com/stacktier/stacktier/internal/platform/aws"
)

// S3Store persists state documents in an S3 bucket, mirroring the file
// layout: one object per stack under a key prefix. Useful when several
// operators share responsibility for the same stacks.
type S3Store struct {
	client platformaws.S3API
	bucket string
	prefix string
}

// NewS3Store creates an S3-backed store.
func NewS3Store(client platformaws.S3API, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Store) key(stack string) string {
	return path.Join(s.prefix, stack+".json")
}

func (s *S3Store) lockKey(stack string) string {
	return path.Join(s.prefix, stack+".lock")
}

// Load implements Store.
func (s *S3Store) Load(ctx context.Context, stack string) (*DeploymentState, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: awsv2.String(s.bucket),
		Key:    awsv2.String(s.key(stack)),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch state for %s: %w", stack, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read state for %s: %w", stack, err)
	}

	var st DeploymentState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to decode state for %s: %w", stack, err)
	}
	if st.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrSchemaVersion, st.SchemaVersion, SchemaVersion)
	}
	return &st, nil
}

// Save implements Store.
func (s *S3Store) Save(ctx context.Context, st *DeploymentState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state for %s: %w", st.Stack, err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      awsv2.String(s.bucket),
		Key:         awsv2.String(s.key(st.Stack)),
		Body:        bytes.NewReader(data),
		ContentType: awsv2.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to persist state for %s: %w", st.Stack, err)
	}
	return nil
}

// Lock implements Store with a conditional put: the lock object is created
// only if it does not already exist.
func (s *S3Store) Lock(ctx context.Context, stack string) (func(), error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      awsv2.String(s.bucket),
		Key:         awsv2.String(s.lockKey(stack)),
		Body:        bytes.NewReader([]byte("locked")),
		IfNoneMatch: awsv2.String("*"),
	})
	if err != nil {
		if platformaws.ErrorCode(err) == "PreconditionFailed" {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("failed to acquire lock for %s: %w", stack, err)
	}

	return func() {
		_, _ = s.client.DeleteObject(context.Background(), &s3.DeleteObjectInput{
			Bucket: awsv2.String(s.bucket),
			Key:    awsv2.String(s.lockKey(stack)),
		})
	}, nil
}
