package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dkeye/coderoom/internal/domain"
)

// S3API is the subset of *s3.Client the store uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type S3Store struct {
	client S3API
	bucket string
	prefix string
}

type S3Config struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// NewS3Client builds a client from static credentials. Endpoint is for
// S3-compatible servers and switches to path-style addressing.
func NewS3Client(cfg S3Config) *s3.Client {
	creds := aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     cfg.AccessKey,
			SecretAccessKey: cfg.SecretKey,
			Source:          "coderoom-config",
		}, nil
	})
	return s3.New(s3.Options{
		Region:      cfg.Region,
		Credentials: aws.NewCredentialsCache(creds),
	}, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
}

func NewS3(client S3API, bucket, prefix string) (*S3Store, error) {
	if bucket == "" {
		return nil, errors.New("s3 store: empty bucket")
	}
	return &S3Store{client: client, bucket: bucket, prefix: prefix}, nil
}

func (s *S3Store) key(id domain.RoomID) string {
	return path.Join(s.prefix, string(id)+".json")
}

func (s *S3Store) Save(ctx context.Context, id domain.RoomID, state domain.RoomState) error {
	data, err := encodeSnapshot(id, state)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(id)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", s.key(id), err)
	}
	return nil
}

func (s *S3Store) Load(ctx context.Context, id domain.RoomID) (domain.RoomState, bool, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return domain.RoomState{}, false, nil
		}
		return domain.RoomState{}, false, fmt.Errorf("s3 get %s: %w", s.key(id), err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return domain.RoomState{}, false, err
	}
	state, err := decodeSnapshot(data)
	if err != nil {
		return domain.RoomState{}, false, err
	}
	return state, true, nil
}

func (s *S3Store) Delete(ctx context.Context, id domain.RoomID) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	return err
}

func (s *S3Store) Close() error { return nil }
