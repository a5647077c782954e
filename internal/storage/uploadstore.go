// Package storage provides an optional S3-compatible staging area for
// uploaded File-source bytes, grounded on the teacher's MinIO-backed object
// store but trimmed to the one operation the File adapter needs: stash an
// upload, fetch it back by key. ratd wires it only as a readiness health
// check when S3_ENDPOINT is set: the File adapter reads
// FileSourceConfig.UploadBytes and does not call Put or Get, so uploads are
// not staged here and do not survive a process restart.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	DefaultMetadataTimeout = 10 * time.Second
	DefaultDataTimeout     = 60 * time.Second
)

// UploadStore stages uploaded file bytes in an S3-compatible bucket, keyed
// by an opaque string the caller chooses (typically pipeline id + source
// index).
type UploadStore struct {
	client          *minio.Client
	bucket          string
	metadataTimeout time.Duration
	dataTimeout     time.Duration
}

// NewUploadStore connects to an S3-compatible endpoint and ensures the
// configured bucket exists.
func NewUploadStore(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*UploadStore, error) {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: DefaultMetadataTimeout,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure:    useSSL,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	s := &UploadStore{
		client:          client,
		bucket:          bucket,
		metadataTimeout: DefaultMetadataTimeout,
		dataTimeout:     DefaultDataTimeout,
	}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *UploadStore) ensureBucket(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.metadataTimeout)
	defer cancel()

	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

// Put stages content under key, overwriting any prior upload at that key.
func (s *UploadStore) Put(ctx context.Context, key string, content []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.dataTimeout)
	defer cancel()

	reader := bytes.NewReader(content)
	_, err := s.client.PutObject(ctx, s.bucket, key, reader, int64(len(content)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("put upload %s: %w", key, err)
	}
	return nil
}

// Get fetches the bytes staged at key. Returns nil, nil if key doesn't exist.
func (s *UploadStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.dataTimeout)
	defer cancel()

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get upload %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" {
			return nil, nil
		}
		return nil, fmt.Errorf("read upload %s: %w", key, err)
	}
	return data, nil
}

// Delete removes the staged upload at key. Idempotent.
func (s *UploadStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.metadataTimeout)
	defer cancel()

	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove upload %s: %w", key, err)
	}
	return nil
}
