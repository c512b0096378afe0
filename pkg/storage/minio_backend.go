// Copyright 2025 zhengshuai.xiao@outlook.com
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
package storage

import (
	"context"
	"io"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/zhengshuai-xiao/RelayS/internal"
)

// MinioBackend implements Backend on top of the minio-go low level Core API.
type MinioBackend struct {
	client *miniogo.Core
	region string
}

func NewMinioBackend(conf internal.BackendConfig) (*MinioBackend, error) {
	endpoint, secure, err := splitEndpoint(conf.Endpoint)
	if err != nil {
		return nil, err
	}
	core, err := miniogo.NewCore(endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(conf.AccessKey, conf.SecretKey, ""),
		Secure: secure,
		Region: conf.Region,
	})
	if err != nil {
		return nil, err
	}
	logger.Infof("minio backend at %s (secure=%v)", endpoint, secure)
	return &MinioBackend{client: core, region: conf.Region}, nil
}

func (s *MinioBackend) Name() string {
	return "minio"
}

func (s *MinioBackend) Put(ctx context.Context, bucket, key string, r io.Reader, size int64, contentMD5 string) (int64, error) {
	cr := &countingReader{r: r}
	opts := miniogo.PutObjectOptions{ContentType: "application/octet-stream"}
	_, err := s.client.PutObject(ctx, bucket, key, cr, size, contentMD5, "", opts)
	if err != nil {
		return cr.n, s.mapError("storage.put", bucket, key, err)
	}
	return cr.n, nil
}

func (s *MinioBackend) Get(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	body, info, _, err := s.client.GetObject(ctx, bucket, key, miniogo.GetObjectOptions{})
	if err != nil {
		return nil, 0, s.mapError("storage.get", bucket, key, err)
	}
	return body, info.Size, nil
}

func (s *MinioBackend) MakeBucket(ctx context.Context, bucket string) error {
	err := s.client.MakeBucket(ctx, bucket, miniogo.MakeBucketOptions{Region: s.region})
	if err != nil {
		code := miniogo.ToErrorResponse(err).Code
		if code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists" {
			return nil
		}
		return s.mapError("storage.mkbucket", bucket, "", err)
	}
	logger.Infof("created bucket %s", bucket)
	return nil
}

func (s *MinioBackend) mapError(op, bucket, key string, err error) error {
	resp := miniogo.ToErrorResponse(err)
	return mapError(op, bucket, key, resp.Code, resp.Message, err)
}
