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
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/zhengshuai-xiao/RelayS/internal"
)

// AWSBackend implements Backend with aws-sdk-go-v2. The endpoint must carry
// its scheme, e.g. http://127.0.0.1:9000.
type AWSBackend struct {
	client *s3.Client
	region string
}

func NewAWSBackend(ctx context.Context, conf internal.BackendConfig) (*AWSBackend, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(conf.AccessKey, conf.SecretKey, "")),
		config.WithRegion(conf.Region),
		config.WithLogger(internal.GetLogger("aws")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if conf.Endpoint != "" {
			o.BaseEndpoint = aws.String(conf.Endpoint)
		}
		o.UsePathStyle = true
		// the body is streamed with Content-MD5, no trailing checksum
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})
	logger.Infof("s3 backend at %s region %s", conf.Endpoint, conf.Region)
	return &AWSBackend{client: client, region: conf.Region}, nil
}

func (s *AWSBackend) Name() string {
	return "s3"
}

func (s *AWSBackend) Put(ctx context.Context, bucket, key string, r io.Reader, size int64, contentMD5 string) (int64, error) {
	cr := &countingReader{r: r}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          cr,
		ContentLength: aws.Int64(size),
		ContentMD5:    aws.String(contentMD5),
		ContentType:   aws.String("application/octet-stream"),
	}, s3.WithAPIOptions(v4.SwapComputePayloadSHA256ForUnsignedPayloadMiddleware))
	if err != nil {
		return cr.n, s.mapError("storage.put", bucket, key, err)
	}
	return cr.n, nil
}

func (s *AWSBackend) Get(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, 0, s.mapError("storage.get", bucket, key, err)
	}
	return resp.Body, aws.ToInt64(resp.ContentLength), nil
}

func (s *AWSBackend) MakeBucket(ctx context.Context, bucket string) error {
	input := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	if s.region != "" && s.region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.region),
		}
	}
	_, err := s.client.CreateBucket(ctx, input)
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		var exists *types.BucketAlreadyExists
		if errors.As(err, &owned) || errors.As(err, &exists) {
			return nil
		}
		return s.mapError("storage.mkbucket", bucket, "", err)
	}
	logger.Infof("created bucket %s", bucket)
	return nil
}

func (s *AWSBackend) mapError(op, bucket, key string, err error) error {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return mapError(op, bucket, key, "NoSuchKey", "", err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return mapError(op, bucket, key, apiErr.ErrorCode(), apiErr.ErrorMessage(), err)
	}
	return mapError(op, bucket, key, "", "", err)
}
