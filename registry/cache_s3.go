/*
Copyright (C) 2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Cache stores entries as objects <prefix>/<key> in a bucket. Works
// with any S3-compatible store (MinIO with ForcePathStyle).
type S3Cache struct {
	settings CacheSettings

	mu     sync.Mutex
	client *s3.Client
}

func NewS3Cache(settings CacheSettings) *S3Cache {
	return &S3Cache{settings: settings}
}

func (c *S3Cache) ensureOpen(ctx context.Context) (*s3.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}

	var opts []func(*config.LoadOptions) error
	if c.settings.Region != "" {
		opts = append(opts, config.WithRegion(c.settings.Region))
	}
	if c.settings.AccessKeyID != "" && c.settings.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				c.settings.AccessKeyID,
				c.settings.SecretAccessKey,
				"", // session token
			),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("code cache: load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if c.settings.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(c.settings.Endpoint)
		})
	}
	if c.settings.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	c.client = s3.NewFromConfig(cfg, s3Opts...)
	return c.client, nil
}

func (c *S3Cache) key(key string) string {
	pfx := strings.TrimSuffix(c.settings.Prefix, "/")
	if pfx == "" {
		return key
	}
	return pfx + "/" + key
}

func (c *S3Cache) Load(key string) (*CacheEntry, error) {
	ctx := context.Background()
	client, err := c.ensureOpen(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.settings.Bucket),
		Key:    aws.String(c.key(key)),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return DecodeEntry(data)
}

func (c *S3Cache) Store(key string, entry *CacheEntry) error {
	data, err := EncodeEntry(entry)
	if err != nil {
		return err
	}
	ctx := context.Background()
	client, err := c.ensureOpen(ctx)
	if err != nil {
		return err
	}
	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.settings.Bucket),
		Key:    aws.String(c.key(key)),
		Body:   bytes.NewReader(data),
	})
	return err
}
