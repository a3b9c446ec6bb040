// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCS stores backups as objects in a Cloud Storage bucket.
type GCS struct {
	client *gcs.Client
	bucket string
	prefix string
}

// NewGCS connects to bucket. credentialsFile empty uses application
// default credentials.
func NewGCS(ctx context.Context, bucket, prefix, credentialsFile string) (*GCS, error) {
	if bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		if _, err := os.Stat(credentialsFile); err != nil {
			return nil, fmt.Errorf("service account key not found at %s: %w", credentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS storage client: %w", err)
	}
	return &GCS{client: client, bucket: bucket, prefix: prefix}, nil
}

func (g *GCS) object(name string) *gcs.ObjectHandle {
	return g.client.Bucket(g.bucket).Object(path.Join(g.prefix, name))
}

// Create implements Destination. Cancelling ctx before Close discards the
// upload.
func (g *GCS) Create(ctx context.Context, name string) (io.WriteCloser, error) {
	ctx, cancel := context.WithCancel(ctx)
	w := g.object(name).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	w.CacheControl = "no-cache, no-store, must-revalidate"
	return &gcsWriter{Writer: w, cancel: cancel}, nil
}

// Open implements Destination.
func (g *GCS) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	r, err := g.object(name).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, g.Location(name))
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", g.Location(name), err)
	}
	return r, nil
}

// Location implements Destination.
func (g *GCS) Location(name string) string {
	return "gs://" + g.bucket + "/" + path.Join(g.prefix, name)
}

// Close releases the client.
func (g *GCS) Close() error {
	return g.client.Close()
}

type gcsWriter struct {
	*gcs.Writer
	cancel context.CancelFunc
}

func (w *gcsWriter) Close() error {
	defer w.cancel()
	return w.Writer.Close()
}

// Abort cancels the upload so no object is created.
func (w *gcsWriter) Abort() error {
	w.cancel()
	_ = w.Writer.Close()
	return nil
}
