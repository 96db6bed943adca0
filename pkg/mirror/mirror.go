// Package mirror optionally copies every artifact of a finished build to a
// GCS bucket path, for teams that want a long-term archive independent of
// GitHub Releases (spec.md §10 supplement). This is a direct generalisation
// of the teacher's own gcb_stage upload loop: the same
// gcs.Bucket(...).Object(...).NewWriter(ctx) / io.Copy pattern, but driven
// by a BuildRecord's artifact list instead of a hardcoded Bazel tars list.
package mirror

import (
	"context"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"

	"github.com/devtool-release/dsr/pkg/release"
)

// Mirror uploads a BuildRecord's artifacts and its manifest to bucket at
// release.BucketPathForRelease(prefix, ...).
type Mirror struct {
	client *storage.Client
	bucket string
	prefix string
}

// New builds a Mirror backed by the default GCS client credentials.
func New(ctx context.Context, bucket, prefix string) (*Mirror, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("mirror: creating GCS client: %w", err)
	}
	return &Mirror{client: client, bucket: bucket, prefix: prefix}, nil
}

// Close releases the underlying GCS client.
func (m *Mirror) Close() error {
	return m.client.Close()
}

// UploadBuild copies every artifact in rec, plus manifestJSON, to the
// bucket path derived from rec's build type, version, and run ID.
func (m *Mirror) UploadBuild(ctx context.Context, rec *release.BuildRecord, buildType string, manifestJSON []byte) error {
	objectPrefix := release.BucketPathForRelease(m.prefix, buildType, rec.Version, rec.RunID)

	for _, artifact := range rec.Artifacts {
		if err := m.uploadFile(ctx, artifact.Path, objectPrefix+"/"+artifact.Filename); err != nil {
			return fmt.Errorf("mirror: uploading %s: %w", artifact.Filename, err)
		}
	}

	return m.uploadBytes(ctx, manifestJSON, objectPrefix+"/"+release.MetadataFileName)
}

func (m *Mirror) uploadFile(ctx context.Context, localPath, objectName string) error {
	r, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("mirror: opening %s: %w", localPath, err)
	}
	defer r.Close()

	w := m.client.Bucket(m.bucket).Object(objectName).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (m *Mirror) uploadBytes(ctx context.Context, data []byte, objectName string) error {
	w := m.client.Bucket(m.bucket).Object(objectName).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("mirror: writing %s: %w", objectName, err)
	}
	return w.Close()
}
