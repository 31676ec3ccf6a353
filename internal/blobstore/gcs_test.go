package blobstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRef(t *testing.T) {
	bucket, key, err := ParseRef("gcs://my-bucket/wf/job-1/step-a")
	require.NoError(t, err)
	require.Equal(t, "my-bucket", bucket)
	require.Equal(t, "wf/job-1/step-a", key)
}

func TestParseRefRejectsMalformed(t *testing.T) {
	for _, ref := range []string{
		"s3://bucket/key",
		"gcs://",
		"gcs://bucket-only",
		"gcs://bucket/",
	} {
		_, _, err := ParseRef(ref)
		require.Error(t, err, ref)
	}
}

func TestNilStoreIsSafe(t *testing.T) {
	var s *GCSStore
	require.NoError(t, s.Close())
	_, err := s.Put(nil, "wf", "job", "step", nil)
	require.Error(t, err)
	_, err = s.Get(nil, "gcs://b/k")
	require.Error(t, err)
}
