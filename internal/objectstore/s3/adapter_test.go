package s3

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectIDForIsDeterministic(t *testing.T) {
	a := New(Config{Bucket: "test-bucket"}, nil)

	id1, err := a.ObjectIDFor("/mnt/data/file.bin", 42, 7)
	require.NoError(t, err)
	id2, err := a.ObjectIDFor("/mnt/data/file.bin", 42, 7)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestObjectIDForDiffersOnInode(t *testing.T) {
	a := New(Config{Bucket: "test-bucket"}, nil)

	id1, err := a.ObjectIDFor("/mnt/data/file.bin", 42, 7)
	require.NoError(t, err)
	id2, err := a.ObjectIDFor("/mnt/data/file.bin", 42, 8)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)
}

func TestObjectIDMaxLen(t *testing.T) {
	a := New(Config{Bucket: "test-bucket"}, nil)
	assert.Equal(t, 1024, a.ObjectIDMaxLen())
	id, err := a.ObjectIDFor("/x", 1, 1)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(id), a.ObjectIDMaxLen())
}

func TestValidateBucketNameRejectsTooShort(t *testing.T) {
	assert.Error(t, validateBucketName("ab"))
}

func TestValidateBucketNameAcceptsValid(t *testing.T) {
	assert.NoError(t, validateBucketName("a-valid-bucket-name"))
}

func TestRegionOrDefault(t *testing.T) {
	assert.Equal(t, "us-east-1", regionOrDefault(""))
	assert.Equal(t, "eu-west-1", regionOrDefault("eu-west-1"))
}
