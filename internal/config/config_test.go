package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfig = `
<General>
FsMountPoint /foo/bar
RemoteStoreProtocol s3
</General>
<Internal>
ScanfsIterTimeoutSec 100
MoveOutStartRate 0.8
MoveOutStopRate 0.7
PrimaryDownloadQueueMaxSize 1111
SecondaryUploadQueueMaxSize 9999
PrimaryUploadQueueMaxSize 2222
SecondaryDownloadQueueMaxSize 3333
</Internal>
<S3RemoteStore>
Hostname s3_hostname
Bucket s3.bucket
AccessKeyId test_access_key_id
SecretAccessKey test_secret_key
TransferProtocol https
</S3RemoteStore>
`

func TestParseLiteralScenario(t *testing.T) {
	cfg, err := Parse(strings.NewReader(validConfig))
	require.NoError(t, err)

	assert.Equal(t, "/foo/bar", cfg.FsMountPoint)
	assert.Equal(t, 100, cfg.ScanIntervalSec)
	assert.Equal(t, 0.8, cfg.DemoteStartRate)
	assert.Equal(t, 0.7, cfg.DemoteStopRate)
	assert.Equal(t, 2222, cfg.PrimaryDemoteQSize)
	assert.Equal(t, 9999, cfg.SecondaryDemoteQSize)
	assert.Equal(t, 1111, cfg.PrimaryPromoteQSize)
	assert.Equal(t, 3333, cfg.SecondaryPromoteQSize)
	assert.Equal(t, "s3", cfg.RemoteProtocol)
	assert.Equal(t, "s3_hostname", cfg.S3Endpoint)
	assert.Equal(t, "s3.bucket", cfg.S3Bucket)
	assert.Equal(t, "test_access_key_id", cfg.S3AccessKey)
	assert.Equal(t, "test_secret_key", cfg.S3SecretKey)
	assert.Equal(t, "https", cfg.TransferProtocol)
}

func TestParseDuplicateKeyLastWins(t *testing.T) {
	input := `
<General>
FsMountPoint /first
FsMountPoint /second
RemoteStoreProtocol s3
</General>
<Internal>
MoveOutStartRate 0.8
MoveOutStopRate 0.7
PrimaryUploadQueueMaxSize 1
SecondaryUploadQueueMaxSize 1
PrimaryDownloadQueueMaxSize 1
SecondaryDownloadQueueMaxSize 1
</Internal>
<S3RemoteStore>
Bucket b
TransferProtocol https
</S3RemoteStore>
`
	cfg, err := Parse(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, "/second", cfg.FsMountPoint)
}

func TestParseUnknownKeyIsError(t *testing.T) {
	input := `
<General>
FsMountPoint /foo
BogusKey 1
</General>
`
	_, err := Parse(strings.NewReader(input))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown key")
}

func TestParseUnknownSectionIsError(t *testing.T) {
	_, err := Parse(strings.NewReader("<Bogus>\nFoo 1\n</Bogus>\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown section")
}

func TestParseOptionOutsideSectionIsError(t *testing.T) {
	_, err := Parse(strings.NewReader("FsMountPoint /foo\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside of any section")
}

func TestParseUnclosedSectionIsError(t *testing.T) {
	_, err := Parse(strings.NewReader("<General>\nFsMountPoint /foo\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unclosed")
}

func TestValidateRejectsBadWatermarks(t *testing.T) {
	cfg := minimalValidConfig()
	cfg.DemoteStopRate = cfg.DemoteStartRate
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsUnsupportedProtocol(t *testing.T) {
	cfg := minimalValidConfig()
	cfg.RemoteProtocol = "gcs"
	require.Error(t, cfg.Validate())
}

func minimalValidConfig() *Config {
	return &Config{
		FsMountPoint:          "/mnt/data",
		RemoteProtocol:        "s3",
		TransferProtocol:      "https",
		DemoteStartRate:       0.8,
		DemoteStopRate:        0.7,
		PrimaryDemoteQSize:    10,
		SecondaryDemoteQSize:  10,
		PrimaryPromoteQSize:   10,
		SecondaryPromoteQSize: 10,
		S3Bucket:              "bucket",
		EvictionAgeSec:        30,
	}
}
