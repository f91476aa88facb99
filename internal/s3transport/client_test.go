package s3transport

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/minio"

	"github.com/cryophile/cryophile/internal/config"
	"github.com/cryophile/cryophile/internal/cryoerr"
)

// newMinioBackedClient spins up a throwaway MinIO container and returns a
// Client pointed at it, skipping the test when Docker is unavailable in
// the sandbox this runs in.
func newMinioBackedClient(t *testing.T) (Client, context.Context) {
	t.Helper()
	ctx := context.Background()

	ctr, err := minio.Run(ctx, "minio/minio:RELEASE.2024-01-16T16-07-38Z")
	if err != nil {
		t.Skipf("minio container unavailable: %v", err)
	}
	t.Cleanup(func() {
		_ = ctr.Terminate(context.Background())
	})

	endpoint, err := ctr.ConnectionString(ctx)
	require.NoError(t, err)

	cfg := config.S3Config{
		Provider:        "minio",
		Bucket:          "cryophile-test",
		Endpoint:        "http://" + endpoint,
		Region:          "us-east-1",
		AccessKeyID:     "minioadmin",
		SecretAccessKey: "minioadmin",
	}

	createTestBucket(t, ctx, cfg)

	client, err := NewClient(ctx, cfg)
	require.NoError(t, err)
	return client, ctx
}

// createTestBucket provisions cfg.Bucket directly against the raw AWS SDK
// client, mirroring what an operator's bucket-creation step does outside
// the Cryophile process itself — Freeze/Thaw assume the bucket exists.
func createTestBucket(t *testing.T, ctx context.Context, cfg config.S3Config) {
	t.Helper()
	endpoint := cfg.Endpoint

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	)
	require.NoError(t, err)

	raw := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		o.BaseEndpoint = &endpoint
		o.UsePathStyle = true
	})

	bucket := cfg.Bucket
	_, err = raw.CreateBucket(ctx, &awss3.CreateBucketInput{Bucket: &bucket})
	require.NoError(t, err)
}

func TestPutGetHeadRoundTrip(t *testing.T) {
	client, ctx := newMinioBackedClient(t)
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	payload := []byte("chunk.0 contents")
	require.NoError(t, client.PutObject(ctx, "backups/abc/chunk.0", bytes.NewReader(payload), int64(len(payload))))

	info, err := client.HeadObject(ctx, "backups/abc/chunk.0")
	require.NoError(t, err)
	require.Equal(t, int64(len(payload)), info.Size)

	body, err := client.GetObject(ctx, "backups/abc/chunk.0")
	require.NoError(t, err)
	defer body.Close()

	got, err := io.ReadAll(body)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestHeadObjectMissingKeyIsNotFound(t *testing.T) {
	client, ctx := newMinioBackedClient(t)
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := client.HeadObject(ctx, "backups/does-not-exist/chunk.0")
	require.Error(t, err)
	require.Equal(t, cryoerr.KindNotFound, cryoerr.KindOf(err))
}

func TestResolveEndpointAndRegionAppliesProviderDefaults(t *testing.T) {
	endpoint, region, err := ResolveEndpointAndRegion("wasabi", "", "")
	require.NoError(t, err)
	require.Equal(t, "https://s3.wasabisys.com", endpoint)
	require.Equal(t, "us-east-1", region)
}

func TestResolveEndpointAndRegionRejectsUnknownProvider(t *testing.T) {
	_, _, err := ResolveEndpointAndRegion("not-a-real-provider", "", "")
	require.Error(t, err)
	require.Equal(t, cryoerr.KindInvalidInput, cryoerr.KindOf(err))
}
