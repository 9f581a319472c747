package delivery

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"html2image/internal/domain"
)

func artifact(t *testing.T) *domain.ImageArtifact {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 800, 400))))
	art, err := domain.NewPNGArtifact(buf.Bytes(), 1)
	require.NoError(t, err)
	return art
}

func upload() *domain.UploadResult {
	return &domain.UploadResult{URL: "https://cdn.test/images/a.png", Key: "images/a.png", Bucket: "b", UploadedAt: time.Now()}
}

func TestAssembleURLOnly(t *testing.T) {
	a := NewAssembler()
	res, err := a.Assemble(artifact(t), upload(), domain.DeliveryURL)
	require.NoError(t, err)
	require.NotNil(t, res.URL)
	assert.True(t, res.Success)
	assert.Equal(t, "https://cdn.test/images/a.png", *res.URL)
	assert.Nil(t, res.Base64)
	assert.Equal(t, 800, res.Metadata.Width)
	assert.Equal(t, 400, res.Metadata.Height)
	assert.Equal(t, domain.ContentTypePNG, res.Metadata.ContentType)
	assert.Equal(t, "images/a.png", res.Metadata.StorageKey)
	assert.Equal(t, "b", res.Metadata.StorageBucket)
}

func TestAssembleURLWithoutUploadFails(t *testing.T) {
	a := NewAssembler()
	for _, mode := range []domain.DeliveryMode{domain.DeliveryURL, domain.DeliveryBoth} {
		_, err := a.Assemble(artifact(t), nil, mode)
		assert.ErrorIs(t, err, domain.ErrMissingUpload, mode.String())
	}
}

func TestAssembleInlineIgnoresUpload(t *testing.T) {
	a := NewAssembler()
	art := artifact(t)
	for _, up := range []*domain.UploadResult{nil, upload()} {
		res, err := a.Assemble(art, up, domain.DeliveryInline)
		require.NoError(t, err)
		assert.Nil(t, res.URL)
		require.NotNil(t, res.Base64)
		require.True(t, strings.HasPrefix(*res.Base64, "data:image/png;base64,"))

		raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(*res.Base64, "data:image/png;base64,"))
		require.NoError(t, err)
		assert.Equal(t, art.Bytes(), raw)
		assert.Empty(t, res.Metadata.StorageKey)
	}
}

func TestAssembleBoth(t *testing.T) {
	res, err := NewAssembler().Assemble(artifact(t), upload(), domain.DeliveryBoth)
	require.NoError(t, err)
	require.NotNil(t, res.URL)
	require.NotNil(t, res.Base64)
	assert.Equal(t, "images/a.png", res.Metadata.StorageKey)
}

func TestAssembleUnknownMode(t *testing.T) {
	_, err := NewAssembler().Assemble(artifact(t), upload(), domain.DeliveryMode(0))
	assert.ErrorIs(t, err, domain.ErrInvalidRequestParameters)
}

func TestAssembleStampsUTC(t *testing.T) {
	a := NewAssembler()
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600))
	a.now = func() time.Time { return fixed }
	res, err := a.Assemble(artifact(t), nil, domain.DeliveryInline)
	require.NoError(t, err)
	assert.Equal(t, fixed.UTC(), res.Metadata.GeneratedAt)
	assert.Equal(t, time.UTC, res.Metadata.GeneratedAt.Location())
}
