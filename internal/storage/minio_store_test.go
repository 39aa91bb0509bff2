package storage

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-documents/internal/platform/config"
)

func TestNewMinioStore(t *testing.T) {
	s, err := NewMinioStore(config.StorageConfig{
		Endpoint:  "localhost:9000",
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Bucket:    "documents",
	}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "documents", s.bucket)
	assert.False(t, s.ready)
}
