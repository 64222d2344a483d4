package tracing

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepsoumya617/shoply/internal/config"
)

func TestNewProviderDisabledWithoutEndpoint(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	p, err := NewProvider(&config.Config{}, log)
	require.NoError(t, err)
	assert.False(t, p.Enabled())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestSamplerFor(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{rate: 1, want: "AlwaysOnSampler"},
		{rate: 2, want: "AlwaysOnSampler"},
		{rate: 0, want: "AlwaysOffSampler"},
		{rate: 0.25, want: "TraceIDRatioBased{0.25}"},
	}
	for _, tt := range tests {
		desc := samplerFor(tt.rate).Description()
		assert.Contains(t, desc, "ParentBased{root:"+tt.want)
	}
}
