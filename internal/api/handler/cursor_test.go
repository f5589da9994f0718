package handler

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/cuongbtq/relops-hardware-controller/internal/api/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobCursor_RoundTrip(t *testing.T) {
	in := &storage.JobCursor{
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC),
		JobID:     "6f1c2a52-3b7e-4f7e-9d0a-2f5b8c1e4a10",
	}

	out, err := DecodeJobCursor(EncodeJobCursor(in))
	require.NoError(t, err)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	assert.Equal(t, in.JobID, out.JobID)
}

func TestDecodeJobCursor_Invalid(t *testing.T) {
	enc := func(s string) string { return base64.RawURLEncoding.EncodeToString([]byte(s)) }

	tests := []struct {
		name   string
		cursor string
	}{
		{name: "not base64", cursor: "@@@"},
		{name: "no separator", cursor: enc("12345")},
		{name: "bad timestamp", cursor: enc("abc|6f1c2a52-3b7e-4f7e-9d0a-2f5b8c1e4a10")},
		{name: "bad id", cursor: enc("12345|job-1")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeJobCursor(tt.cursor)
			assert.Error(t, err)
		})
	}

	got, err := DecodeJobCursor("")
	require.NoError(t, err)
	assert.Nil(t, got)
}
