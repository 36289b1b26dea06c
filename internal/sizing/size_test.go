package sizing

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToInt64(t *testing.T) {
	t.Parallel()

	v, err := ToInt64(42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	_, err = ToInt64(math.MaxUint64)
	require.ErrorIs(t, err, ErrSizeOverflow)
}

func TestWithin(t *testing.T) {
	t.Parallel()

	assert.True(t, Within(10, 0))
	assert.True(t, Within(10, 10))
	assert.False(t, Within(11, 10))
}

func TestReadAllWithLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		data    []byte
		limit   uint64
		wantErr bool
	}{
		{"under limit", []byte("abc"), 4, false},
		{"at limit", []byte("abcd"), 4, false},
		{"over limit", []byte("abcde"), 4, true},
		{"unlimited", bytes.Repeat([]byte("x"), 1024), 0, false},
		{"empty", nil, 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ReadAllWithLimit(bytes.NewReader(tt.data), tt.limit)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrSizeOverflow)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, len(tt.data), len(got))
		})
	}
}
