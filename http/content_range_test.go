package http //nolint:revive // intentional naming for domain clarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseContentRange(t *testing.T) {
	t.Parallel()

	size, err := parseContentRange(" bytes 0-0/1234 ")
	require.NoError(t, err)
	assert.Equal(t, int64(1234), size)

	for _, value := range []string{
		"",
		"items 0-0/10",
		"bytes 0-0",
		"bytes 0-0/*",
		"bytes 0-0/abc",
		"bytes 0-0/-5",
	} {
		_, err := parseContentRange(value)
		assert.Error(t, err, value)
	}
}
