package jmod

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEntry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path    string
		size    uint64
		section Section
		name    string
	}{
		{"classes/com/foo/Bar.class", 42, Classes, "com/foo/Bar.class"},
		{"bin/tool", 10, NativeCmds, "tool"},
		{"native/libjava.so", 1 << 20, NativeLibs, "libjava.so"},
		{"conf/security/java.policy", 0, Config, "security/java.policy"},
		{"include/jni.h", 7, HeaderFiles, "jni.h"},
		{"man/man1/java.1", 3, ManPages, "man1/java.1"},
		{"classes/a/", 0, Classes, "a/"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			e, err := ParseEntry(tt.path, tt.size)
			require.NoError(t, err)
			assert.Equal(t, tt.section, e.Section)
			assert.Equal(t, tt.name, e.Name)
			assert.Equal(t, tt.size, e.Size)
			assert.Equal(t, tt.path, e.Path())
			assert.Equal(t, tt.path, e.String())
		})
	}
}

func TestParseEntryMalformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		path  string
		cause error
	}{
		{"no slash", "noslash", errNoSeparator},
		{"empty", "", errNoSeparator},
		{"leading slash", "/classes/Foo.class", errShortPrefix},
		{"one char prefix", "x/", errShortPrefix},
		{"one char prefix with name", "x/Foo.class", errShortPrefix},
		{"directory placeholder", "classes/", errEmptyName},
		{"unknown section", "legal/LICENSE", ErrUnknownSection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseEntry(tt.path, 0)
			require.ErrorIs(t, err, ErrMalformedEntryPath)
			require.ErrorIs(t, err, tt.cause)

			var pathErr *EntryPathError
			require.ErrorAs(t, err, &pathErr)
			assert.Equal(t, tt.path, pathErr.Path)
		})
	}
}

func TestParseEntryUnknownSectionCause(t *testing.T) {
	t.Parallel()

	_, err := ParseEntry("lib/modules", 1)
	var unknown *UnknownSectionError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "lib", unknown.Dir)
}
