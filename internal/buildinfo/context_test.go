package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContext_Version(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ctx  *Context
		want string
	}{
		{name: "nil context", ctx: nil, want: UnknownValue},
		{name: "valid version", ctx: NewContext("1.0.0", "2026-01-01"), want: "1.0.0"},
		{name: "pre-release tag", ctx: NewContext("1.0.0-beta.1", "2026-01-01"), want: "1.0.0-beta.1"},
		{name: "build metadata", ctx: NewContext("1.0.0+build.123", "2026-01-01"), want: "1.0.0+build.123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.ctx.Version())
		})
	}
}

func TestContext_BuildDate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, UnknownValue, (*Context)(nil).BuildDate())
	assert.Equal(t, UnknownValue, NewContext("1.0.0", "").BuildDate())
	assert.Equal(t, "2026-01-01", NewContext("1.0.0", "2026-01-01").BuildDate())
}

func TestContext_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "1.2.3 (built 2026-01-01)", NewContext("1.2.3", "2026-01-01").String())
	assert.Equal(t, "unknown (built unknown)", (*Context)(nil).String())
}

func TestNewContext_EmptyVersionNeverEmpty(t *testing.T) {
	t.Parallel()

	// Test binaries report "(devel)" or nothing, which must not leak through.
	assert.NotEmpty(t, NewContext("", "").Version())
	assert.NotEqual(t, "(devel)", NewContext("", "").Version())
}
