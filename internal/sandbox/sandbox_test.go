package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "/home/user"},
		{"app/page.tsx", "/home/user/app/page.tsx"},
		{"./app/../lib/x.ts", "/home/user/lib/x.ts"},
		{"/tmp/out.log", "/tmp/out.log"},
		{"/home/user/app/", "/home/user/app"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Resolve(tt.in), tt.in)
	}
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, `'plain'`, shellQuote("plain"))
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
	assert.Equal(t, `'$(rm -rf /)'`, shellQuote("$(rm -rf /)"))
}
