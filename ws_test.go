package ppdbg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetURL(t *testing.T) {
	cases := []struct {
		address string
		want    string
	}{
		{"localhost:45000", "ws://localhost:45000/debugger"},
		{"192.168.1.4:45000", "ws://192.168.1.4:45000/debugger"},
		{"ws://host:1/", "ws://host:1/debugger"},
		{"wss://host:1/custom", "wss://host:1/custom"},
		{"http://host:1", "ws://host:1/debugger"},
		{"https://host", "wss://host/debugger"},
		{"  [::1]:45000 ", "ws://[::1]:45000/debugger"},
	}
	for _, tc := range cases {
		t.Run(tc.address, func(t *testing.T) {
			got, err := targetURL(tc.address, DefaultPath)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	for _, bad := range []string{"", "ftp://host:21", "ws://"} {
		t.Run("reject "+bad, func(t *testing.T) {
			_, err := targetURL(bad, DefaultPath)
			assert.ErrorIs(t, err, ErrConnectionRefused)
		})
	}
}
