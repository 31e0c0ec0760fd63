package ppdbg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckServerVersion(t *testing.T) {
	cases := []struct {
		constraint string
		version    string
		ok         bool
	}{
		{"", "anything", true},
		{">= 1.12", "v1.17.1", true},
		{">= 1.12", "1.12.0", true},
		{">= 1.12", "v1.11.3", false},
		{">= 1.12", "v1.13.2-516-g0e4f1c2", true},
		{"~1.17", "v1.17.1-dev", true},
		{">= 1.12", "unknown", false},
		{">= 1.12", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.constraint+" "+tc.version, func(t *testing.T) {
			err := checkServerVersion(tc.constraint, tc.version)
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrIncompatibleServer)
		})
	}
}
