package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		name       string
		flags      uint8
		allVisible bool
		allFrozen  bool
		normalized uint8
	}{
		{name: "initialized", flags: StatusInitialized, normalized: StatusInitialized},
		{name: "all visible", flags: StatusAllVisible, allVisible: true, normalized: StatusAllVisible},
		{name: "frozen only", flags: StatusAllFrozen, allFrozen: true, normalized: StatusValidBits},
		{name: "both", flags: StatusValidBits, allVisible: true, allFrozen: true, normalized: StatusValidBits},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allVisible, IsAllVisible(tt.flags))
			assert.Equal(t, tt.allFrozen, IsAllFrozen(tt.flags))
			assert.Equal(t, tt.normalized, Normalize(tt.flags))
		})
	}
}
