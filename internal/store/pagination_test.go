package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestListParams_Normalize(t *testing.T) {
	tests := []struct {
		name          string
		limit         int
		def, max      int
		expectedLimit int
	}{
		{name: "valid limit", limit: 50, def: 20, max: 1000, expectedLimit: 50},
		{name: "zero limit uses default", limit: 0, def: 20, max: 1000, expectedLimit: 20},
		{name: "negative limit uses default", limit: -10, def: 20, max: 1000, expectedLimit: 20},
		{name: "limit over max is capped", limit: 5000, def: 20, max: 1000, expectedLimit: 1000},
		{name: "limit exactly max stays", limit: 1000, def: 20, max: 1000, expectedLimit: 1000},
		{name: "unset bounds use package defaults", limit: 0, def: 0, max: 0, expectedLimit: DefaultListLimit},
		{name: "default above max is capped", limit: 0, def: 50, max: 10, expectedLimit: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ListParams{Limit: tt.limit}
			p.Normalize(tt.def, tt.max)
			assert.Equal(t, tt.expectedLimit, p.Limit)
		})
	}
}

func TestTruncate(t *testing.T) {
	items := []int{1, 2, 3}

	assert.Equal(t, []int{1, 2}, Truncate(items, 2))
	assert.Equal(t, items, Truncate(items, 0))
	assert.Equal(t, items, Truncate(items, -1))
	assert.Equal(t, items, Truncate(items, 10))
}
