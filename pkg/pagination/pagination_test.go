package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name   string
		limit  string
		offset string
		page   string
		want   Params
	}{
		{"defaults", "", "", "", Params{Limit: 20, Offset: 0}},
		{"explicit", "10", "30", "", Params{Limit: 10, Offset: 30}},
		{"limit clamped high", "500", "", "", Params{Limit: 100, Offset: 0}},
		{"limit clamped low", "0", "", "", Params{Limit: 1, Offset: 0}},
		{"negative offset", "5", "-3", "", Params{Limit: 5, Offset: 0}},
		{"page overrides offset", "25", "7", "3", Params{Limit: 25, Offset: 50}},
		{"page below one", "10", "", "0", Params{Limit: 10, Offset: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.limit, tt.offset, tt.page)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse("ten", "", "")
	assert.ErrorContains(t, err, "invalid limit")

	_, err = Parse("", "x", "")
	assert.ErrorContains(t, err, "invalid offset")

	_, err = Parse("", "", "first")
	assert.ErrorContains(t, err, "invalid page")
}
