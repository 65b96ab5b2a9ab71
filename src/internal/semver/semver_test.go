package semver

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		tag  string
		want Version
		ok   bool
	}{
		{"v0.1.0", Version{0, 1, 0}, true},
		{"v1.2.3", Version{1, 2, 3}, true},
		{"v10.20.30", Version{10, 20, 30}, true},
		{"v007.0.1", Version{7, 0, 1}, true},
		{"1.2.3", Version{}, false},
		{"v1.2", Version{}, false},
		{"v1.2.3.4", Version{}, false},
		{"v1.2.x", Version{}, false},
		{"v1..3", Version{}, false},
		{"v-1.2.3", Version{}, false},
		{"v+1.2.3", Version{}, false},
		{"v1.2.3-rc1", Version{}, false},
		{"V1.2.3", Version{}, false},
		{"", Version{}, false},
		{"v", Version{}, false},
		{"v99999999999999999999.0.0", Version{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			got, ok := Parse(tt.tag)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	for _, v := range []Version{{0, 0, 0}, {0, 2, 0}, {3, 14, 159}} {
		got, ok := Parse(v.String())
		assert.True(t, ok)
		assert.Equal(t, v, got)
	}
}

func TestCompareOrdering(t *testing.T) {
	versions := []Version{
		{0, 1, 0}, {0, 1, 1}, {0, 2, 0}, {1, 0, 0}, {1, 0, 10}, {1, 10, 0}, {2, 0, 0},
	}

	for i, a := range versions {
		for j, b := range versions {
			got := Compare(a, b)
			switch {
			case i == j:
				assert.Zero(t, got, "%s vs %s", a, b)
				assert.False(t, IsNewer(a, b))
			case i > j:
				assert.Positive(t, got, "%s vs %s", a, b)
				assert.True(t, IsNewer(a, b))
				assert.False(t, IsNewer(b, a))
			default:
				assert.Negative(t, got, "%s vs %s", a, b)
			}
		}
	}
}

func TestCompareSortsNewestFirst(t *testing.T) {
	list := []Version{{0, 1, 0}, {0, 2, 0}, {0, 1, 5}}
	sort.Slice(list, func(i, j int) bool { return Compare(list[i], list[j]) > 0 })
	assert.Equal(t, []Version{{0, 2, 0}, {0, 1, 5}, {0, 1, 0}}, list)
}

func TestIsNewerDowngrade(t *testing.T) {
	installed, _ := Parse("v0.2.0")
	located, _ := Parse("v0.1.0")
	assert.True(t, IsNewer(installed, located))
	assert.False(t, IsNewer(located, installed))
}
