package slice

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnique(t *testing.T) {
	assert.Equal(t, []string{"b", "a", "c"}, Unique([]string{"b", "a", "b", "c", "a"}))
	assert.Empty(t, Unique([]string(nil)))
}

func TestFilter(t *testing.T) {
	src := []int{1, 2, 3, 4}
	assert.Equal(t, []int{2, 4}, Filter(src, func(v int) bool { return v%2 == 0 }))
	assert.Equal(t, []int{1, 2, 3, 4}, src)
}
