package ancestor

import (
	"testing"

	"github.com/danmuck/chainstream/internal/protocol/block"
	"github.com/stretchr/testify/assert"
)

func frontiersAt(heights ...uint64) []Frontier {
	fs := newFrontiers(len(heights))
	for i, h := range heights {
		fs[i].Current = block.Block{Number: h}
	}
	return fs
}

func TestLaggingSelectsHighestFrontiers(t *testing.T) {
	assert.Equal(t, []int{1, 3}, lagging(frontiersAt(4, 9, 2, 9)))
	assert.Equal(t, []int{0, 1, 2}, lagging(frontiersAt(5, 5, 5)))
	assert.Equal(t, []int{0}, lagging(frontiersAt(7, 3)))
}

func TestConvergedNeedsHeightAndParent(t *testing.T) {
	fs := frontiersAt(5, 5, 5)
	assert.True(t, converged(fs))

	fs[2].Current.ParentHash[0] = 1
	assert.False(t, converged(fs))

	assert.False(t, converged(frontiersAt(5, 4)))
}

func TestNewFrontiersAreIndexed(t *testing.T) {
	fs := newFrontiers(3)
	for i, f := range fs {
		assert.Equal(t, i, f.Index)
		assert.False(t, f.Exhausted)
	}
}
