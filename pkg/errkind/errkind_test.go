package errkind

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOfWalksWrapChain(t *testing.T) {
	sentinel := New(KindNoCapacityAvailable, "no_capacity_available")
	wrapped := fmt.Errorf("select resource: %w", sentinel)

	assert.Equal(t, KindNoCapacityAvailable, Of(wrapped))
	assert.Equal(t, "no_capacity_available", CodeOf(wrapped))
	assert.True(t, errors.Is(wrapped, sentinel))
	assert.True(t, IsExpected(wrapped))
}

func TestOfUnknownAndNil(t *testing.T) {
	assert.Equal(t, Kind(""), Of(nil))
	assert.Equal(t, KindUnknown, Of(errors.New("boom")))
	assert.False(t, IsExpected(errors.New("boom")))
}

func TestSentinelsWithSameCodeAreDistinct(t *testing.T) {
	a := New(KindNotFound, "not_found")
	b := New(KindNotFound, "not_found")
	assert.False(t, errors.Is(a, b))
}
