package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindSurvivesWrapping(t *testing.T) {
	errGone := NotFound("loan_not_found", "loan not found")
	wrapped := fmt.Errorf("return loan 42: %w", errGone)

	assert.ErrorIs(t, wrapped, errGone)
	assert.Equal(t, KindNotFound, KindOf(wrapped))
	assert.Equal(t, "loan_not_found", CodeOf(wrapped))
}

func TestUnclassifiedIsInternal(t *testing.T) {
	err := errors.New("boom")
	assert.Equal(t, KindInternal, KindOf(err))
	assert.Equal(t, "internal", CodeOf(err))
	assert.Equal(t, "internal", KindOf(err).String())
}

func TestSentinelsWithSameTextAreDistinct(t *testing.T) {
	a := Conflict("x", "same")
	b := Conflict("x", "same")
	assert.NotErrorIs(t, a, b)
}
