package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSearchQueryNormalize(t *testing.T) {
	q := SearchQuery{Limit: 0, Offset: -3}.Normalize()
	assert.Equal(t, DefaultSearchLimit, q.Limit)
	assert.Equal(t, 0, q.Offset)

	q = SearchQuery{Limit: 5, Offset: 10}.Normalize()
	assert.Equal(t, 5, q.Limit)
	assert.Equal(t, 10, q.Offset)
}
