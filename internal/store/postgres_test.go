package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/yanun0323/errors"
)

func TestWrapDBNilError(t *testing.T) {
	assert.NoError(t, wrapDB(nil, "insert order", "id", "ord-1"))
}

func TestWrapDBAnnotates(t *testing.T) {
	base := errors.New("connection refused")
	err := wrapDB(base, "insert order", "id", "ord-1")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "insert order")
}
