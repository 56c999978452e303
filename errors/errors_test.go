package errors

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCarriesCallerLocation(t *testing.T) {
	err := New("agent %s missing", "a1")
	assert.True(t, strings.HasPrefix(err.Error(), "[errors_test.go:"), err.Error())
	assert.Contains(t, err.Error(), "agent a1 missing")
}

func TestWrapf(t *testing.T) {
	assert.Nil(t, Wrapf(nil, "nothing"))

	err := Wrapf(io.EOF, "reading %s", "body")
	assert.ErrorIs(t, err, io.EOF)
	assert.Contains(t, err.Error(), "reading body: EOF")
	assert.Contains(t, err.Error(), "errors_test.go:")
}

func TestNotFound(t *testing.T) {
	err := Wrapf(NotFound("agent", "a1"), "execute")
	assert.True(t, IsNotFound(err))
	assert.False(t, IsNotFound(io.EOF))

	var nf *NotFoundError
	if assert.True(t, As(err, &nf)) {
		assert.Equal(t, "agent", nf.Entity)
		assert.Equal(t, "a1", nf.Key)
	}
}

func TestUnresolvedBinding(t *testing.T) {
	err := UnresolvedBinding("foo.bar", "native", "expected %d segments", 3)
	assert.Equal(t, `unresolved native tool binding "foo.bar": expected 3 segments`, err.Error())
}
