package intern

import (
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestInternReturnsCanonicalInstance(t *testing.T) {
	in := New(16)
	a := in.Intern("Assets:Cash")
	b := in.Intern("Assets:" + "Cash")
	assert.Equal(t, a, b)
	assert.Equal(t, 1, in.Size())
}

func TestInternBytes(t *testing.T) {
	in := New(16)
	a := in.InternBytes([]byte("USD"))
	b := in.Intern("USD")
	assert.Equal(t, a, b)
	assert.Equal(t, 1, in.Size())
}

func TestReset(t *testing.T) {
	in := New(16)
	in.Intern("USD")
	in.Reset()
	assert.Equal(t, 0, in.Size())
}
