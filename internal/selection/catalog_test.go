package selection

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCatalog(t *testing.T) {
	c := NewCatalog([]Zone{
		{ID: "a", Name: "first"},
		{ID: ""},
		{ID: "b"},
		{ID: "a", Name: "second"},
	})

	assert.Equal(t, 2, c.Len())
	assert.Equal(t, []string{"a", "b"}, ids(c.All()))

	a, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "second", a.Name)

	_, ok = c.Get("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"b", "a"}, ids(c.Resolve([]string{"b", "missing", "a", "b"})))
	assert.Empty(t, c.Resolve(nil))
}
