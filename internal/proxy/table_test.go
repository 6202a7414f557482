package proxy

import (
	"testing"

	"github.com/rockslide/rockslide/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTable_PathAndDomainIndexing(t *testing.T) {
	containers := []PublishedContainer{
		{Location: store.ImageLocation{Repository: "foo", Image: "bar"}, Addr: "127.0.0.1:1111"},
		{Location: store.ImageLocation{Repository: "example.com", Image: "site"}, Addr: "127.0.0.1:2222"},
	}
	table := BuildTable(containers)

	c, ok := table.ByPath("foo", "bar")
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1:1111", c.Addr)

	// A repository with no dot never gets a domain entry.
	_, ok = table.ByDomain("foo")
	assert.False(t, ok)

	c, ok = table.ByDomain("EXAMPLE.COM")
	require.True(t, ok, "domain lookup must be case-insensitive")
	assert.Equal(t, "127.0.0.1:2222", c.Addr)
}

func TestRegistry_UpdateIsAtomicAndReadable(t *testing.T) {
	reg := NewRegistry()

	_, ok := reg.Snapshot().ByPath("foo", "bar")
	assert.False(t, ok, "a fresh registry has an empty table, not a nil one")

	reg.Update([]PublishedContainer{
		{Location: store.ImageLocation{Repository: "foo", Image: "bar"}, Addr: "127.0.0.1:3333"},
	})

	c, ok := reg.Snapshot().ByPath("foo", "bar")
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1:3333", c.Addr)
}
