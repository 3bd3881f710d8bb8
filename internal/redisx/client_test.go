package redisx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// The client must carry the command timeouts; connections are lazy so
// no server is needed to check the configuration took.
func TestNewAppliesCommandTimeouts(t *testing.T) {
	c := New("127.0.0.1:6379")
	defer c.Close()

	opts := c.Options()
	assert.Equal(t, 2*time.Second, opts.ReadTimeout)
	assert.Equal(t, 2*time.Second, opts.WriteTimeout)
	assert.Equal(t, "127.0.0.1:6379", opts.Addr)
}
