package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// serve never unlocks the test goroutine, so its thread, flag included, is
// discarded when the test returns.
func TestServeStaysOnConfinedThread(t *testing.T) {
	var tid int
	noNewPrivs := func(*Request) *SetupError {
		tid = unix.Gettid()
		if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
			return &SetupError{Step: "no_new_privs", Err: err.Error()}
		}
		return nil
	}
	resp, stderr, code := runServe(t, Request{}, listPickle(t), noNewPrivs)
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, listJSON, string(resp.Document))

	assert.Equal(t, tid, unix.Gettid())
	flag, err := unix.PrctlRetInt(unix.PR_GET_NO_NEW_PRIVS, 0, 0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, flag)
}
