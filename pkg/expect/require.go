package expect

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Require fails t immediately when c recorded any failure, reporting every
// literal expected/actual pair.
func Require(t testing.TB, c *Checker) {
	t.Helper()
	require.NoError(t, c.Err())
}
