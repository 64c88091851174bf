package xid

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNewIsPrefixedUUID(t *testing.T) {
	id := New("attempt")
	require.True(t, strings.HasPrefix(id, "attempt-"))

	_, err := uuid.Parse(strings.TrimPrefix(id, "attempt-"))
	require.NoError(t, err)
	require.NotEqual(t, id, New("attempt"))
}
