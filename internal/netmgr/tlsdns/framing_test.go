package tlsdns_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AdguardTeam/netmgr/internal/netmgr/tlsdns"
)

func TestAppendFramed_RoundTrip(t *testing.T) {
	msg := []byte("hello dns")

	framed, err := tlsdns.AppendFramed(nil, msg)
	require.NoError(t, err)
	require.Len(t, framed, 2+len(msg))

	got, consumed, ok := tlsdns.ProcessBuffer(framed)
	require.True(t, ok)
	assert.Equal(t, msg, got)
	assert.Equal(t, len(framed), consumed)
}

func TestAppendFramed_TooLarge(t *testing.T) {
	msg := make([]byte, tlsdns.MaxMessageSize+1)

	_, err := tlsdns.AppendFramed(nil, msg)
	assert.ErrorIs(t, err, tlsdns.ErrMessageTooLarge)
}

func TestProcessBuffer_IncompletePrefix(t *testing.T) {
	_, _, ok := tlsdns.ProcessBuffer([]byte{0x00})
	assert.False(t, ok)
}

func TestProcessBuffer_IncompleteBody(t *testing.T) {
	framed, err := tlsdns.AppendFramed(nil, []byte("hello"))
	require.NoError(t, err)

	_, _, ok := tlsdns.ProcessBuffer(framed[:len(framed)-1])
	assert.False(t, ok)
}

func TestProcessBuffer_MultipleMessagesInOneBuffer(t *testing.T) {
	var buf []byte
	var err error

	buf, err = tlsdns.AppendFramed(buf, []byte("first"))
	require.NoError(t, err)
	buf, err = tlsdns.AppendFramed(buf, []byte("second"))
	require.NoError(t, err)

	msg1, consumed1, ok := tlsdns.ProcessBuffer(buf)
	require.True(t, ok)
	assert.Equal(t, []byte("first"), msg1)

	msg2, consumed2, ok := tlsdns.ProcessBuffer(buf[consumed1:])
	require.True(t, ok)
	assert.Equal(t, []byte("second"), msg2)
	assert.Equal(t, len(buf), consumed1+consumed2)
}

func TestProcessBuffer_EmptyMessage(t *testing.T) {
	framed, err := tlsdns.AppendFramed(nil, nil)
	require.NoError(t, err)

	msg, consumed, ok := tlsdns.ProcessBuffer(framed)
	require.True(t, ok)
	assert.Empty(t, msg)
	assert.Equal(t, 2, consumed)
}
