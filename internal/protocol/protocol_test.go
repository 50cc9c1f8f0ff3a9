package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinyoslab/tinyfs/internal/domain"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{Length: 1234, Opcode: OpWrite, Flags: FlagEncrypted, TxnID: 99}
	buf := make([]byte, HeaderSize)
	h.Encode(buf)

	var got Header
	require.NoError(t, got.Decode(buf))
	require.Equal(t, h, got)

	require.ErrorIs(t, got.Decode(buf[:8]), ErrMsgTooShort)
}

func TestWriteRequestRoundTrip(t *testing.T) {
	r := WriteRequest{FD: 5, Data: []byte("hello sectors")}
	buf := make([]byte, 8+len(r.Data))
	n := r.Encode(buf)
	require.Equal(t, len(buf), n)

	var got WriteRequest
	require.NoError(t, got.Decode(buf))
	require.Equal(t, r, got)

	require.ErrorIs(t, got.Decode(buf[:9]), ErrMsgTooShort)
}

func TestReaddirResponseRoundTrip(t *testing.T) {
	r := ReaddirResponse{Status: StatusOK, OK: true, Name: "entry.txt"}
	buf := make([]byte, 7+len(r.Name))
	n := r.Encode(buf)

	var got ReaddirResponse
	require.NoError(t, got.Decode(buf[:n]))
	require.Equal(t, r, got)
}

func TestStatusOfMapsDomainErrors(t *testing.T) {
	require.Equal(t, StatusOK, StatusOf(nil))
	require.Equal(t, StatusNotFound, StatusOf(domain.ErrNotFound))
	require.Equal(t, StatusNotEmpty, StatusOf(domain.ErrNotEmpty))
	require.Equal(t, StatusInUse, StatusOf(domain.ErrInUse))
	require.Equal(t, StatusBadFD, StatusOf(domain.ErrBadFD))
	require.Equal(t, StatusIO, StatusOf(ErrInvalidOp))
}
