package output

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSinkWritesRecords(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "stream.bin")
	sink := NewFileSink(path)

	require.NoError(t, sink.Start())

	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	sink.EncodedPacket(&Packet{
		Data:     payload,
		DTSUsec:  1234,
		Type:     PacketAudio,
		Keyframe: true,
	})
	sink.Stop()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	r := bytes.NewReader(data)
	var hdr recordHeader
	require.NoError(t, binary.Read(r, binary.LittleEndian, &hdr))
	assert.Equal(t, uint32(len(payload)), hdr.Length)
	assert.Equal(t, int64(1234), hdr.DTSUsec)
	assert.Equal(t, uint8(PacketAudio), hdr.Type)
	assert.Equal(t, uint8(1), hdr.Keyframe)

	rest := make([]byte, hdr.Length)
	_, err = r.Read(rest)
	require.NoError(t, err)
	assert.Equal(t, payload, rest)
	assert.Zero(t, r.Len())
}

func TestFileSinkBeginsCaptureOnOwner(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "stream.bin")
	sink := NewFileSink(path)
	out := New("main", sink)
	sink.Bind(out)
	require.NoError(t, out.SetAudioEncoder(0, "pcm"))

	require.NoError(t, out.Start())
	assert.True(t, out.Active())
	out.Stop()
}

func TestFileSinkCountsDropsWhenStopped(t *testing.T) {
	t.Parallel()

	sink := NewFileSink(filepath.Join(t.TempDir(), "stream.bin"))
	sink.EncodedPacket(&Packet{Data: []byte{1}})
	assert.Equal(t, 1, sink.DroppedFrames())
}

func TestFileSinkAppendsAcrossActivations(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "stream.bin")
	sink := NewFileSink(path)

	require.NoError(t, sink.Start())
	sink.EncodedPacket(&Packet{Data: []byte{1, 2}})
	sink.Stop()

	require.NoError(t, sink.Start())
	sink.EncodedPacket(&Packet{Data: []byte{3, 4}})
	sink.Stop()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	hdrSize := binary.Size(recordHeader{})
	assert.Len(t, data, 2*(hdrSize+2))
}
