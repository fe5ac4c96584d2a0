// Package output implements the output side of the media-delivery core:
// it interleaves independently clocked encoder packet streams into one
// strictly time-ordered stream for a sink driver, and keeps a network
// output alive across transient failures with a backing-off reconnect
// loop.
package output

// PacketType distinguishes video and audio packets.
type PacketType int

const (
	// PacketVideo is a video encoder packet.
	PacketVideo PacketType = iota
	// PacketAudio is an audio encoder packet.
	PacketAudio
)

// MaxAudioTracks is the number of audio encoder slots an output can carry.
const MaxAudioTracks = 4

// Packet is one encoder output unit. DTS and PTS are in the encoder's
// raw clock units described by TimebaseNum/TimebaseDen; DTSUsec is the
// derived microsecond decode timestamp that drives interleave ordering.
type Packet struct {
	Data        []byte
	PTS         int64
	DTS         int64
	TimebaseNum int64
	TimebaseDen int64
	DTSUsec     int64
	Type        PacketType
	TrackIndex  int
	EncoderID   string
	Keyframe    bool
}

// dtsUsec converts the packet's DTS to microseconds of encoder time.
func (p *Packet) dtsUsec() int64 {
	if p.TimebaseDen == 0 {
		return p.DTS
	}
	return p.DTS * 1000000 * p.TimebaseNum / p.TimebaseDen
}

// clone returns an interleaver-owned copy of the packet. The payload is
// duplicated so the encoder's buffer is never retained.
func (p *Packet) clone() *Packet {
	out := *p
	out.Data = make([]byte, len(p.Data))
	copy(out.Data, p.Data)
	return &out
}
