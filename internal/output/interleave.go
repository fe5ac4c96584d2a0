package output

import "fmt"

// The interleaver turns one video and up to MaxAudioTracks audio packet
// streams, each on its own encoder clock, into a single stream ordered by
// microsecond DTS. Until every expected stream has produced at least one
// packet, everything is buffered raw; at that instant each stream's first
// DTS becomes its time origin and is subtracted from everything buffered
// and everything that follows. A packet leaves the buffer only once the
// opposing kind's high-water mark strictly exceeds its timestamp, which
// keeps the released sequence monotonic at the cost of one packet of
// latency from the trailing stream.
//
// All interleave state is guarded by Output.mu; the whole
// insert-prune-resort-emit sequence runs as one atomic unit per delivery
// and emits at most one packet.

// DeliverPacket accepts one packet from an encoder. Audio packets are
// tagged with the track index of the encoder slot they came from; a
// packet from an encoder that is not attached to this output is a
// programming error and panics. The packet is duplicated; the caller's
// copy is not retained.
func (o *Output) DeliverPacket(encoderID string, pkt *Packet) {
	in := *pkt
	in.EncoderID = encoderID
	in.DTSUsec = in.dtsUsec()
	if in.Type == PacketAudio {
		in.TrackIndex = o.trackIndex(encoderID)
	}

	if !o.interleaving() {
		o.deliverDirect(&in)
		return
	}

	o.mu.Lock()

	wasStarted := o.receivedAudio && o.receivedVideo

	out := in.clone()

	if wasStarted {
		o.applyOffset(out)
	} else {
		o.checkReceived(out)
	}

	o.insertPacket(out)
	o.setHigherTS(out)

	// once both video and audio have been received we can start sending
	// packets, one at a time
	if o.receivedAudio && o.receivedVideo {
		if !wasStarted {
			o.prunePackets()
			if o.initializeInterleaved() {
				o.resortPackets()
				o.sendInterleaved()
			}
		} else {
			o.sendInterleaved()
		}
	}

	o.mu.Unlock()
}

// deliverDirect bypasses the interleaver for outputs with only one
// encoded stream kind.
func (o *Output) deliverDirect(pkt *Packet) {
	o.stateMu.Lock()
	stopped := o.stopped
	if pkt.Type == PacketVideo {
		o.totalFrames++
	}
	o.stateMu.Unlock()

	if !stopped {
		o.driver.EncodedPacket(pkt)
	}
}

// trackIndex resolves the audio track index for an encoder identity by
// scanning the configured slots. The encoder must be attached.
func (o *Output) trackIndex(encoderID string) int {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()

	for i, id := range o.audioEncoderIDs {
		if id != "" && id == encoderID {
			return i
		}
	}
	panic(fmt.Sprintf("output %q: packet from unattached audio encoder %q", o.name, encoderID))
}

// checkReceived records that the packet's stream kind has spoken.
// Caller must hold o.mu.
func (o *Output) checkReceived(pkt *Packet) {
	if pkt.Type == PacketVideo {
		o.receivedVideo = true
	} else {
		o.receivedAudio = true
	}
}

// applyOffset subtracts the packet's stream time origin from its DTS and
// PTS so every stream starts at timestamp zero, then re-derives the
// microsecond DTS used for ordering. Caller must hold o.mu.
func (o *Output) applyOffset(pkt *Packet) {
	var offset int64
	if pkt.Type == PacketVideo {
		offset = o.videoOffset
	} else {
		offset = o.audioOffsets[pkt.TrackIndex]
	}

	pkt.DTS -= offset
	pkt.PTS -= offset
	pkt.DTSUsec = pkt.dtsUsec()
}

// hasHigherOpposingTS reports whether the opposing kind's high-water mark
// strictly exceeds the packet's timestamp. Caller must hold o.mu.
func (o *Output) hasHigherOpposingTS(pkt *Packet) bool {
	if pkt.Type == PacketVideo {
		return o.highestAudioTS > pkt.DTSUsec
	}
	return o.highestVideoTS > pkt.DTSUsec
}

// sendInterleaved emits the earliest buffered packet if the opposing
// watermark permits. Caller must hold o.mu; the driver is called with the
// stopped flag checked but while still inside the interleave lock, which
// serializes emission with insertion as one unit.
func (o *Output) sendInterleaved() {
	out := o.packets[0]

	// do not emit while no opposing-kind packet with a higher timestamp
	// has been seen; this is what makes the sequence monotonic
	if !o.hasHigherOpposingTS(out) {
		return
	}

	o.packets = o.packets[1:]

	o.stateMu.Lock()
	stopped := o.stopped
	if out.Type == PacketVideo {
		o.totalFrames++
	}
	o.stateMu.Unlock()

	if !stopped {
		o.driver.EncodedPacket(out)
	}
}

// setHigherTS advances the packet kind's high-water mark.
// Caller must hold o.mu.
func (o *Output) setHigherTS(pkt *Packet) {
	if pkt.Type == PacketVideo {
		if o.highestVideoTS < pkt.DTSUsec {
			o.highestVideoTS = pkt.DTSUsec
		}
	} else {
		if o.highestAudioTS < pkt.DTSUsec {
			o.highestAudioTS = pkt.DTSUsec
		}
	}
}

// canPrunePacket reports whether the packet at idx is a leading audio
// packet that can be dropped before starting: audio almost always arrives
// before video, so audio buffered ahead of the first video packet with
// the same timestamp would otherwise emit as a spurious audio-only run.
// Caller must hold o.mu.
func (o *Output) canPrunePacket(idx int) bool {
	if idx >= len(o.packets)-1 {
		return false
	}

	pkt := o.packets[idx]
	if pkt.Type != PacketAudio {
		return false
	}

	next := o.packets[idx+1]
	if next.Type == PacketVideo && next.DTSUsec == pkt.DTSUsec {
		return false
	}

	return true
}

// prunePackets drops prunable leading audio packets at the moment the
// buffer transitions to started. Caller must hold o.mu.
func (o *Output) prunePackets() {
	start := 0
	for o.canPrunePacket(start) {
		start++
	}
	if start > 0 {
		o.packets = o.packets[start:]
	}
}

// findFirstPacket returns the first buffered packet of the given type
// (and track, for audio), or nil. Caller must hold o.mu.
func (o *Output) findFirstPacket(typ PacketType, track int) *Packet {
	for _, pkt := range o.packets {
		if pkt.Type != typ {
			continue
		}
		if typ == PacketAudio && pkt.TrackIndex != track {
			continue
		}
		return pkt
	}
	return nil
}

// initializeInterleaved establishes the per-stream time origins from the
// first packet of each stream, rebases the watermarks, and applies the
// origins to everything buffered. If a required stream has not produced a
// packet yet, the received flag for that kind is cleared and the start is
// deferred. Caller must hold o.mu.
func (o *Output) initializeInterleaved() bool {
	tracks := o.numAudioTracks()

	video := o.findFirstPacket(PacketVideo, 0)
	if video == nil {
		o.receivedVideo = false
	}

	audio := make([]*Packet, tracks)
	for i := 0; i < tracks; i++ {
		audio[i] = o.findFirstPacket(PacketAudio, i)
		if audio[i] == nil {
			o.receivedAudio = false
			return false
		}
	}

	if video == nil {
		return false
	}

	o.videoOffset = video.DTS
	for i := 0; i < tracks; i++ {
		o.audioOffsets[i] = audio[i].DTS
	}

	o.highestAudioTS -= audio[0].DTSUsec
	o.highestVideoTS -= video.DTSUsec

	for _, pkt := range o.packets {
		o.applyOffset(pkt)
	}

	return true
}

// insertPacket inserts in ascending DTSUsec order; equal timestamps keep
// arrival order. Caller must hold o.mu.
func (o *Output) insertPacket(pkt *Packet) {
	idx := len(o.packets)
	for i, cur := range o.packets {
		if pkt.DTSUsec < cur.DTSUsec {
			idx = i
			break
		}
	}

	o.packets = append(o.packets, nil)
	copy(o.packets[idx+1:], o.packets[idx:])
	o.packets[idx] = pkt
}

// resortPackets rebuilds the buffer in DTSUsec order after offset
// correction; offset correction can change the relative order of packets
// from different streams. Caller must hold o.mu.
func (o *Output) resortPackets() {
	old := o.packets
	o.packets = make([]*Packet, 0, len(old))
	for _, pkt := range old {
		o.insertPacket(pkt)
	}
}

// resetInterleave clears all interleave state for a fresh activation.
// Caller must hold o.mu.
func (o *Output) resetInterleave() {
	o.packets = nil
	o.receivedVideo = false
	o.receivedAudio = false
	o.highestVideoTS = 0
	o.highestAudioTS = 0
	o.videoOffset = 0
	for i := range o.audioOffsets {
		o.audioOffsets[i] = 0
	}
}
