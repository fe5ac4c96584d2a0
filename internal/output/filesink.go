package output

import (
	"bufio"
	"encoding/binary"
	"os"
	"sync"

	"github.com/avkit/streamcore/internal/util"
)

// FileSink is a Driver that appends the interleaved packet stream to a
// local file. Each packet is written as a small binary record header
// followed by its payload, so the stream can be replayed in delivery
// order.
type FileSink struct {
	path  string
	owner *Output

	mu      sync.Mutex
	file    *os.File
	writer  *bufio.Writer
	dropped int
}

// NewFileSink creates a file sink writing to path. Bind must be called
// before the owning output is started.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

// Bind attaches the sink to the output that drives it.
func (s *FileSink) Bind(owner *Output) {
	s.owner = owner
}

// Start opens the destination file and begins capture on the owner.
func (s *FileSink) Start() error {
	s.mu.Lock()
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		s.mu.Unlock()
		return util.WrapError("open sink file", err)
	}
	s.file = f
	s.writer = bufio.NewWriter(f)
	s.mu.Unlock()

	if s.owner != nil && s.owner.CanBeginDataCapture() {
		s.owner.BeginDataCapture()
	}
	return nil
}

// Stop flushes and closes the destination file.
func (s *FileSink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer != nil {
		if err := s.writer.Flush(); err != nil {
			s.dropped++
		}
		s.writer = nil
	}
	if s.file != nil {
		util.SafeClose(s.file, "sink file")
		s.file = nil
	}
}

// recordHeader lays out one packet record: payload length, DTS in
// microseconds, packet type, track index and a keyframe flag.
type recordHeader struct {
	Length   uint32
	DTSUsec  int64
	Type     uint8
	Track    uint8
	Keyframe uint8
	_        uint8
}

// EncodedPacket appends one packet record to the file. Write failures
// are counted as dropped frames and reported through the owner.
func (s *FileSink) EncodedPacket(pkt *Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer == nil {
		s.dropped++
		return
	}

	hdr := recordHeader{
		Length:  uint32(len(pkt.Data)),
		DTSUsec: pkt.DTSUsec,
		Type:    uint8(pkt.Type),
		Track:   uint8(pkt.TrackIndex),
	}
	if pkt.Keyframe {
		hdr.Keyframe = 1
	}

	if err := binary.Write(s.writer, binary.LittleEndian, hdr); err != nil {
		s.dropped++
		s.signalError()
		return
	}
	if _, err := s.writer.Write(pkt.Data); err != nil {
		s.dropped++
		s.signalError()
	}
}

// signalError reports a mid-stream write failure to the owner.
// Caller must hold s.mu.
func (s *FileSink) signalError() {
	if s.owner == nil {
		return
	}
	owner := s.owner
	go owner.SignalStop(StopError)
}

// DroppedFrames returns the number of packets lost to write failures.
func (s *FileSink) DroppedFrames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
