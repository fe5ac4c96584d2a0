package engine

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/avkit/streamcore/internal/output"
)

// Test signal parameters. The engine generates a sine line signal so
// the meter, fader and outputs all see real audio without a capture
// device attached.
const (
	toneFrequency = 440.0
	toneAmplitude = 0.5
	chunkMS       = 10
)

// runSignal generates the line signal until stop is closed. Each chunk
// flows through the meter with the source's gain tracked, and is
// packetized as PCM for every managed output.
func (e *Engine) runSignal(stop <-chan struct{}) {
	format := e.actx.Format()
	chunkFrames := format.SampleRate * chunkMS / 1000

	planes := make([][]float32, format.Channels)
	for ch := range planes {
		planes[ch] = make([]float32, chunkFrames)
	}

	ticker := time.NewTicker(chunkMS * time.Millisecond)
	defer ticker.Stop()

	var phase float64
	var samplePos int64
	step := 2 * math.Pi * toneFrequency / float64(format.SampleRate)

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		for i := 0; i < chunkFrames; i++ {
			sample := float32(toneAmplitude * math.Sin(phase))
			phase += step
			if phase >= 2*math.Pi {
				phase -= 2 * math.Pi
			}
			for ch := range planes {
				planes[ch][i] = sample
			}
		}

		muted := e.Muted()
		e.meter.ProcessAudio(planes, chunkFrames, muted)

		pkt := e.packetize(planes, chunkFrames, samplePos, format.SampleRate, muted)
		for _, name := range e.outputs.Names() {
			if out := e.outputs.Output(name); out != nil && out.Active() {
				out.DeliverPacket(encoderID, pkt)
			}
		}

		samplePos += int64(chunkFrames)
	}
}

// packetize converts one chunk to an interleaved 16-bit PCM packet with
// the source's gain applied. Timestamps count samples, so the packet
// timebase is 1/sampleRate.
func (e *Engine) packetize(planes [][]float32, frames int, samplePos int64, sampleRate int, muted bool) *output.Packet {
	gain := e.source.Volume()
	if muted {
		gain = 0
	}

	data := make([]byte, frames*len(planes)*2)
	idx := 0
	for i := 0; i < frames; i++ {
		for ch := range planes {
			v := float64(planes[ch][i]) * gain
			if v > 1 {
				v = 1
			} else if v < -1 {
				v = -1
			}
			binary.LittleEndian.PutUint16(data[idx:], uint16(int16(v*32767)))
			idx += 2
		}
	}

	return &output.Packet{
		Data:        data,
		PTS:         samplePos,
		DTS:         samplePos,
		TimebaseNum: 1,
		TimebaseDen: int64(sampleRate),
		Type:        output.PacketAudio,
		TrackIndex:  0,
		EncoderID:   encoderID,
	}
}
