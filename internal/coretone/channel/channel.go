// Package channel implements per-voice waveform rendering: the
// phase-accumulator walk through a sample's PCM data, in single-shot and
// looping flavors, either stamping a render buffer or summing into it.
package channel

import "github.com/osmium-audio/coretone/internal/fixedpoint"

// Mode selects how a channel advances through its sample data.
type Mode int

const (
	ModeOff Mode = iota
	ModeSingleShot
	ModeLoop
)

// BufferCenter is the silent value a render pass stamps into unused buffer
// space. Always zero for the signed 16-bit output this engine produces.
const BufferCenter int16 = 0

// Channel is one voice: a phase accumulator walking through a PCM sample,
// scaled by a main volume and a left/right pan pair.
type Channel struct {
	Mode Mode

	Sample    []byte
	SampleLen uint16

	VolMain            int8
	VolLeft, VolRight  int8
	PhaseAcc, PhaseAdj fixedpoint.Q16_16
	LoopStart, LoopEnd uint16
}

func (c *Channel) sampleAt(index uint16) int16 {
	return int16(int8(c.Sample[index]))
}

// Render writes len(buffer) samples (interleaved left/right) of
// this channel's waveform into buffer. When stamp is true the buffer is
// overwritten with this channel's output; otherwise the output is summed
// with whatever is already there, since some earlier channel has already
// stamped it this tick.
func (c *Channel) Render(buffer []int16, stamp bool) {
	scaleL := fixedpoint.MulHi8(c.VolMain, c.VolLeft)
	scaleR := fixedpoint.MulHi8(c.VolMain, c.VolRight)

	switch c.Mode {
	case ModeSingleShot:
		if stamp {
			c.renderSingleShotStamp(buffer, scaleL, scaleR)
		} else {
			c.renderSingleShotSum(buffer, scaleL, scaleR)
		}
	case ModeLoop:
		backward := c.PhaseAdj.HiSigned() < 0
		switch {
		case stamp && backward:
			c.renderLoopBackwardStamp(buffer, scaleL, scaleR)
		case stamp && !backward:
			c.renderLoopForwardStamp(buffer, scaleL, scaleR)
		case !stamp && backward:
			c.renderLoopBackwardSum(buffer, scaleL, scaleR)
		default:
			c.renderLoopForwardSum(buffer, scaleL, scaleR)
		}
	}
}

// renderSingleShotStamp walks the waveform until it either fills the
// buffer or runs past the sample's end, in which case it turns the
// channel off and pads the remainder of the buffer with silence. No
// separate backward case is needed: wandering outside the sample bounds
// in either direction reads back as a huge unsigned index via HiUnsigned,
// so a single ">=" check against SampleLen catches both.
func (c *Channel) renderSingleShotStamp(buffer []int16, scaleL, scaleR int8) {
	i := 0
	for i < len(buffer) {
		s := c.sampleAt(c.PhaseAcc.HiUnsigned())
		buffer[i] = s*int16(scaleL) + BufferCenter
		buffer[i+1] = s*int16(scaleR) + BufferCenter
		i += 2

		c.PhaseAcc += c.PhaseAdj
		if c.PhaseAcc.HiUnsigned() >= c.SampleLen {
			c.Mode = ModeOff
			c.PhaseAdj = 0
			for i < len(buffer) {
				buffer[i] = BufferCenter
				buffer[i+1] = BufferCenter
				i += 2
			}
			break
		}
	}
}

func (c *Channel) renderSingleShotSum(buffer []int16, scaleL, scaleR int8) {
	i := 0
	for i < len(buffer) {
		s := c.sampleAt(c.PhaseAcc.HiUnsigned())
		buffer[i] += s * int16(scaleL)
		buffer[i+1] += s * int16(scaleR)
		i += 2

		c.PhaseAcc += c.PhaseAdj
		if c.PhaseAcc.HiUnsigned() >= c.SampleLen {
			c.Mode = ModeOff
			c.PhaseAdj = 0
			break
		}
	}
}

func (c *Channel) renderLoopForwardStamp(buffer []int16, scaleL, scaleR int8) {
	loopLen := uint32(c.LoopEnd - c.LoopStart)
	for i := 0; i < len(buffer); i += 2 {
		s := c.sampleAt(c.PhaseAcc.HiUnsigned())
		buffer[i] = s*int16(scaleL) + BufferCenter
		buffer[i+1] = s*int16(scaleR) + BufferCenter

		c.PhaseAcc += c.PhaseAdj
		for uint32(c.PhaseAcc.HiUnsigned()) >= uint32(c.LoopEnd) {
			c.PhaseAcc -= fixedpoint.Q16_16(loopLen << 16)
		}
	}
}

func (c *Channel) renderLoopBackwardStamp(buffer []int16, scaleL, scaleR int8) {
	loopLen := uint32(c.LoopEnd - c.LoopStart)
	for i := 0; i < len(buffer); i += 2 {
		s := c.sampleAt(c.PhaseAcc.HiUnsigned())
		buffer[i] = s*int16(scaleL) + BufferCenter
		buffer[i+1] = s*int16(scaleR) + BufferCenter

		c.PhaseAcc += c.PhaseAdj
		for uint32(c.PhaseAcc.HiUnsigned()) < uint32(c.LoopStart) {
			c.PhaseAcc += fixedpoint.Q16_16(loopLen << 16)
		}
	}
}

func (c *Channel) renderLoopForwardSum(buffer []int16, scaleL, scaleR int8) {
	loopLen := uint32(c.LoopEnd - c.LoopStart)
	for i := 0; i < len(buffer); i += 2 {
		s := c.sampleAt(c.PhaseAcc.HiUnsigned())
		buffer[i] += s * int16(scaleL)
		buffer[i+1] += s * int16(scaleR)

		c.PhaseAcc += c.PhaseAdj
		for uint32(c.PhaseAcc.HiUnsigned()) >= uint32(c.LoopEnd) {
			c.PhaseAcc -= fixedpoint.Q16_16(loopLen << 16)
		}
	}
}

func (c *Channel) renderLoopBackwardSum(buffer []int16, scaleL, scaleR int8) {
	loopLen := uint32(c.LoopEnd - c.LoopStart)
	for i := 0; i < len(buffer); i += 2 {
		s := c.sampleAt(c.PhaseAcc.HiUnsigned())
		buffer[i] += s * int16(scaleL)
		buffer[i+1] += s * int16(scaleR)

		c.PhaseAcc += c.PhaseAdj
		for uint32(c.PhaseAcc.HiUnsigned()) < uint32(c.LoopStart) {
			c.PhaseAcc += fixedpoint.Q16_16(loopLen << 16)
		}
	}
}
