// Package patch implements the patch-script virtual machine: an 8-opcode
// byte-coded program, run once per tick, that drives a channel's mode,
// loop points, volume ramp, and frequency.
package patch

import (
	"github.com/osmium-audio/coretone/internal/coretone/channel"
	"github.com/osmium-audio/coretone/internal/fixedpoint"
)

// Opcode identifies a patch script command.
const (
	OpEnd = iota
	OpModeSingleShot
	OpModeLoop
	OpVolume
	OpFrequency
	OpLoopStart
	OpLoopEnd
	OpNop

	// Footer is the opcode count; any script byte at or above it with its
	// wait bit clear halts the channel rather than indexing the dispatch
	// table out of bounds.
	Footer = 8
)

// StackDepth bounds how many nested loop markers a patch script may have
// open at once. Shared with the music VM's own loop/call stack.
const StackDepth = 4

// wait bit conventions for the MIDI-style variable-length delay encoding.
const (
	waitBit  = 0x80
	waitMask = 0x7F
)

// Patch is the per-channel decoder state driving one Channel through a
// patch script: either a sound effect sub-patch or an instrument's note.
type Patch struct {
	Channel *channel.Channel

	Instrument bool
	Priority   int32

	Script  []byte
	Offset  uint32
	NoteOff uint32
	Delay   uint32

	FreqBase              fixedpoint.Q16_16
	FreqPitch, PitchAdj   fixedpoint.Q16_16
	FreqOffset, OffsetAdj fixedpoint.Q16_16

	VolCur, VolAdj fixedpoint.Q8_8

	StackPos  uint32
	LoopStack [StackDepth]int32
	AddrStack [StackDepth]uint32
}

// Recalc advances this patch's frequency and volume ramps by one tick and
// applies the result to the driven channel. Should be called once per
// tick for every active patch, before the channel is rendered.
func (p *Patch) Recalc() {
	p.FreqPitch += p.PitchAdj
	p.FreqOffset += p.OffsetAdj

	if p.Instrument {
		p.Channel.PhaseAdj = p.FreqBase + p.FreqPitch + p.FreqOffset
	} else {
		p.Channel.PhaseAdj = p.FreqOffset
	}

	p.VolCur += p.VolAdj
	p.Channel.VolMain = p.VolCur.Hi()
}

// KeyOn resets waveform and decode state for a channel that has just been
// assigned this patch. The channel, script, and priority must already be
// configured.
func (p *Patch) KeyOn() {
	p.Channel.Mode = channel.ModeOff
	p.Channel.PhaseAcc = 0

	p.FreqOffset = 0
	p.OffsetAdj = 0
	p.VolCur = 0
	p.VolAdj = 0

	p.Offset = 0
	p.StackPos = 0
	p.Delay = 0
}

// KeyOff releases a note. An instrument patch is sent to its note-off
// section of the script; a sound effect sub-patch is terminated outright.
func (p *Patch) KeyOff() {
	if p.Instrument {
		p.Offset = p.NoteOff
		p.StackPos = 0
		p.Delay = 0
	} else {
		p.Channel.Mode = channel.ModeOff
		p.Priority = 0
	}
}

// Decode runs the patch script forward until it hits a wait command, runs
// off the end of the opcode table, or the patch becomes inactive
// (Priority == 0). Should be called once per tick, before Recalc.
func (p *Patch) Decode() {
	for p.Priority != 0 && p.Delay == 0 {
		b := p.Script[p.Offset]

		if b&waitBit != 0 {
			// MIDI-style variable-length delay: each byte with its top bit
			// set contributes 7 more bits to the accumulated count, shifted
			// into position, until a byte with the top bit clear appears.
			// Capped at 4 bytes -- a 5th would shift past bit 31 of Delay.
			shift := uint(0)
			for (b&waitBit != 0) && shift < 28 {
				p.Delay |= uint32(b&waitMask) << shift
				p.Offset++
				b = p.Script[p.Offset]
				shift += 7
			}
			continue
		}

		p.Offset++
		if uint8(b) < Footer {
			dispatch[b](p)
		} else {
			p.Channel.Mode = channel.ModeOff
			p.Priority = 0
		}
	}

	if p.Priority != 0 {
		p.Delay--
	}
}

func (p *Patch) readU16() uint16 {
	lo := p.Script[p.Offset]
	hi := p.Script[p.Offset+1]
	p.Offset += 2
	return uint16(lo) | uint16(hi)<<8
}

func opEnd(p *Patch) {
	p.Channel.Mode = channel.ModeOff
	p.Instrument = false
	p.Priority = 0
}

func opModeSingleShot(p *Patch) {
	p.Channel.Mode = channel.ModeSingleShot
}

func opModeLoop(p *Patch) {
	loopStart := p.readU16()
	loopEnd := p.readU16()

	p.Channel.Mode = channel.ModeLoop
	p.Channel.LoopStart = loopStart
	p.Channel.LoopEnd = loopEnd
}

// opVolume is the sole opcode whose operand bytes are NOT a little-endian
// pair: the current-volume byte lands alone in the high half of VolCur
// (its low half is explicitly zeroed), while the adjustment's low and high
// bytes are assigned individually to VolAdj -- reproduced here exactly as
// three separate byte assignments rather than a combined 16-bit read.
func opVolume(p *Patch) {
	curHi := int8(p.Script[p.Offset])
	p.Offset++
	adjLo := p.Script[p.Offset]
	p.Offset++
	adjHi := int8(p.Script[p.Offset])
	p.Offset++

	p.VolCur = fixedpoint.Q8_8FromParts(curHi, 0)
	p.VolAdj = fixedpoint.Q8_8FromParts(adjHi, adjLo)
}

func opFrequency(p *Patch) {
	offsetLo := p.readU16()
	offsetHi := p.readU16()
	adjLo := p.readU16()
	adjHi := p.readU16()

	p.FreqOffset = fixedpoint.Q16_16FromParts(int16(offsetHi), offsetLo)
	p.OffsetAdj = fixedpoint.Q16_16FromParts(int16(adjHi), adjLo)
}

func opLoopStart(p *Patch) {
	count := int8(p.Script[p.Offset])
	p.Offset++

	if p.StackPos < StackDepth {
		p.LoopStack[p.StackPos] = int32(count)
		p.AddrStack[p.StackPos] = p.Offset
		p.StackPos++
	}
}

func opLoopEnd(p *Patch) {
	if p.StackPos == 0 {
		return
	}
	top := p.StackPos - 1

	switch {
	case p.LoopStack[top] >= 0 && p.LoopStack[top] < 2:
		// A loop count of zero or one lets the decoder fall through past
		// the loop end marker.
		p.StackPos = top
	case p.LoopStack[top] < 0:
		// Negative loop counts are infinite and always wrap back.
		p.Offset = p.AddrStack[top]
	default:
		p.Offset = p.AddrStack[top]
		p.LoopStack[top]--
	}
}

func opNop(*Patch) {}

var dispatch = [Footer]func(*Patch){
	opEnd,
	opModeSingleShot, opModeLoop,
	opVolume, opFrequency,
	opLoopStart, opLoopEnd,
	opNop,
}
