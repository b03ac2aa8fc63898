// Package music implements the music-script virtual machine: a 13-opcode
// byte-coded program, one per channel/track, that drives instrument note
// dispatch, panning, looping, subroutine calls, and the global mood value.
package music

import (
	"encoding/binary"

	"github.com/osmium-audio/coretone/internal/coretone/channel"
	"github.com/osmium-audio/coretone/internal/coretone/cterr"
	"github.com/osmium-audio/coretone/internal/coretone/instrument"
	"github.com/osmium-audio/coretone/internal/coretone/patch"
	"github.com/osmium-audio/coretone/internal/coretone/sample"
	"github.com/osmium-audio/coretone/internal/fixedpoint"
)

// Opcode identifies a music track command.
const (
	OpSetPriority = iota
	OpSetPanning
	OpSetInstrument
	OpNoteOn
	OpNoteOff
	OpPitch
	OpLoopStart
	OpLoopEnd
	OpCall
	OpReturn
	OpBreak
	OpNop
	OpSetMood

	// Footer is the opcode count; a script byte at or above it with its
	// wait bit clear halts the track (and, if it held an instrument, the
	// patch and channel underneath it) rather than indexing out of range.
	Footer = 13
)

// StackDepth bounds how many nested loop/call markers a track script may
// have open at once. Shared with the patch VM's loop stack depth.
const StackDepth = patch.StackDepth

// CallTag marks a loop-stack slot as holding a CALL return address rather
// than a loop counter, so RETURN and BREAK can walk back over it.
const CallTag int32 = -128

// DefaultVolume is the panning/volume value every track starts at.
const DefaultVolume int8 = 127

const (
	waitBit  = 0x80
	waitMask = 0x7F
)

// Track is one music channel's decoder state: script position, priority,
// panning, and its own copy of the loop/call stack.
type Track struct {
	Channel *channel.Channel
	Patch   *patch.Patch

	Priority  int32
	RecalcVol bool

	InstSel uint32
	Note    uint8

	Script []byte
	Offset uint32
	Delay  uint32

	VolMain           int8
	PanLeft, PanRight int8
	VolLeft, VolRight int8

	StackPos  uint32
	LoopStack [StackDepth]int32
	AddrStack [StackDepth]uint32
}

func (t *Track) readU16() uint16 {
	lo := t.Script[t.Offset]
	hi := t.Script[t.Offset+1]
	t.Offset += 2
	return uint16(lo) | uint16(hi)<<8
}

// Machine holds every track plus the shared instrument/sample packs and
// the global mood value SET_MOOD writes to.
type Machine struct {
	Tracks      []*Track
	Instruments *instrument.Store
	Samples     *sample.Store
	Mood        int32
}

// NewMachine builds a Machine with n tracks, each already wired to its own
// Channel and Patch.
func NewMachine(tracks []*Track, instruments *instrument.Store, samples *sample.Store) *Machine {
	return &Machine{Tracks: tracks, Instruments: instruments, Samples: samples}
}

const (
	musicHeaderSize  = 8 // magic (4) + track count (4)
	musicEntrySize   = 5 // priority (1) + script offset (4)
	musicMagicLen    = 4
	musicDirBase     = 8
	musicEntryOffset = 1 // byte offset of the uint32 script offset within an entry
)

// Magic is the leading identifier every music pack must carry.
const Magic = "CMUS"

// Setup begins playback of pack, dispatching one track per directory
// entry (dropping any beyond len(m.Tracks)). Any previously decoding
// tracks are expected to have already been halted by the caller.
func (m *Machine) Setup(pack []byte) error {
	if len(pack) < musicHeaderSize || string(pack[:musicMagicLen]) != Magic {
		return cterr.Wrap("music", cterr.ErrInvalidMagic, "pack header")
	}

	count := binary.LittleEndian.Uint32(pack[4:8])
	n := count
	if n > uint32(len(m.Tracks)) {
		n = uint32(len(m.Tracks))
	}

	dirEnd := musicDirBase + int(n)*musicEntrySize
	if len(pack) < dirEnd {
		return cterr.Wrap("music", cterr.ErrMisaligned, "directory truncated")
	}

	for i := uint32(0); i < n; i++ {
		base := musicDirBase + int(i)*musicEntrySize
		priority := int8(pack[base])
		offset := binary.LittleEndian.Uint32(pack[base+musicEntryOffset : base+musicEntryOffset+4])

		t := m.Tracks[i]
		t.Priority = int32(priority)
		t.RecalcVol = true

		t.InstSel = 0
		t.Note = instrument.NoteInvalid

		t.Script = pack[offset:]
		t.Offset = 0
		t.Delay = 0

		t.PanLeft = DefaultVolume
		t.PanRight = DefaultVolume

		t.StackPos = 0

		t.Patch.FreqPitch = 0
		t.Patch.PitchAdj = 0
	}

	return nil
}

// RecalcVol recomputes a track's left/right volume scalars from its main
// volume and panning, propagating them to the channel if the track
// currently owns an instrument. Should be called whenever VolMain,
// PanLeft, or PanRight changes.
func (m *Machine) RecalcVol(t *Track) {
	t.VolLeft = fixedpoint.MulHi8Predoubled(t.VolMain, t.PanLeft)
	t.VolRight = fixedpoint.MulHi8Predoubled(t.VolMain, t.PanRight)

	t.RecalcVol = false
	if t.Patch.Instrument {
		t.Channel.VolLeft = t.VolLeft
		t.Channel.VolRight = t.VolRight
	}
}

// Decode advances track index through its script if it is active
// (nonzero priority) and has no pending delay. Should be called once per
// tick for every active track, before its patch is decoded.
func (m *Machine) Decode(index int) {
	t := m.Tracks[index]

	if t.RecalcVol {
		m.RecalcVol(t)
	}

	for t.Priority != 0 && t.Delay == 0 {
		b := t.Script[t.Offset]

		if b&waitBit != 0 {
			// Capped at 4 bytes -- a 5th would shift past bit 31 of Delay.
			shift := uint(0)
			for (b&waitBit != 0) && shift < 28 {
				t.Delay |= uint32(b&waitMask) << shift
				t.Offset++
				b = t.Script[t.Offset]
				shift += 7
			}
			continue
		}

		t.Offset++
		if uint8(b) < Footer {
			dispatch[b](m, t)
		} else {
			t.Priority = 0
			if t.Patch.Instrument {
				t.Channel.Mode = channel.ModeOff
				t.Patch.Priority = 0
				t.Patch.Instrument = false
			}
		}
	}

	if t.Priority != 0 {
		t.Delay--
	}
}

// opSetPriority takes its priority byte as an unsigned widen into
// Priority, not a sign-extended one -- the script format calls for signed
// priorities elsewhere (sound effect dispatch takes an explicit int8), but
// the original decoder's script-byte-to-int32 assignment here never sign
// extends, so a priority byte of 0x80 or higher reads back as 128-255
// rather than negative. Reproduced as-is rather than "fixed".
func opSetPriority(m *Machine, t *Track) {
	t.Priority = int32(t.Script[t.Offset])
	t.Offset++

	if t.Priority == 0 {
		t.Note = instrument.NoteInvalid
		if t.Patch.Instrument {
			t.Channel.Mode = channel.ModeOff
			t.Patch.Priority = 0
			t.Patch.Instrument = false
		}
	}
}

func opSetPanning(m *Machine, t *Track) {
	t.PanLeft = int8(t.Script[t.Offset])
	t.Offset++
	t.PanRight = int8(t.Script[t.Offset])
	t.Offset++
	m.RecalcVol(t)
}

func opSetInstrument(m *Machine, t *Track) {
	t.InstSel = uint32(t.Script[t.Offset])
	t.Offset++
}

// opNoteOn dispatches an instrument onto this track's channel, but only
// when the channel is already under this track's control or is occupied
// by a sound effect of strictly lower priority than the track itself.
func opNoteOn(m *Machine, t *Track) {
	if t.Patch.Priority < t.Priority || t.Patch.Instrument {
		note := t.Script[t.Offset]
		t.Offset++
		t.Note = note

		t.Patch.Priority = t.Priority
		t.Patch.Instrument = true

		script, noteOff, sampleID, ok := m.Instruments.Script(t.InstSel)
		if !ok {
			return
		}
		t.Patch.Script = script
		t.Patch.NoteOff = noteOff

		var freq fixedpoint.Q16_16
		if int(note) < instrument.NoteCount {
			freq = m.Instruments.NoteFreqs[note]
		}

		data, length := m.Samples.Get(sampleID)
		t.Channel.Sample = data
		t.Channel.SampleLen = length
		t.Patch.FreqBase = m.Samples.CalcPhase(sampleID, freq)
		t.Patch.KeyOn()

		t.Channel.VolLeft = t.VolLeft
		t.Channel.VolRight = t.VolRight
	}
}

func opNoteOff(m *Machine, t *Track) {
	if t.Patch.Instrument {
		t.Note = instrument.NoteInvalid
		t.Patch.KeyOff()
	}
}

func opPitch(m *Machine, t *Track) {
	pitchLo := t.readU16()
	pitchHi := t.readU16()
	adjLo := t.readU16()
	adjHi := t.readU16()

	t.Patch.FreqPitch = fixedpoint.Q16_16FromParts(int16(pitchHi), pitchLo)
	t.Patch.PitchAdj = fixedpoint.Q16_16FromParts(int16(adjHi), adjLo)
}

func opLoopStart(m *Machine, t *Track) {
	if t.StackPos < StackDepth {
		count := int8(t.Script[t.Offset])
		t.Offset++

		t.LoopStack[t.StackPos] = int32(count)
		t.AddrStack[t.StackPos] = t.Offset
		t.StackPos++
	}
}

func opLoopEnd(m *Machine, t *Track) {
	if t.StackPos == 0 {
		return
	}
	top := t.StackPos - 1

	switch {
	case t.LoopStack[top] >= 0 && t.LoopStack[top] < 2:
		t.StackPos = top
	case t.LoopStack[top] < 0:
		t.Offset = t.AddrStack[top]
	default:
		t.Offset = t.AddrStack[top]
		t.LoopStack[top]--
	}
}

// opCall pushes a return address tagged with CallTag and jumps to a
// 32-bit signed offset relative to the byte immediately following the
// offset operand itself.
func opCall(m *Machine, t *Track) {
	if t.StackPos < StackDepth {
		t.LoopStack[t.StackPos] = CallTag
		t.AddrStack[t.StackPos] = t.Offset + 4

		lo := t.readU16()
		hi := t.readU16()
		rel := int32(uint32(hi)<<16 | uint32(lo))

		t.Offset = uint32(int32(t.Offset) + rel)
		t.StackPos++
	}
}

func opReturn(m *Machine, t *Track) {
	if t.StackPos == 0 {
		return
	}
	top := t.StackPos - 1
	if t.LoopStack[top] == CallTag {
		t.Offset = t.AddrStack[top]
		t.StackPos = top
	}
}

// opBreak unwinds every track's CALL stack back to its outermost call,
// not just the issuing track's -- a BREAK in one track can release any
// other track that is waiting inside a subroutine.
func opBreak(m *Machine, t *Track) {
	for _, other := range m.Tracks {
		for y := uint32(0); y < other.StackPos; y++ {
			if other.LoopStack[y] == CallTag {
				other.Offset = other.AddrStack[y]
				other.StackPos = y
				other.Delay = 0
			}
		}
	}
}

func opNop(m *Machine, t *Track) {}

func opSetMood(m *Machine, t *Track) {
	lo := t.readU16()
	hi := t.readU16()
	m.Mood = int32(uint32(hi)<<16 | uint32(lo))
}

var dispatch = [Footer]func(*Machine, *Track){
	opSetPriority, opSetPanning,
	opSetInstrument,
	opNoteOn, opNoteOff,
	opPitch,

	opLoopStart, opLoopEnd,
	opCall, opReturn, opBreak,
	opNop, opSetMood,
}
