package music

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osmium-audio/coretone/internal/coretone/channel"
	"github.com/osmium-audio/coretone/internal/coretone/cterr"
	"github.com/osmium-audio/coretone/internal/coretone/instrument"
	"github.com/osmium-audio/coretone/internal/coretone/patch"
	"github.com/osmium-audio/coretone/internal/coretone/sample"
)

func newTestMachine(n int) (*Machine, []*Track) {
	tracks := make([]*Track, n)
	for i := range tracks {
		ch := &channel.Channel{}
		p := &patch.Patch{Channel: ch}
		tracks[i] = &Track{Channel: ch, Patch: p}
	}
	return NewMachine(tracks, instrument.New(), sample.New(nil)), tracks
}

func buildMusicPack(entries []struct {
	priority int8
	offset   uint32
}, scripts []byte) []byte {
	buf := make([]byte, musicDirBase+len(entries)*musicEntrySize)
	copy(buf[0:4], Magic)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(entries)))
	for i, e := range entries {
		base := musicDirBase + i*musicEntrySize
		buf[base] = byte(e.priority)
		binary.LittleEndian.PutUint32(buf[base+1:base+5], e.offset)
	}
	return append(buf, scripts...)
}

func TestSetupInvalidMagic(t *testing.T) {
	m, _ := newTestMachine(2)
	err := m.Setup([]byte("NOPE\x00\x00\x00\x00"))
	assert.ErrorIs(t, err, cterr.ErrInvalidMagic)
}

func TestSetupDropsTracksBeyondCapacity(t *testing.T) {
	m, tracks := newTestMachine(1)
	scriptOff := uint32(musicDirBase + 2*musicEntrySize)
	pack := buildMusicPack([]struct {
		priority int8
		offset   uint32
	}{
		{priority: 5, offset: scriptOff},
		{priority: 9, offset: scriptOff},
	}, []byte{OpNop, OpEndMarker()})

	require.NoError(t, m.Setup(pack))
	assert.Equal(t, int32(5), tracks[0].Priority)
}

// OpEndMarker returns a script byte that halts decoding: any opcode at or
// above Footer with its wait bit clear.
func OpEndMarker() byte { return Footer }

func TestDecodeSetPriorityDoesNotSignExtend(t *testing.T) {
	m, tracks := newTestMachine(1)
	tr := tracks[0]
	tr.Priority = 1
	// 0x81 is a one-tick wait, stopping decode right after SET_PRIORITY so
	// the decoder does not run on past the end of the script.
	tr.Script = []byte{OpSetPriority, 0xFF, 0x81, OpNop}
	tr.Delay = 0

	m.Decode(0)

	assert.Equal(t, int32(255), tr.Priority)
}

func TestDecodeSetPanningRecalculatesVolume(t *testing.T) {
	m, tracks := newTestMachine(1)
	tr := tracks[0]
	tr.Priority = 1
	tr.VolMain = 64
	tr.Script = []byte{OpSetPanning, 127, 0, OpEndMarker()}

	m.Decode(0)

	assert.Equal(t, int8(127), tr.PanLeft)
	assert.Equal(t, int8(0), tr.PanRight)
	// high byte of (64*127)<<1 = 0x3F80 is 63; a zero pan gives zero.
	assert.Equal(t, int8(63), tr.VolLeft)
	assert.Equal(t, int8(0), tr.VolRight)
	assert.False(t, tr.RecalcVol)
}

func TestLoopStartEndRepeats(t *testing.T) {
	m, tracks := newTestMachine(1)
	tr := tracks[0]
	tr.Priority = 1
	tr.Script = []byte{
		OpLoopStart, 2,
		OpNop,
		OpLoopEnd,
		OpEndMarker(),
	}

	m.Decode(0)
	assert.Equal(t, int32(0), tr.Priority)
}

func TestCallAndReturn(t *testing.T) {
	m, tracks := newTestMachine(1)
	tr := tracks[0]
	tr.Priority = 1

	// Layout: [0]=CALL [1..4]=rel offset [5]=END (landed on after RETURN)
	// [6]=NOP (subroutine body) [7]=RETURN [8]=END (unused)
	script := make([]byte, 9)
	script[0] = OpCall
	// relative offset from byte 5 (first byte after the 4-byte operand) to
	// byte 6 (the subroutine body) is +1.
	binary.LittleEndian.PutUint32(script[1:5], uint32(int32(1)))
	script[5] = OpEndMarker()
	script[6] = OpNop
	script[7] = OpReturn
	script[8] = OpEndMarker()
	tr.Script = script

	m.Decode(0)

	assert.Equal(t, int32(0), tr.Priority)
}

func TestBreakUnwindsAllTracksCallStacks(t *testing.T) {
	m, tracks := newTestMachine(2)

	// Track 0 calls into a subroutine that starts with a one-tick wait, so
	// its first Decode stops inside the call; track 1's script issues a
	// BREAK.
	sub := tracks[0]
	sub.Priority = 1
	subScript := make([]byte, 8)
	subScript[0] = OpCall
	binary.LittleEndian.PutUint32(subScript[1:5], uint32(int32(1)))
	subScript[5] = OpEndMarker()
	subScript[6] = 0x81 // one tick delay, freezing decode mid-call
	subScript[7] = OpNop
	sub.Script = subScript
	m.Decode(0)
	require.Equal(t, uint32(1), sub.StackPos)

	breaker := tracks[1]
	breaker.Priority = 1
	breaker.Script = []byte{OpBreak, OpEndMarker()}
	m.Decode(1)

	assert.Equal(t, uint32(0), sub.StackPos)
}

func TestSetMoodStoresSignedValue(t *testing.T) {
	m, tracks := newTestMachine(1)
	tr := tracks[0]
	tr.Priority = 1
	script := make([]byte, 5)
	script[0] = OpSetMood
	binary.LittleEndian.PutUint32(script[1:5], uint32(int32(-7)))
	script = append(script, OpEndMarker())
	tr.Script = script

	m.Decode(0)

	assert.Equal(t, int32(-7), m.Mood)
}

func TestNoteOnRespectsPriorityGate(t *testing.T) {
	m, tracks := newTestMachine(1)
	tr := tracks[0]
	tr.Priority = 5
	tr.Patch.Priority = 10 // a higher-priority patch already owns the channel
	tr.Patch.Instrument = false

	tr.Script = []byte{OpNoteOn, 60, OpEndMarker()}
	m.Decode(0)

	// Note dispatch should have been refused: priority 10 is not lower
	// than the track's own priority 5, and the patch isn't already an
	// instrument under this track's control.
	assert.False(t, tr.Patch.Instrument)
}
