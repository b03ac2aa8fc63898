package voice

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osmium-audio/coretone/internal/coretone/channel"
	"github.com/osmium-audio/coretone/internal/coretone/music"
	"github.com/osmium-audio/coretone/internal/coretone/patch"
	"github.com/osmium-audio/coretone/internal/coretone/sample"
)

func newRig(n int) ([]*channel.Channel, []*patch.Patch, []*music.Track) {
	channels := make([]*channel.Channel, n)
	patches := make([]*patch.Patch, n)
	tracks := make([]*music.Track, n)
	for i := 0; i < n; i++ {
		ch := &channel.Channel{}
		channels[i] = ch
		patches[i] = &patch.Patch{Channel: ch}
		tracks[i] = &music.Track{Channel: ch, Patch: patches[i]}
	}
	return channels, patches, tracks
}

func buildSFXPack(entries [][2]uint32, scripts []byte) []byte {
	buf := make([]byte, headerSize+len(entries)*entrySize)
	copy(buf[0:4], Magic)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(entries)))
	for i, e := range entries {
		base := dirBase + i*entrySize
		binary.LittleEndian.PutUint32(buf[base:base+4], e[0])
		binary.LittleEndian.PutUint32(buf[base+4:base+8], e[1])
	}
	return append(buf, scripts...)
}

func buildSamplePack() []byte {
	// one sample entry: offset, length, sample freq, content freq -- the
	// freq fields are irrelevant to these tests since no phase is checked.
	buf := make([]byte, 8+16)
	copy(buf[0:4], "CSMP")
	binary.LittleEndian.PutUint32(buf[4:8], 1)
	binary.LittleEndian.PutUint32(buf[8:12], 24)
	binary.LittleEndian.PutUint32(buf[12:16], 3)
	binary.LittleEndian.PutUint32(buf[16:20], 1)
	binary.LittleEndian.PutUint32(buf[20:24], 1)
	return append(buf, []byte{1, 2, 3}...)
}

func TestDispatchInvalidMagic(t *testing.T) {
	channels, patches, tracks := newRig(2)
	samples := sample.New(nil)
	Dispatch([]byte("NOPE\x00\x00\x00\x00"), 1, 127, 127, channels, patches, tracks, samples)
	assert.Equal(t, int32(0), patches[0].Priority)
	assert.Equal(t, int32(0), patches[1].Priority)
}

func TestDispatchPicksIdleChannelFirst(t *testing.T) {
	channels, patches, tracks := newRig(2)
	_ = tracks
	samples := sample.New(nil)
	require.NoError(t, samples.Setup(buildSamplePack(), 48000))

	scriptOff := uint32(dirBase + 1*entrySize)
	sfx := buildSFXPack([][2]uint32{{0, scriptOff}}, []byte{patch.OpEnd})

	// Channel 1 is busy with a higher priority patch; channel 0 is idle.
	patches[1].Priority = 5
	Dispatch(sfx, 1, 100, 100, channels, patches, tracks, samples)

	assert.Equal(t, int32(1), patches[0].Priority)
	assert.False(t, patches[0].Instrument)
	assert.Equal(t, int32(5), patches[1].Priority, "busy channel must be left untouched")
}

func TestDispatchFallsBackToLowerPrioritySFX(t *testing.T) {
	channels, patches, tracks := newRig(1)
	samples := sample.New(nil)
	require.NoError(t, samples.Setup(buildSamplePack(), 48000))

	// The only channel is occupied by a lower priority SFX patch (no
	// track), so pass one (idle) fails and pass two must pick it up.
	patches[0].Priority = 3

	scriptOff := uint32(dirBase + 1*entrySize)
	sfx := buildSFXPack([][2]uint32{{0, scriptOff}}, []byte{patch.OpEnd})

	Dispatch(sfx, 7, 50, 60, channels, patches, tracks, samples)

	assert.Equal(t, int32(7), patches[0].Priority)
	assert.Equal(t, int8(50), channels[0].VolLeft)
	assert.Equal(t, int8(60), channels[0].VolRight)
}

func TestDispatchFallsBackToLowerPriorityAnyPatchWhenTrackBusy(t *testing.T) {
	channels, patches, tracks := newRig(1)
	samples := sample.New(nil)
	require.NoError(t, samples.Setup(buildSamplePack(), 48000))

	// The channel's track is active (nonzero priority), so pass two
	// (which requires an idle track) fails too; only pass three, which
	// ignores the track entirely, can claim it.
	patches[0].Priority = 2
	tracks[0].Priority = 4

	scriptOff := uint32(dirBase + 1*entrySize)
	sfx := buildSFXPack([][2]uint32{{0, scriptOff}}, []byte{patch.OpEnd})

	Dispatch(sfx, 9, 1, 1, channels, patches, tracks, samples)

	assert.Equal(t, int32(9), patches[0].Priority)
}

func TestDispatchDropsSubPatchesWhenSaturated(t *testing.T) {
	channels, patches, tracks := newRig(1)
	samples := sample.New(nil)
	require.NoError(t, samples.Setup(buildSamplePack(), 48000))

	// Nothing in the single channel is lower priority than the
	// dispatched priority, so even pass three fails.
	patches[0].Priority = 9
	tracks[0].Priority = 9

	scriptOff := uint32(dirBase + 1*entrySize)
	sfx := buildSFXPack([][2]uint32{{0, scriptOff}, {0, scriptOff}}, []byte{patch.OpEnd})

	Dispatch(sfx, 1, 1, 1, channels, patches, tracks, samples)

	assert.Equal(t, int32(9), patches[0].Priority, "saturated channel must be left untouched")
}

func TestStopReleasesMatchingSFXOnly(t *testing.T) {
	channels, patches, _ := newRig(3)
	patches[0].Channel = channels[0]
	patches[0].Priority = 5
	patches[0].Instrument = false
	patches[0].Channel.Mode = channel.ModeSingleShot

	patches[1].Channel = channels[1]
	patches[1].Priority = 5
	patches[1].Instrument = true // an instrument at the same priority value
	patches[1].Channel.Mode = channel.ModeSingleShot

	patches[2].Channel = channels[2]
	patches[2].Priority = 2 // a different priority
	patches[2].Channel.Mode = channel.ModeSingleShot

	Stop(5, patches)

	assert.Equal(t, channel.ModeOff, patches[0].Channel.Mode)
	assert.Equal(t, int32(0), patches[0].Priority)

	assert.Equal(t, channel.ModeSingleShot, patches[1].Channel.Mode, "instruments are not touched by SFX stop")
	assert.Equal(t, channel.ModeSingleShot, patches[2].Channel.Mode, "non-matching priority is left alone")
}
