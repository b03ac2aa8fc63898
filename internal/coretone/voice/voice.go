// Package voice implements sound effect voice allocation: dispatching a
// sound effect's sub-patches onto channels that are idle or hold a less
// important patch, and releasing them again by priority.
package voice

import (
	"encoding/binary"

	"github.com/osmium-audio/coretone/internal/coretone/channel"
	"github.com/osmium-audio/coretone/internal/coretone/music"
	"github.com/osmium-audio/coretone/internal/coretone/patch"
	"github.com/osmium-audio/coretone/internal/coretone/sample"
)

const (
	// Magic is the leading identifier every sound effect pack must carry.
	Magic = "CSFX"

	headerSize = 8 // magic (4) + channel count (4)
	dirBase    = 8
	entrySize  = 8 // sample id, script offset -- both uint32
)

// Dispatch plays sound effect sfx across channels/patches/tracks (three
// parallel, index-aligned slices) at the given priority and panning.
//
// Channels are scanned from the last index down to zero, in three passes:
// first any channel that is completely idle, then any channel playing a
// sound effect of strictly lower priority, then any channel running any
// patch of strictly lower priority at all -- each pass tries hardest to
// avoid stepping on currently playing music. If a sub-patch finds no
// channel in any pass, that sub-patch and every one remaining after it in
// this sound effect are dropped rather than queued.
func Dispatch(sfx []byte, priority, volLeft, volRight int8, channels []*channel.Channel, patches []*patch.Patch, tracks []*music.Track, samples *sample.Store) {
	if len(sfx) < headerSize || string(sfx[:4]) != Magic {
		return
	}

	count := binary.LittleEndian.Uint32(sfx[4:8])
	if count == 0 {
		return
	}

	n := len(channels)
	dirOff := dirBase

	for x := uint32(0); x < count; x++ {
		idx := findIdleChannel(patches, tracks, n)
		if idx < 0 {
			idx = findLowerPrioritySFXChannel(priority, patches, tracks, n)
		}
		if idx < 0 {
			idx = findLowerPriorityChannel(priority, patches, n)
		}
		if idx < 0 {
			// All three passes failed: the channels are saturated, so
			// there's no point trying the rest of this sound effect's
			// sub-patches either.
			break
		}

		if dirOff+entrySize > len(sfx) {
			break
		}
		sampleID := binary.LittleEndian.Uint32(sfx[dirOff : dirOff+4])
		scriptOff := binary.LittleEndian.Uint32(sfx[dirOff+4 : dirOff+8])

		p := patches[idx]
		p.Priority = int32(priority)
		p.Instrument = false
		p.Script = sfx[scriptOff:]
		p.NoteOff = 0

		data, length := samples.Get(sampleID)
		channels[idx].Sample = data
		channels[idx].SampleLen = length
		p.KeyOn()
		channels[idx].VolLeft = volLeft
		channels[idx].VolRight = volRight

		dirOff += entrySize
	}
}

func findIdleChannel(patches []*patch.Patch, tracks []*music.Track, n int) int {
	for y := n - 1; y >= 0; y-- {
		if patches[y].Priority == 0 && tracks[y].Priority == 0 {
			return y
		}
	}
	return -1
}

func findLowerPrioritySFXChannel(priority int8, patches []*patch.Patch, tracks []*music.Track, n int) int {
	for y := n - 1; y >= 0; y-- {
		if int32(priority) > patches[y].Priority && tracks[y].Priority == 0 {
			return y
		}
	}
	return -1
}

func findLowerPriorityChannel(priority int8, patches []*patch.Patch, n int) int {
	for y := n - 1; y >= 0; y-- {
		if int32(priority) > patches[y].Priority {
			return y
		}
	}
	return -1
}

// Stop releases every currently playing sound effect sub-patch at the
// given priority. Instruments holding the same priority value are left
// alone, since this targets sound effect priorities specifically.
func Stop(priority int8, patches []*patch.Patch) {
	for _, p := range patches {
		if !p.Instrument && p.Priority == int32(priority) {
			p.KeyOff()
		}
	}
}
