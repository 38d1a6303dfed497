//go:build darwin

package mt

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func putF32(rec []byte, off int, v float32) {
	binary.LittleEndian.PutUint32(rec[off:], math.Float32bits(v))
}

func putF64(rec []byte, off int, v float64) {
	binary.LittleEndian.PutUint64(rec[off:], math.Float64bits(v))
}

// buildRecord assembles one raw contact record the way the framework lays
// it out in the callback buffer.
func buildRecord(id, state int32, x, y, size float32) []byte {
	rec := make([]byte, contactSize)
	putF64(rec, offTimestamp, 12.5)
	binary.LittleEndian.PutUint32(rec[offIdentifier:], uint32(id))
	binary.LittleEndian.PutUint32(rec[offState:], uint32(state))
	putF32(rec, offNormPosX, x)
	putF32(rec, offNormPosY, y)
	putF32(rec, offNormVelX, 0.1)
	putF32(rec, offNormVelY, -0.2)
	putF32(rec, offSize, size)
	putF32(rec, offAngle, 1.57)
	putF32(rec, offMajorAxis, 0.06)
	putF32(rec, offMinorAxis, 0.04)
	return rec
}

func TestParseContacts(t *testing.T) {
	buf := append(
		buildRecord(1, StateTouching, 0.25, 0.75, 0.6),
		buildRecord(2, StateBreakTouch, 0.9, 0.1, 0.3)...,
	)

	contacts := ParseContacts(&buf[0], 2)
	require.Len(t, contacts, 2)

	first := contacts[0]
	assert.Equal(t, int32(1), first.Identifier)
	assert.Equal(t, StateTouching, first.State)
	assert.InDelta(t, 0.25, first.PosX, 1e-6)
	assert.InDelta(t, 0.75, first.PosY, 1e-6)
	assert.InDelta(t, 0.1, first.VelX, 1e-6)
	assert.InDelta(t, -0.2, first.VelY, 1e-6)
	assert.InDelta(t, 0.6, first.Size, 1e-6)
	assert.InDelta(t, 1.57, first.Angle, 1e-6)
	assert.InDelta(t, 0.06, first.MajorAxis, 1e-6)
	assert.InDelta(t, 0.04, first.MinorAxis, 1e-6)
	assert.InDelta(t, 12.5, first.Timestamp, 1e-9)

	second := contacts[1]
	assert.Equal(t, int32(2), second.Identifier)
	assert.Equal(t, StateBreakTouch, second.State)
}

func TestParseContactsEmpty(t *testing.T) {
	assert.Nil(t, ParseContacts(nil, 3))

	rec := buildRecord(1, StateTouching, 0.5, 0.5, 0.6)
	assert.Nil(t, ParseContacts(&rec[0], 0))
}
