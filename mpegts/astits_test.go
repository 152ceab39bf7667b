package mpegts

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"testing"

	"github.com/asticode/go-astits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDumpPacket_AgreesWithAstits decodes dumped packets with an independent
// demuxer and compares every field both decoders understand.
func TestDumpPacket_AgreesWithAstits(t *testing.T) {
	t.Parallel()

	r := rand.New(rand.NewPCG(7, 13))
	c := NewCodec()

	var stream bytes.Buffer
	var want []*TransportPacket
	for i := 0; i < 200; i++ {
		p := randomPacket(r, uint16(0x20+r.IntN(0x1000)), KindOpaque)
		if af := p.AdaptationField; af != nil {
			// astits interprets these sub-fields; keep the stuffing opaque.
			af.SplicingPointFlag = false
			af.TransportPrivateDataFlag = false
			af.AdaptationFieldExtensionFlag = false
		}
		buf := make([]byte, PacketSize)
		_, err := c.DumpPacket(p, buf)
		require.NoError(t, err)
		stream.Write(buf)
		want = append(want, p)
	}

	dmx := astits.NewDemuxer(context.Background(), &stream, astits.DemuxerOptPacketSize(PacketSize))
	for i, w := range want {
		got, err := dmx.NextPacket()
		require.NoError(t, err, "packet %d", i)

		assert.EqualValues(t, w.Header.PID, got.Header.PID, "packet %d", i)
		assert.EqualValues(t, w.Header.ContinuityCounter, got.Header.ContinuityCounter, "packet %d", i)
		assert.Equal(t, w.Header.TransportErrorIndicator, got.Header.TransportErrorIndicator, "packet %d", i)
		assert.Equal(t, w.Header.PayloadUnitStartIndicator, got.Header.PayloadUnitStartIndicator, "packet %d", i)
		assert.Equal(t, w.Header.TransportPriority, got.Header.TransportPriority, "packet %d", i)
		assert.EqualValues(t, w.Header.TransportScramblingControl, got.Header.TransportScramblingControl, "packet %d", i)
		assert.Equal(t, w.Header.AdaptationFieldExists, got.Header.HasAdaptationField, "packet %d", i)
		assert.Equal(t, w.Header.PayloadExists, got.Header.HasPayload, "packet %d", i)

		if w.AdaptationField != nil {
			require.NotNil(t, got.AdaptationField, "packet %d", i)
			assert.EqualValues(t, w.AdaptationField.Length, got.AdaptationField.Length, "packet %d", i)
			assert.Equal(t, w.AdaptationField.DiscontinuityIndicator, got.AdaptationField.DiscontinuityIndicator, "packet %d", i)
			assert.Equal(t, w.AdaptationField.RandomAccessIndicator, got.AdaptationField.RandomAccessIndicator, "packet %d", i)
			assert.Equal(t, w.AdaptationField.PCR != nil, got.AdaptationField.HasPCR, "packet %d", i)
			if w.AdaptationField.PCR != nil {
				assert.EqualValues(t, w.AdaptationField.PCR.Base, got.AdaptationField.PCR.Base, "packet %d", i)
				assert.EqualValues(t, w.AdaptationField.PCR.Extension, got.AdaptationField.PCR.Extension, "packet %d", i)
			}
			assert.Equal(t, w.AdaptationField.OPCR != nil, got.AdaptationField.HasOPCR, "packet %d", i)
			if w.AdaptationField.OPCR != nil {
				assert.EqualValues(t, w.AdaptationField.OPCR.Base, got.AdaptationField.OPCR.Base, "packet %d", i)
				assert.EqualValues(t, w.AdaptationField.OPCR.Extension, got.AdaptationField.OPCR.Extension, "packet %d", i)
			}
		}
		if len(w.Payload) > 0 {
			assert.Equal(t, w.Payload, got.Payload, "packet %d", i)
		}
	}

	_, err := dmx.NextPacket()
	assert.True(t, errors.Is(err, astits.ErrNoMorePackets) || errors.Is(err, io.EOF), "err = %v", err)
}
