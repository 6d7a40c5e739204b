package langid

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestMarshalModel_RoundTrip(t *testing.T) {
	m, err := BuildModel([]string{"en", "fr", "de"}, []float64{0.5, 0.3, 0.2}, []Feature{
		{Seq: " the ", Weights: []float64{2, -1, -1}},
		{Seq: " les ", Weights: []float64{-1, 2, -1}},
		{Seq: " und ", Weights: []float64{-1, -1, 2}},
		{Seq: "sch", Weights: []float64{-0.5, -0.5, 1.5}},
	})
	require.NoError(t, err)

	data := MarshalModel(m)
	got, err := UnmarshalModel(data)
	require.NoError(t, err)
	require.NoError(t, got.Validate())
	assert.Equal(t, m, got)
}

func TestUnmarshalModel_UnknownFieldsSkipped(t *testing.T) {
	data := MarshalModel(testModel())
	data = protowire.AppendTag(data, 99, protowire.VarintType)
	data = protowire.AppendVarint(data, 42)
	data = protowire.AppendTag(data, 100, protowire.BytesType)
	data = protowire.AppendString(data, "future extension")

	got, err := UnmarshalModel(data)
	require.NoError(t, err)
	assert.Equal(t, testModel(), got)
}

func TestUnmarshalModel_UnpackedEncoding(t *testing.T) {
	// a single-state single-language model encoded the expanded way, one
	// element per field occurrence
	var b []byte
	varint := func(num protowire.Number, v uint64) {
		b = protowire.AppendTag(b, num, protowire.VarintType)
		b = protowire.AppendVarint(b, v)
	}
	varint(fieldNumFeats, 1)
	varint(fieldNumLangs, 1)
	varint(fieldNumStates, 1)
	for i := 0; i < 256; i++ {
		varint(fieldTransitions, 0)
	}
	varint(fieldEmitCounts, 1)
	varint(fieldEmitOffsets, 0)
	varint(fieldEmissions, 0)
	b = protowire.AppendTag(b, fieldPriors, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(0.25))
	b = protowire.AppendTag(b, fieldLikelihoods, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(1.5))
	b = protowire.AppendTag(b, fieldClasses, protowire.BytesType)
	b = protowire.AppendString(b, "xx")

	m, err := UnmarshalModel(b)
	require.NoError(t, err)
	require.NoError(t, m.Validate())
	assert.Equal(t, 1, m.NumStates)
	assert.Equal(t, []float64{0.25}, m.Priors)
	assert.Equal(t, []float64{1.5}, m.Likelihoods)
	assert.Equal(t, []string{"xx"}, m.Classes)
	assert.Len(t, m.Transitions, 256)
}

func TestUnmarshalModel_Corrupted(t *testing.T) {
	data := MarshalModel(testModel())

	tbl := []struct {
		name string
		buf  []byte
	}{
		{"cut inside first field", data[:1]},
		{"cut inside packed table", data[:len(data)/2]},
		{"cut inside last field", data[:len(data)-1]},
		{"dangling varint", []byte{0xff}},
		{"field number zero", []byte{0x00}},
	}
	for _, tt := range tbl {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalModel(tt.buf)
			assert.Error(t, err)
		})
	}
}

func TestUnmarshalModel_Uint32Overflow(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, fieldTransitions, protowire.VarintType)
	b = protowire.AppendVarint(b, math.MaxUint32+1)

	_, err := UnmarshalModel(b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overflows uint32")
}

func TestUnmarshalModel_Empty(t *testing.T) {
	// no fields decode to an all-zero model, it fails validation downstream
	m, err := UnmarshalModel(nil)
	require.NoError(t, err)
	require.Error(t, m.Validate())
}
