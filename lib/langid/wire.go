package langid

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// field numbers of the serialized model message. The layout is shared with
// other langid implementations, their model files load here unchanged.
const (
	fieldNumFeats    = 1  // uint32
	fieldNumLangs    = 2  // uint32
	fieldNumStates   = 3  // uint32
	fieldTransitions = 4  // repeated uint32, packed
	fieldEmitCounts  = 5  // repeated uint32, packed
	fieldEmitOffsets = 6  // repeated uint32, packed
	fieldEmissions   = 7  // repeated uint32, packed
	fieldPriors      = 8  // repeated double, packed
	fieldLikelihoods = 9  // repeated double, packed
	fieldClasses     = 10 // repeated string
)

// UnmarshalModel decodes a model from its wire format. The decode walks buf in
// place and materializes each table exactly once, buf may be a memory-mapped
// region and is not retained. Numeric fields accept both packed and unpacked
// encodings, unknown fields are skipped. The result is structurally complete
// but not validated, New and Load run Model.Validate on top of this.
func UnmarshalModel(buf []byte) (*Model, error) {
	m := &Model{}
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, fmt.Errorf("model field tag: %w", protowire.ParseError(n))
		}
		buf = buf[n:]

		var err error
		switch num {
		case fieldNumFeats, fieldNumLangs, fieldNumStates:
			var v uint64
			if v, n = protowire.ConsumeVarint(buf); n < 0 {
				err = protowire.ParseError(n)
				break
			}
			if v > math.MaxInt32 {
				err = fmt.Errorf("dimension %d out of range", v)
				break
			}
			switch num {
			case fieldNumFeats:
				m.NumFeats = int(v)
			case fieldNumLangs:
				m.NumLangs = int(v)
			case fieldNumStates:
				m.NumStates = int(v)
			}
		case fieldTransitions:
			if m.Transitions == nil && m.NumStates > 0 {
				m.Transitions = make([]uint32, 0, m.NumStates*256)
			}
			m.Transitions, n, err = appendWireUint32s(m.Transitions, buf, typ)
		case fieldEmitCounts:
			if m.EmitCounts == nil && m.NumStates > 0 {
				m.EmitCounts = make([]uint32, 0, m.NumStates)
			}
			m.EmitCounts, n, err = appendWireUint32s(m.EmitCounts, buf, typ)
		case fieldEmitOffsets:
			if m.EmitOffsets == nil && m.NumStates > 0 {
				m.EmitOffsets = make([]uint32, 0, m.NumStates)
			}
			m.EmitOffsets, n, err = appendWireUint32s(m.EmitOffsets, buf, typ)
		case fieldEmissions:
			m.Emissions, n, err = appendWireUint32s(m.Emissions, buf, typ)
		case fieldPriors:
			if m.Priors == nil && m.NumLangs > 0 {
				m.Priors = make([]float64, 0, m.NumLangs)
			}
			m.Priors, n, err = appendWireFloat64s(m.Priors, buf, typ)
		case fieldLikelihoods:
			if m.Likelihoods == nil && m.NumFeats > 0 && m.NumLangs > 0 {
				m.Likelihoods = make([]float64, 0, m.NumFeats*m.NumLangs)
			}
			m.Likelihoods, n, err = appendWireFloat64s(m.Likelihoods, buf, typ)
		case fieldClasses:
			if typ != protowire.BytesType {
				err = fmt.Errorf("unexpected wire type %v", typ)
				break
			}
			var name []byte
			if name, n = protowire.ConsumeBytes(buf); n < 0 {
				err = protowire.ParseError(n)
				break
			}
			m.Classes = append(m.Classes, string(name))
		default:
			if n = protowire.ConsumeFieldValue(num, typ, buf); n < 0 {
				err = protowire.ParseError(n)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("model field %d: %w", num, err)
		}
		buf = buf[n:]
	}
	return m, nil
}

// MarshalModel returns the wire encoding of m, the format Load consumes.
func MarshalModel(m *Model) []byte { return AppendModel(nil, m) }

// AppendModel appends the wire encoding of m to dst and returns the extended
// buffer. Dimensions go first so a decoder can pre-size the tables.
func AppendModel(dst []byte, m *Model) []byte {
	dst = protowire.AppendTag(dst, fieldNumFeats, protowire.VarintType)
	dst = protowire.AppendVarint(dst, uint64(m.NumFeats))
	dst = protowire.AppendTag(dst, fieldNumLangs, protowire.VarintType)
	dst = protowire.AppendVarint(dst, uint64(m.NumLangs))
	dst = protowire.AppendTag(dst, fieldNumStates, protowire.VarintType)
	dst = protowire.AppendVarint(dst, uint64(m.NumStates))

	dst = appendPackedUint32s(dst, fieldTransitions, m.Transitions)
	dst = appendPackedUint32s(dst, fieldEmitCounts, m.EmitCounts)
	dst = appendPackedUint32s(dst, fieldEmitOffsets, m.EmitOffsets)
	dst = appendPackedUint32s(dst, fieldEmissions, m.Emissions)
	dst = appendPackedFloat64s(dst, fieldPriors, m.Priors)
	dst = appendPackedFloat64s(dst, fieldLikelihoods, m.Likelihoods)
	for _, name := range m.Classes {
		dst = protowire.AppendTag(dst, fieldClasses, protowire.BytesType)
		dst = protowire.AppendString(dst, name)
	}
	return dst
}

// appendWireUint32s consumes one uint32 field occurrence from buf, packed or
// a single varint, and appends the values to dst.
func appendWireUint32s(dst []uint32, buf []byte, typ protowire.Type) ([]uint32, int, error) {
	switch typ {
	case protowire.BytesType:
		pack, n := protowire.ConsumeBytes(buf)
		if n < 0 {
			return dst, 0, protowire.ParseError(n)
		}
		for len(pack) > 0 {
			v, vn := protowire.ConsumeVarint(pack)
			if vn < 0 {
				return dst, 0, protowire.ParseError(vn)
			}
			if v > math.MaxUint32 {
				return dst, 0, fmt.Errorf("value %d overflows uint32", v)
			}
			dst = append(dst, uint32(v))
			pack = pack[vn:]
		}
		return dst, n, nil
	case protowire.VarintType:
		v, n := protowire.ConsumeVarint(buf)
		if n < 0 {
			return dst, 0, protowire.ParseError(n)
		}
		if v > math.MaxUint32 {
			return dst, 0, fmt.Errorf("value %d overflows uint32", v)
		}
		return append(dst, uint32(v)), n, nil
	default:
		return dst, 0, fmt.Errorf("unexpected wire type %v", typ)
	}
}

// appendWireFloat64s consumes one double field occurrence from buf, packed or
// a single fixed64, and appends the values to dst.
func appendWireFloat64s(dst []float64, buf []byte, typ protowire.Type) ([]float64, int, error) {
	switch typ {
	case protowire.BytesType:
		pack, n := protowire.ConsumeBytes(buf)
		if n < 0 {
			return dst, 0, protowire.ParseError(n)
		}
		if len(pack)%8 != 0 {
			return dst, 0, fmt.Errorf("packed doubles have %d bytes, not a multiple of 8", len(pack))
		}
		for len(pack) > 0 {
			v, vn := protowire.ConsumeFixed64(pack)
			if vn < 0 {
				return dst, 0, protowire.ParseError(vn)
			}
			dst = append(dst, math.Float64frombits(v))
			pack = pack[vn:]
		}
		return dst, n, nil
	case protowire.Fixed64Type:
		v, n := protowire.ConsumeFixed64(buf)
		if n < 0 {
			return dst, 0, protowire.ParseError(n)
		}
		return append(dst, math.Float64frombits(v)), n, nil
	default:
		return dst, 0, fmt.Errorf("unexpected wire type %v", typ)
	}
}

func appendPackedUint32s(dst []byte, num protowire.Number, vals []uint32) []byte {
	if len(vals) == 0 {
		return dst
	}
	pack := make([]byte, 0, len(vals))
	for _, v := range vals {
		pack = protowire.AppendVarint(pack, uint64(v))
	}
	dst = protowire.AppendTag(dst, num, protowire.BytesType)
	return protowire.AppendBytes(dst, pack)
}

func appendPackedFloat64s(dst []byte, num protowire.Number, vals []float64) []byte {
	if len(vals) == 0 {
		return dst
	}
	pack := make([]byte, 0, len(vals)*8)
	for _, v := range vals {
		pack = protowire.AppendFixed64(pack, math.Float64bits(v))
	}
	dst = protowire.AppendTag(dst, num, protowire.BytesType)
	return protowire.AppendBytes(dst, pack)
}
