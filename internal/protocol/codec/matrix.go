package codec

// Matrix4 is a 4x4 rigid transform stored row-major.
type Matrix4 [16]float64

func Identity() Matrix4 {
	return Matrix4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Translation returns the identity rotation with translation (x, y, z).
func Translation(x, y, z float64) Matrix4 {
	m := Identity()
	m[3], m[7], m[11] = x, y, z
	return m
}

func (m Matrix4) At(row, col int) float64 {
	return m[row*4+col]
}

// Float32s returns the elements rounded to single precision.
func (m Matrix4) Float32s() []float32 {
	out := make([]float32, len(m))
	for i, v := range m {
		out[i] = float32(v)
	}
	return out
}

// PutMatrix4 writes m as a sequence of sixteen float32 values. Precision
// beyond float32 is dropped.
func (e *Encoder) PutMatrix4(m Matrix4) {
	PutSequence(e, m.Float32s(), (*Encoder).PutFloat32)
}

func (d *Decoder) Matrix4() (Matrix4, error) {
	values, err := Sequence(d, (*Decoder).Float32)
	if err != nil {
		return Matrix4{}, err
	}
	var m Matrix4
	if len(values) != len(m) {
		return Matrix4{}, malformed("matrix: got %d values, want %d", len(values), len(m))
	}
	for i, v := range values {
		m[i] = float64(v)
	}
	return m, nil
}
