package curve

// Table holds precomputed multiples of a fixed point, speeding up repeated
// multiplications by that point. Lookups are indexed by scalar digits and are therefore
// variable time; use tables only where the timing of a multiplication may depend on the
// scalar, i.e. for rerandomization factors of high-volume translation batches where the
// per-operation randomness is short-lived.
type Table struct {
	point *Point
	// multiples[d] = d·P for d in 0..15, one 4-bit window.
	multiples [16]*Point
}

const windowCount = PackedBytes * 2 // 4-bit windows in a packed scalar

// NewTable precomputes the window table for p.
func NewTable(p *Point) *Table {
	t := &Table{point: p}
	t.multiples[0] = IdentityPoint()
	for d := 1; d < len(t.multiples); d++ {
		t.multiples[d] = t.multiples[d-1].Add(p)
	}
	return t
}

// Point returns the fixed point the table was built for.
func (t *Table) Point() *Point {
	return t.point
}

// VarTimeMul returns s·P using the precomputed window table. Variable time in s.
func (t *Table) VarTimeMul(s *Scalar) *Point {
	b := s.Bytes() // canonical little-endian
	acc := IdentityPoint()
	for i := windowCount - 1; i >= 0; i-- {
		if i != windowCount-1 {
			// acc <<= 4
			acc = acc.Add(acc)
			acc = acc.Add(acc)
			acc = acc.Add(acc)
			acc = acc.Add(acc)
		}
		d := b[i/2] & 0x0f
		if i%2 == 1 {
			d = b[i/2] >> 4
		}
		if d != 0 {
			acc = acc.Add(t.multiples[d])
		}
	}
	return acc
}
