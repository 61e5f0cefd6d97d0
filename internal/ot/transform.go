package ot

// Transform rebases clientOps to apply cleanly after serverOps, using a
// server-wins policy at equal positions. The result is intended to be
// applied to apply(base, serverOps).
//
// This is an intentionally restricted OT: it assumes operations are
// single-character or non-overlapping at equal positions, which is what
// DiffToOps produces from a character diff. It buys TP1-like convergence
// for that restricted shape, not the general TP1/TP2 guarantee.
func Transform(clientOps, serverOps []Operation) []Operation {
	rebased := make([]Operation, 0, len(clientOps))
	ci, si := 0, 0
	offset := 0

	for ci < len(clientOps) && si < len(serverOps) {
		c, s := clientOps[ci], serverOps[si]
		switch {
		case c.Position < s.Position:
			shifted := c
			shifted.Position += offset
			rebased = append(rebased, shifted)
			ci++
		case c.Position > s.Position:
			offset += serverEffect(s)
			si++
		default:
			switch {
			case c.Kind == Insert && s.Kind == Insert:
				shifted := c
				shifted.Position += offset + len([]rune(s.Text))
				rebased = append(rebased, shifted)
			case c.Kind == Delete && s.Kind == Delete:
				// already removed by the server; drop the client op.
			default:
				shifted := c
				shifted.Position += offset
				rebased = append(rebased, shifted)
			}
			// s is consumed here too: its effect on positions to its
			// right must carry forward, the same as the c.Position >
			// s.Position branch above.
			offset += serverEffect(s)
			ci++
			si++
		}
	}
	for ; ci < len(clientOps); ci++ {
		shifted := clientOps[ci]
		shifted.Position += offset
		rebased = append(rebased, shifted)
	}
	return rebased
}

// serverEffect returns the position shift a server op imposes on
// positions strictly to its right.
func serverEffect(op Operation) int {
	switch op.Kind {
	case Insert:
		return len([]rune(op.Text))
	case Delete:
		return -op.Length
	default:
		return 0
	}
}
