package ot

import "sort"

// Apply executes ops against content and returns the resulting string.
// Ops are sorted by Position ascending (stable) then walked while
// tracking offset, the running delta between the new and old lengths
// introduced by prior ops in the walk.
//
// Ill-formed positions (negative, or beyond the content as shifted by
// offset) are a programmer error: Apply returns an error rather than
// silently clamping, per the "reject" reading of the retain-past-end
// open question.
func Apply(content string, ops []Operation) (string, error) {
	if len(ops) == 0 {
		return content, nil
	}

	sorted := make([]Operation, len(ops))
	copy(sorted, ops)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Position < sorted[j].Position })

	result := []rune(content)
	offset := 0

	for _, op := range sorted {
		pos := op.Position + offset
		switch op.Kind {
		case Insert:
			if pos < 0 || pos > len(result) {
				return "", &ErrMalformedOp{Op: op, Reason: "insert position out of range"}
			}
			text := []rune(op.Text)
			next := make([]rune, 0, len(result)+len(text))
			next = append(next, result[:pos]...)
			next = append(next, text...)
			next = append(next, result[pos:]...)
			result = next
			offset += len(text)
		case Delete:
			if pos < 0 || op.Length < 0 || pos+op.Length > len(result) {
				return "", &ErrMalformedOp{Op: op, Reason: "delete range out of bounds"}
			}
			next := make([]rune, 0, len(result)-op.Length)
			next = append(next, result[:pos]...)
			next = append(next, result[pos+op.Length:]...)
			result = next
			offset -= op.Length
		case Retain:
			if pos < 0 || op.Length < 0 || pos+op.Length > len(result) {
				return "", &ErrMalformedOp{Op: op, Reason: "retain crosses end of content"}
			}
			// purely documentary: no effect on result.
		}
	}
	return string(result), nil
}
