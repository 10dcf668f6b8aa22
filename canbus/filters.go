package canbus

// ByID matches one exact identifier.
func ByID(id uint32) FrameFilter {
	return func(f Frame) bool { return f.ID == id }
}

// ByIDs matches any of the given identifiers.
func ByIDs(ids ...uint32) FrameFilter {
	set := make(map[uint32]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return func(f Frame) bool {
		_, ok := set[f.ID]
		return ok
	}
}

// ByMask matches when (frame.ID & mask) == (id & mask).
func ByMask(id, mask uint32) FrameFilter {
	want := id & mask
	return func(f Frame) bool { return f.ID&mask == want }
}

// StandardOnly matches 11-bit identifiers.
func StandardOnly() FrameFilter {
	return func(f Frame) bool { return !f.Extended }
}

// DataOnly matches non-RTR frames.
func DataOnly() FrameFilter {
	return func(f Frame) bool { return !f.RTR }
}

// And matches when both filters match. A nil operand is ignored.
func And(a, b FrameFilter) FrameFilter {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(f Frame) bool { return a(f) && b(f) }
}

// Or matches when either filter matches. A nil operand is ignored.
func Or(a, b FrameFilter) FrameFilter {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(f Frame) bool { return a(f) || b(f) }
}

// Not inverts a filter. Not(nil) matches nothing.
func Not(a FrameFilter) FrameFilter {
	if a == nil {
		return func(Frame) bool { return false }
	}
	return func(f Frame) bool { return !a(f) }
}
