package message

// FoldReaction applies r to list and reports whether anything changed. A
// reaction from an existing (By, Direction) pair replaces the old emoji in
// place; an empty emoji removes it.
func FoldReaction(list []Reaction, r Reaction) ([]Reaction, bool) {
	for i, existing := range list {
		if existing.By != r.By || existing.Direction != r.Direction {
			continue
		}
		if r.Emoji == "" {
			out := make([]Reaction, 0, len(list)-1)
			out = append(out, list[:i]...)
			return append(out, list[i+1:]...), true
		}
		if existing.Emoji == r.Emoji {
			return list, false
		}
		out := append([]Reaction(nil), list...)
		out[i].Emoji = r.Emoji
		return out, true
	}
	if r.Emoji == "" {
		return list, false
	}
	out := make([]Reaction, 0, len(list)+1)
	out = append(out, list...)
	return append(out, r), true
}
