package message

import "testing"

func TestFoldReaction(t *testing.T) {
	t.Parallel()

	var list []Reaction
	list, changed := FoldReaction(list, Reaction{Emoji: "👍", Direction: DirectionInbound, By: "971501234567"})
	if !changed || len(list) != 1 {
		t.Fatalf("expected one reaction, got %v", list)
	}

	list, changed = FoldReaction(list, Reaction{Emoji: "👍", Direction: DirectionInbound, By: "971501234567"})
	if changed {
		t.Fatalf("repeating the same emoji must not change anything")
	}

	list, _ = FoldReaction(list, Reaction{Emoji: "🔥", Direction: DirectionOutbound, By: "me"})
	list, changed = FoldReaction(list, Reaction{Emoji: "❤️", Direction: DirectionInbound, By: "971501234567"})
	if !changed || len(list) != 2 {
		t.Fatalf("expected replacement in place, got %v", list)
	}
	if list[0].Emoji != "❤️" || list[1].Emoji != "🔥" {
		t.Fatalf("unexpected order after replace: %v", list)
	}

	list, changed = FoldReaction(list, Reaction{Emoji: "", Direction: DirectionInbound, By: "971501234567"})
	if !changed || len(list) != 1 || list[0].By != "me" {
		t.Fatalf("expected removal, got %v", list)
	}

	_, changed = FoldReaction(list, Reaction{Emoji: "", Direction: DirectionInbound, By: "nobody"})
	if changed {
		t.Fatalf("removing a missing reaction is a no-op")
	}
}
