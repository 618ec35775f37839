package config

import "sort"

// Changes is what has to happen to a running scheduler to move it from one
// servo set to another.
type Changes struct {
	// Remove lists indexes that are gone or whose pin changed.
	Remove []uint
	// Add lists servos that are new or whose pin changed.
	Add []Servo
	// Move lists servos that only changed position.
	Move []Servo
}

// Empty reports whether nothing changed.
func (c Changes) Empty() bool {
	return len(c.Remove) == 0 && len(c.Add) == 0 && len(c.Move) == 0
}

// Diff compares two servo sets. Removals come first so a re-pinned servo
// frees its slot before it is added back.
func Diff(old, next []Servo) Changes {
	prev := make(map[uint]Servo, len(old))
	for _, s := range old {
		prev[s.Index] = s
	}
	var ch Changes
	seen := make(map[uint]bool, len(next))
	for _, s := range next {
		seen[s.Index] = true
		p, ok := prev[s.Index]
		switch {
		case !ok:
			ch.Add = append(ch.Add, s)
		case p.Pin != s.Pin:
			ch.Remove = append(ch.Remove, s.Index)
			ch.Add = append(ch.Add, s)
		case p.Position != s.Position:
			ch.Move = append(ch.Move, s)
		}
	}
	for _, s := range old {
		if !seen[s.Index] {
			ch.Remove = append(ch.Remove, s.Index)
		}
	}
	sort.Slice(ch.Remove, func(i, j int) bool { return ch.Remove[i] < ch.Remove[j] })
	return ch
}
