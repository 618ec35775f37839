package servo

// table is the fixed groups × size array of servo slots. Slots are filled
// group-major: linear slot i lives at group i/size, slot i%size. Slots at or
// past live are nil.
type table struct {
	slots  [][]*Entry
	sorted []bool
	size   int
	live   int
}

func newTable(groups, size int) *table {
	t := &table{
		slots:  make([][]*Entry, groups),
		sorted: make([]bool, groups),
		size:   size,
	}
	for g := range t.slots {
		t.slots[g] = make([]*Entry, size)
		t.sorted[g] = true
	}
	return t
}

func (t *table) capacity() int {
	return len(t.slots) * t.size
}

func (t *table) full() bool {
	return t.live == t.capacity()
}

func (t *table) locate(i int) (group, slot int) {
	return i / t.size, i % t.size
}

func (t *table) at(i int) *Entry {
	if i < 0 || i >= t.capacity() {
		return nil
	}
	g, s := t.locate(i)
	return t.slots[g][s]
}

func (t *table) set(i int, e *Entry) {
	g, s := t.locate(i)
	t.slots[g][s] = e
}

// occupancy is the number of live entries in group g.
func (t *table) occupancy(g int) int {
	n := t.live - g*t.size
	switch {
	case n < 0:
		return 0
	case n > t.size:
		return t.size
	}
	return n
}

// group returns the live part of group g. The slice aliases the table.
func (t *table) group(g int) []*Entry {
	if g < 0 || g >= len(t.slots) {
		return nil
	}
	return t.slots[g][:t.occupancy(g)]
}

// groupsInUse is the number of groups holding at least one entry.
func (t *table) groupsInUse() int {
	return (t.live + t.size - 1) / t.size
}

func (t *table) find(index uint) (int, *Entry) {
	for i := 0; i < t.live; i++ {
		if e := t.at(i); e.index == index {
			return i, e
		}
	}
	return -1, nil
}

// append places e in the first free slot and returns its group. The caller
// checks full first.
func (t *table) append(e *Entry) int {
	i := t.live
	t.set(i, e)
	t.live++
	g, _ := t.locate(i)
	return g
}

// removeAt closes the gap at linear slot i by shifting every later entry one
// slot toward the front, crossing group boundaries, and clears the freed
// tail slot.
func (t *table) removeAt(i int) *Entry {
	e := t.at(i)
	for j := i; j < t.live-1; j++ {
		t.set(j, t.at(j+1))
	}
	t.live--
	t.set(t.live, nil)
	return e
}

func (t *table) entries() []*Entry {
	out := make([]*Entry, 0, t.live)
	for i := 0; i < t.live; i++ {
		out = append(out, t.at(i))
	}
	return out
}

func (t *table) clear() {
	for i := 0; i < t.live; i++ {
		t.set(i, nil)
	}
	t.live = 0
	for g := range t.sorted {
		t.sorted[g] = true
	}
}
