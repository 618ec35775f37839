package servo

// InsertionSort orders s in place by less and returns how many elements
// were shifted. Sorted input costs a single comparison per element.
func InsertionSort[T any](s []T, less func(a, b T) bool) (moves int) {
	for i := 1; i < len(s); i++ {
		held := s[i]
		j := i - 1
		for ; j >= 0 && less(held, s[j]); j-- {
			s[j+1] = s[j]
			moves++
		}
		s[j+1] = held
	}
	return moves
}

// BubbleSort orders s in place by less with repeated adjacent-swap passes
// until a pass makes no swap. It returns the swaps made and the passes run,
// including the final clean pass. A single element that moved up converges
// in one swapping pass.
func BubbleSort[T any](s []T, less func(a, b T) bool) (swaps, passes int) {
	end := len(s)
	for {
		passes++
		last := 0
		for i := 1; i < end; i++ {
			if less(s[i], s[i-1]) {
				s[i], s[i-1] = s[i-1], s[i]
				swaps++
				last = i
			}
		}
		if last == 0 {
			return swaps, passes
		}
		end = last
	}
}

func byOnTime(a, b *Entry) bool {
	return a.onTime < b.onTime
}
