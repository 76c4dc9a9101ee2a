package index

// letterSignature counts a-z letters with a final bucket for every other
// rune. Comparing two signatures bounds their edit distance from below
// without running the dynamic program.
type letterSignature [27]uint8

func signatureOf(s string) letterSignature {
	var sig letterSignature
	for _, r := range s {
		i := 26
		if r >= 'a' && r <= 'z' {
			i = int(r - 'a')
		}
		if sig[i] < 255 {
			sig[i]++
		}
	}
	return sig
}

// lowerBound is a lower bound on the OSA distance between the two strings.
// A substitution changes the histogram difference by at most two, an
// insertion or deletion by one, and a transposition not at all.
func (a letterSignature) lowerBound(b letterSignature) int {
	diff := 0
	for i := range a {
		if a[i] > b[i] {
			diff += int(a[i] - b[i])
		} else {
			diff += int(b[i] - a[i])
		}
	}
	return (diff + 1) / 2
}
