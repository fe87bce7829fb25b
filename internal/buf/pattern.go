package buf

// Fill sets every byte of b to v.
func Fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

// AllEqual reports whether every byte of b equals v. An empty b is trivially equal.
func AllEqual(b []byte, v byte) bool {
	return FirstMismatch(b, v) < 0
}

// FirstMismatch returns the index of the first byte in b that differs from v, or -1.
func FirstMismatch(b []byte, v byte) int {
	for i, c := range b {
		if c != v {
			return i
		}
	}
	return -1
}
