package domain

// Split partitions ids into contiguous chunks of size; the last chunk may be
// shorter. Order is preserved and no chunk is empty.
func Split(ids []int64, size int) [][]int64 {
	if size <= 0 {
		panic("domain.Split: size must be > 0")
	}
	if len(ids) == 0 {
		return nil
	}

	out := make([][]int64, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunk := make([]int64, end-start)
		copy(chunk, ids[start:end])
		out = append(out, chunk)
	}
	return out
}
