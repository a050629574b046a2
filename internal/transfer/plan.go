package transfer

// Params are the chunking parameters for one transfer. Overlap must be
// smaller than ChunkSize; the remote read primitive addresses data in
// BlockSize units, so planned ranges are rounded out to block boundaries
// and trimmed after decoding.
type Params struct {
	ChunkSize int64
	Overlap   int64
	BlockSize int64
}

// DefaultParams returns the chunking parameters tuned for the rish
// channel: 10 MiB chunks with a 1 KiB overlap window over 1 KiB blocks.
func DefaultParams() Params {
	return Params{
		ChunkSize: 10 * 1024 * 1024,
		Overlap:   1024,
		BlockSize: 1024,
	}
}

// ChunkSpec is one planned byte range of the remote archive. Start and
// Length address the exact requested range; SkipBlocks and CountBlocks
// are the block-aligned read parameters handed to dd, which may cover
// bytes before Start (within the first block) and past the requested
// end. TrimLength is the exact byte count kept after decoding.
type ChunkSpec struct {
	Index       int
	Start       int64
	Length      int64
	SkipBlocks  int64
	CountBlocks int64
	TrimLength  int64
}

// PlanChunks computes the ordered chunk list covering [0, size). It is a
// pure function: identical inputs always produce identical plans.
// size == 0 yields a single zero-length chunk that requires no channel
// call. Negative sizes are a caller contract violation.
func PlanChunks(size int64, p Params) []ChunkSpec {
	if size < 0 {
		panic("transfer: negative archive size")
	}
	step := p.ChunkSize - p.Overlap
	n := int64(1)
	if size > 0 {
		n = (size + step - 1) / step
	}

	specs := make([]ChunkSpec, 0, n)
	for i := int64(0); i < n; i++ {
		start := i * step
		end := start + p.ChunkSize
		if end > size {
			end = size
		}
		length := end - start

		skip := start / p.BlockSize
		// The block-aligned read begins at skip*BlockSize, which may be
		// before Start; the count must cover that lead-in too.
		leadIn := start - skip*p.BlockSize
		count := (leadIn + length + p.BlockSize - 1) / p.BlockSize

		specs = append(specs, ChunkSpec{
			Index:       int(i),
			Start:       start,
			Length:      length,
			SkipBlocks:  skip,
			CountBlocks: count,
			TrimLength:  length,
		})
	}
	return specs
}

// blockOffset returns how many decoded bytes precede the requested range
// within the block-aligned read.
func (c ChunkSpec) blockOffset(blockSize int64) int64 {
	return c.Start - c.SkipBlocks*blockSize
}
