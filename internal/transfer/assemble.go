package transfer

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// VerifyOverlaps checks that every adjacent part pair agrees inside the
// overlap window. Chunk i+1 starts chunkSize-overlap bytes into chunk i,
// so its leading bytes must equal the bytes at that offset in part i.
// This is the cheap self-consistency check that catches channel
// reordering or truncation before the full checksum is paid for. The
// window shrinks when the next part is shorter than the overlap (the
// final chunk may be tiny).
func VerifyOverlaps(parts []string, p Params) error {
	step := p.ChunkSize - p.Overlap
	for i := 0; i+1 < len(parts); i++ {
		nextSize, err := fileSize(parts[i+1])
		if err != nil {
			return err
		}
		window := p.Overlap
		if nextSize < window {
			window = nextSize
		}
		if window == 0 {
			continue
		}

		expected, err := readRange(parts[i], step, window)
		if err != nil {
			return err
		}
		head, err := readRange(parts[i+1], 0, window)
		if err != nil {
			return err
		}
		if !bytes.Equal(expected, head) {
			return fmt.Errorf("%w: between chunks %d and %d", ErrOverlapMismatch, i, i+1)
		}
	}
	return nil
}

// Assemble concatenates verified parts into outPath, dropping the first
// overlap bytes of every part but the first, then checks the result is
// exactly wantSize bytes. No output file survives a failed assembly.
func Assemble(parts []string, overlap int64, outPath string, wantSize int64) (err error) {
	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	closed := false
	defer func() {
		if !closed {
			out.Close()
		}
		if err != nil {
			os.Remove(outPath)
		}
	}()

	for i, part := range parts {
		skip := int64(0)
		if i > 0 {
			size, serr := fileSize(part)
			if serr != nil {
				return serr
			}
			skip = overlap
			if size < skip {
				// The whole part lies inside the previous chunk's
				// overlap region and contributes nothing.
				skip = size
			}
		}
		if cerr := appendPart(out, part, skip); cerr != nil {
			return cerr
		}
	}

	if cerr := out.Close(); cerr != nil {
		return fmt.Errorf("close archive: %w", cerr)
	}
	closed = true

	got, err := fileSize(outPath)
	if err != nil {
		return err
	}
	if got != wantSize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrSizeMismatch, got, wantSize)
	}
	return nil
}

func appendPart(out *os.File, part string, skip int64) error {
	f, err := os.Open(part)
	if err != nil {
		return fmt.Errorf("open part: %w", err)
	}
	defer f.Close()
	if skip > 0 {
		if _, err := f.Seek(skip, io.SeekStart); err != nil {
			return fmt.Errorf("seek part: %w", err)
		}
	}
	buf := copyBufs.Get()
	defer copyBufs.Put(buf)
	if _, err := io.CopyBuffer(out, f, buf); err != nil {
		return fmt.Errorf("append part: %w", err)
	}
	return nil
}

func readRange(path string, off, n int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open part: %w", err)
	}
	defer f.Close()
	buf := make([]byte, n)
	if _, err := f.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("read part range: %w", err)
	}
	return buf, nil
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat part: %w", err)
	}
	return info.Size(), nil
}
