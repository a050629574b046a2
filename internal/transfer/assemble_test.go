package transfer

import (
	"bytes"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
)

// writeParts materializes the trimmed chunk contents of blob exactly as
// the fetcher would, returning the ordered part paths.
func writeParts(t *testing.T, dir string, blob []byte, p Params) []string {
	t.Helper()
	specs := PlanChunks(int64(len(blob)), p)
	parts := make([]string, 0, len(specs))
	for _, spec := range specs {
		path := partFilePath(dir, spec.Index)
		if err := os.WriteFile(path, blob[spec.Start:spec.Start+spec.TrimLength], 0o644); err != nil {
			t.Fatalf("write part: %v", err)
		}
		parts = append(parts, path)
	}
	return parts
}

func randomBlob(t *testing.T, size int64) []byte {
	t.Helper()
	blob := make([]byte, size)
	rng := rand.New(rand.NewSource(size))
	rng.Read(blob)
	return blob
}

func TestAssemble_RoundTrip(t *testing.T) {
	cases := []struct {
		name string
		size int64
		p    Params
	}{
		{"three chunks unaligned", 250_000, Params{ChunkSize: 100_000, Overlap: 1_000, BlockSize: 1024}},
		{"single chunk", 5_000, Params{ChunkSize: 100_000, Overlap: 1_000, BlockSize: 1024}},
		{"tiny final chunk", 99_500, Params{ChunkSize: 100_000, Overlap: 1_000, BlockSize: 1024}},
		{"exact chunk boundary", 99_000, Params{ChunkSize: 100_000, Overlap: 1_000, BlockSize: 1024}},
		{"many chunks", 1_000_000, Params{ChunkSize: 64_000, Overlap: 512, BlockSize: 1024}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			blob := randomBlob(t, tc.size)
			parts := writeParts(t, dir, blob, tc.p)

			if err := VerifyOverlaps(parts, tc.p); err != nil {
				t.Fatalf("VerifyOverlaps: %v", err)
			}
			out := filepath.Join(dir, "out.tar")
			if err := Assemble(parts, tc.p.Overlap, out, tc.size); err != nil {
				t.Fatalf("Assemble: %v", err)
			}
			got, err := os.ReadFile(out)
			if err != nil {
				t.Fatalf("read assembled: %v", err)
			}
			if !bytes.Equal(got, blob) {
				t.Fatal("assembled archive differs from original stream")
			}
		})
	}
}

func TestVerifyOverlaps_DetectsCorruption(t *testing.T) {
	p := Params{ChunkSize: 100_000, Overlap: 1_000, BlockSize: 1024}
	dir := t.TempDir()
	blob := randomBlob(t, 250_000)
	parts := writeParts(t, dir, blob, p)

	// Invert one byte inside the leading overlap window of the second part.
	f, err := os.OpenFile(parts[1], os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("open part: %v", err)
	}
	b := make([]byte, 1)
	if _, err := f.ReadAt(b, 500); err != nil {
		t.Fatalf("read part: %v", err)
	}
	b[0] ^= 0xFF
	if _, err := f.WriteAt(b, 500); err != nil {
		t.Fatalf("corrupt part: %v", err)
	}
	f.Close()

	err = VerifyOverlaps(parts, p)
	if !errors.Is(err, ErrOverlapMismatch) {
		t.Fatalf("expected ErrOverlapMismatch, got %v", err)
	}

	// Containment: no assembled archive may exist after the failed check.
	if _, err := os.Stat(filepath.Join(dir, "out.tar")); !os.IsNotExist(err) {
		t.Fatal("assembled archive exists despite overlap failure")
	}
}

func TestAssemble_SizeMismatchLeavesNoOutput(t *testing.T) {
	p := Params{ChunkSize: 100_000, Overlap: 1_000, BlockSize: 1024}
	dir := t.TempDir()
	blob := randomBlob(t, 250_000)
	parts := writeParts(t, dir, blob, p)

	out := filepath.Join(dir, "out.tar")
	err := Assemble(parts, p.Overlap, out, 250_001)
	if !errors.Is(err, ErrSizeMismatch) {
		t.Fatalf("expected ErrSizeMismatch, got %v", err)
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Fatal("partial archive left behind after size mismatch")
	}
}

func TestVerifyOverlaps_TinyFinalChunk(t *testing.T) {
	// The final chunk lies entirely inside the previous chunk's overlap
	// window; verification and assembly must still agree byte for byte.
	p := Params{ChunkSize: 100_000, Overlap: 1_000, BlockSize: 1024}
	size := int64(99_500)
	dir := t.TempDir()
	blob := randomBlob(t, size)
	parts := writeParts(t, dir, blob, p)

	if err := VerifyOverlaps(parts, p); err != nil {
		t.Fatalf("VerifyOverlaps: %v", err)
	}
	out := filepath.Join(dir, "out.tar")
	if err := Assemble(parts, p.Overlap, out, size); err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	got, _ := os.ReadFile(out)
	if !bytes.Equal(got, blob) {
		t.Fatal("assembled archive differs from original stream")
	}
}
