package transfer

import (
	"errors"
	"fmt"
)

// Stage identifies the pipeline phase an error escaped from.
type Stage string

const (
	StageCacheCheck Stage = "cache-check"
	StagePacking    Stage = "packing"
	StageFetching   Stage = "fetching"
	StageAssembling Stage = "assembling"
	StageVerifying  Stage = "verifying"
	StageExtracting Stage = "extracting"
)

var (
	// ErrSourceNotFound indicates the remote source directory does not
	// exist. Fatal for the current attempt; a later attempt re-probes.
	ErrSourceNotFound = errors.New("remote source directory not found")
	// ErrSizeQueryFailed indicates the freshly packed archive's size
	// could not be read within the bounded retry budget.
	ErrSizeQueryFailed = errors.New("remote archive size query failed")
	// ErrChunkFetchExhausted indicates one chunk exceeded its per-chunk
	// retry ceiling, aborting the whole fetch phase.
	ErrChunkFetchExhausted = errors.New("chunk fetch retries exhausted")
	// ErrOverlapMismatch indicates adjacent chunks disagree inside the
	// overlap window, i.e. the channel returned inconsistent bytes for
	// consecutive ranges.
	ErrOverlapMismatch = errors.New("chunk overlap mismatch")
	// ErrSizeMismatch indicates the assembled archive is not exactly the
	// size the remote reported.
	ErrSizeMismatch = errors.New("assembled archive size mismatch")
	// ErrChecksumMismatch indicates both checksums were obtained and
	// differ. An unobtainable remote checksum skips the check instead.
	ErrChecksumMismatch = errors.New("archive checksum mismatch")
	// ErrExtractionFailed indicates the verified archive could not be
	// unpacked into the local cache.
	ErrExtractionFailed = errors.New("archive extraction failed")
)

// StageError tags a pipeline failure with the stage it occurred in and
// the outer attempt number, so the orchestrator's single retry dispatch
// and the caller's logs both know where a run died.
type StageError struct {
	Stage   Stage
	Attempt int
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s (attempt %d): %v", e.Stage, e.Attempt, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage Stage, attempt int, err error) *StageError {
	return &StageError{Stage: stage, Attempt: attempt, Err: err}
}
