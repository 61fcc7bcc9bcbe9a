package vectorindex

import "errors"

var (
	ErrShapeMismatch      = errors.New("documents and vectors count mismatch")
	ErrDimensionMismatch  = errors.New("embedding dimension mismatch")
	ErrSnapshotCorrupt    = errors.New("index snapshot corrupt")
	ErrBackendUnreachable = errors.New("vector backend unreachable")
)
