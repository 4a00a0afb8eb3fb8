package common

import "errors"

// The engine's error set is closed: every failure an operation can
// report is one of these sentinels, possibly wrapped around an os error.
// Callers discriminate with errors.Is.
var (
	ErrNotFound      = errors.New("not found")
	ErrNotAFile      = errors.New("not a file")
	ErrNotADir       = errors.New("not a directory")
	ErrExists        = errors.New("already exists")
	ErrNameTooLong   = errors.New("name too long")
	ErrNoInodes      = errors.New("out of inodes")
	ErrNoBlocks      = errors.New("out of blocks")
	ErrTooLarge      = errors.New("file too large")
	ErrSnapNotFound  = errors.New("snapshot not found")
	ErrSnapTableFull = errors.New("snapshot table full")
	ErrSnapNameTaken = errors.New("snapshot name taken")
	ErrWriteFailed   = errors.New("write failed")
	ErrCorrupt       = errors.New("filesystem corrupt")
)
