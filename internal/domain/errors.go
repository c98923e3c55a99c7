package domain

import "errors"

// ErrRaceLost is returned when another actor already moved or claimed the
// resource. It is always non-fatal; callers skip the task and move on.
var ErrRaceLost = errors.New("driveq: race lost")

// ErrNotFound is returned when a descriptor or marker no longer exists.
var ErrNotFound = errors.New("driveq: not found")

// ErrConflict is returned when a rename destination already exists.
var ErrConflict = errors.New("driveq: destination already exists")

// ErrMalformedTask is returned for unparseable descriptor bodies. Such
// files are skipped and logged, never deleted automatically.
var ErrMalformedTask = errors.New("driveq: malformed task descriptor")

// ErrUnknownState is returned when a state string is not recognized.
var ErrUnknownState = errors.New("driveq: unknown state")
