package driveq

import (
	"path/filepath"
	"strings"

	"driveq/internal/domain"
)

const (
	lockSuffix   = ".lock"
	statusSuffix = ".status"
)

// Layout centralizes path construction for the shared drive tree so the
// on-disk format is not scattered across components.
type Layout struct {
	Root   string
	Tasks  string
	Status string
}

// NewLayout returns the precomputed directory set under root.
func NewLayout(root string) Layout {
	return Layout{
		Root:   root,
		Tasks:  filepath.Join(root, "tasks"),
		Status: filepath.Join(root, "status"),
	}
}

// Dirs lists every directory the layout requires to exist.
func (l Layout) Dirs() []string {
	return []string{l.Tasks, l.Status}
}

// Descriptor returns the path of a task's descriptor in the given state.
func (l Layout) Descriptor(id string, s domain.State) string {
	return filepath.Join(l.Tasks, id+"."+s.String())
}

// Lock returns the path of a task's lock marker.
func (l Layout) Lock(id string) string {
	return filepath.Join(l.Tasks, id+lockSuffix)
}

// WorkerStatus returns the path of a worker's session heartbeat file.
func (l Layout) WorkerStatus(workerID string) string {
	return filepath.Join(l.Status, workerID+statusSuffix)
}

// SplitDescriptor decomposes a descriptor filename into task id and
// state. ok is false for lock markers, temp files and foreign names.
func SplitDescriptor(name string) (id string, s domain.State, ok bool) {
	i := strings.LastIndexByte(name, '.')
	if i <= 0 {
		return "", "", false
	}
	st, err := domain.ParseState(name[i+1:])
	if err != nil {
		return "", "", false
	}
	return name[:i], st, true
}
