package workspace

import "github.com/WessleyAI/picolab/engine/circuit"

// DefaultHistoryDepth is the number of snapshots kept for undo.
const DefaultHistoryDepth = 50

// History is a bounded undo/redo stack of circuit snapshots with a cursor.
// Not safe for concurrent use; Workspace guards it.
type History struct {
	depth     int
	snapshots []circuit.Circuit
	index     int
}

// NewHistory creates a history whose cursor sits on initial.
func NewHistory(depth int, initial circuit.Circuit) *History {
	if depth <= 1 {
		depth = DefaultHistoryDepth
	}
	return &History{depth: depth, snapshots: []circuit.Circuit{initial.Clone()}}
}

// Push records c after the cursor, discarding any redo tail. The oldest
// snapshot is dropped when depth is exceeded.
func (h *History) Push(c circuit.Circuit) {
	h.snapshots = append(h.snapshots[:h.index+1], c.Clone())
	if over := len(h.snapshots) - h.depth; over > 0 {
		h.snapshots = append([]circuit.Circuit(nil), h.snapshots[over:]...)
	}
	h.index = len(h.snapshots) - 1
}

// Undo moves the cursor back and returns the snapshot there.
func (h *History) Undo() (circuit.Circuit, bool) {
	if !h.CanUndo() {
		return circuit.Circuit{}, false
	}
	h.index--
	return h.snapshots[h.index].Clone(), true
}

// Redo moves the cursor forward and returns the snapshot there.
func (h *History) Redo() (circuit.Circuit, bool) {
	if !h.CanRedo() {
		return circuit.Circuit{}, false
	}
	h.index++
	return h.snapshots[h.index].Clone(), true
}

func (h *History) CanUndo() bool { return h.index > 0 }

func (h *History) CanRedo() bool { return h.index < len(h.snapshots)-1 }

// Len returns the number of stored snapshots.
func (h *History) Len() int { return len(h.snapshots) }
