package whiteboard

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidStroke = errors.New("invalid stroke")
	ErrBoardFull     = errors.New("whiteboard is full")
	ErrNothingToUndo = errors.New("nothing to undo")
	ErrNothingToRedo = errors.New("nothing to redo")
)

// Tool is the drawing tool of a stroke.
type Tool string

const (
	ToolPen         Tool = "pen"
	ToolHighlighter Tool = "highlighter"
	ToolEraser      Tool = "eraser"
	ToolShape       Tool = "shape"
	ToolText        Tool = "text"
)

// Valid reports whether t is a known tool.
func (t Tool) Valid() bool {
	switch t {
	case ToolPen, ToolHighlighter, ToolEraser, ToolShape, ToolText:
		return true
	}
	return false
}

// Point is a board coordinate normalised to 0..1.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Stroke is one drawn element.
type Stroke struct {
	ID        uuid.UUID `json:"id"`
	Tool      Tool      `json:"tool"`
	Color     string    `json:"color,omitempty"`
	Width     float64   `json:"width,omitempty"`
	Points    []Point   `json:"points"`
	Shape     string    `json:"shape,omitempty"` // rect, ellipse, line, arrow
	Text      string    `json:"text,omitempty"`
	AuthorID  uuid.UUID `json:"author_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Stroke) validate() error {
	if !s.Tool.Valid() || len(s.Points) == 0 {
		return ErrInvalidStroke
	}
	switch s.Tool {
	case ToolText:
		if s.Text == "" {
			return ErrInvalidStroke
		}
	case ToolShape:
		if s.Shape == "" || len(s.Points) < 2 {
			return ErrInvalidStroke
		}
	}
	for _, p := range s.Points {
		if p.X < 0 || p.X > 1 || p.Y < 0 || p.Y > 1 {
			return ErrInvalidStroke
		}
	}
	return nil
}

type opKind int

const (
	opAdd opKind = iota
	opClear
)

type op struct {
	kind    opKind
	stroke  Stroke
	cleared []Stroke
}

// Snapshot is the persisted and broadcast form of a board.
type Snapshot struct {
	ClassroomID  uuid.UUID `json:"classroom_id"`
	Strokes      []Stroke  `json:"strokes"`
	StudentsDraw bool      `json:"students_draw"`
	CanUndo      bool      `json:"can_undo"`
	CanRedo      bool      `json:"can_redo"`
	Version      int64     `json:"version"`
}

// Board is the whiteboard of one classroom. Undo and redo are board-wide.
// A new stroke clears the redo stack; clearing the board can itself be undone.
type Board struct {
	mu           sync.Mutex
	classroomID  uuid.UUID
	maxStrokes   int
	strokes      []Stroke
	undo         []op
	redo         []op
	studentsDraw bool
	version      int64
}

// NewBoard creates an empty board. maxStrokes <= 0 means unlimited.
func NewBoard(classroomID uuid.UUID, maxStrokes int) *Board {
	return &Board{classroomID: classroomID, maxStrokes: maxStrokes}
}

// Restore loads strokes from a snapshot. Undo history is not persisted.
func (b *Board) Restore(s Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.strokes = append([]Stroke(nil), s.Strokes...)
	b.studentsDraw = s.StudentsDraw
	b.version = s.Version
	b.undo, b.redo = nil, nil
}

// Add validates and appends a stroke, assigning its ID and time.
func (b *Board) Add(s Stroke, now time.Time) (Stroke, error) {
	if err := s.validate(); err != nil {
		return Stroke{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.maxStrokes > 0 && len(b.strokes) >= b.maxStrokes {
		return Stroke{}, ErrBoardFull
	}
	s.ID = uuid.New()
	s.CreatedAt = now
	b.strokes = append(b.strokes, s)
	b.undo = append(b.undo, op{kind: opAdd, stroke: s})
	b.redo = nil
	b.version++
	return s, nil
}

// Clear removes every stroke. A no-op on an empty board.
func (b *Board) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.strokes) == 0 {
		return
	}
	b.undo = append(b.undo, op{kind: opClear, cleared: b.strokes})
	b.strokes = nil
	b.redo = nil
	b.version++
}

// Undo reverts the most recent add or clear.
func (b *Board) Undo() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.undo) == 0 {
		return ErrNothingToUndo
	}
	last := b.undo[len(b.undo)-1]
	b.undo = b.undo[:len(b.undo)-1]
	switch last.kind {
	case opAdd:
		b.strokes = removeStroke(b.strokes, last.stroke.ID)
	case opClear:
		b.strokes = append(append([]Stroke(nil), last.cleared...), b.strokes...)
	}
	b.redo = append(b.redo, last)
	b.version++
	return nil
}

// Redo reapplies the most recently undone operation.
func (b *Board) Redo() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.redo) == 0 {
		return ErrNothingToRedo
	}
	last := b.redo[len(b.redo)-1]
	b.redo = b.redo[:len(b.redo)-1]
	switch last.kind {
	case opAdd:
		b.strokes = append(b.strokes, last.stroke)
	case opClear:
		last.cleared = b.strokes
		b.strokes = nil
	}
	b.undo = append(b.undo, last)
	b.version++
	return nil
}

// SetStudentsDraw toggles whether students may draw.
func (b *Board) SetStudentsDraw(allowed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.studentsDraw = allowed
	b.version++
}

// StudentsDraw reports whether students may draw.
func (b *Board) StudentsDraw() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.studentsDraw
}

// Snapshot returns a copy of the board state.
func (b *Board) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	strokes := make([]Stroke, len(b.strokes))
	copy(strokes, b.strokes)
	return Snapshot{
		ClassroomID:  b.classroomID,
		Strokes:      strokes,
		StudentsDraw: b.studentsDraw,
		CanUndo:      len(b.undo) > 0,
		CanRedo:      len(b.redo) > 0,
		Version:      b.version,
	}
}

func removeStroke(strokes []Stroke, id uuid.UUID) []Stroke {
	for i := len(strokes) - 1; i >= 0; i-- {
		if strokes[i].ID == id {
			return append(strokes[:i:i], strokes[i+1:]...)
		}
	}
	return strokes
}
