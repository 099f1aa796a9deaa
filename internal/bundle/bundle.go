package bundle

import (
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
)

const (
	// MaxUnits is the hard ceiling on units per bundle, on the wire and in memory.
	MaxUnits = 1024

	DefaultPriority = 10
)

// Bundle is an ordered, size-bounded set of units that travels between the
// coordinator and a worker as one deliverable and acknowledgeable piece of work.
//
// SentTo and ErrorCount describe current placement and retry history; they
// are runtime state and not part of the bundle's content.
type Bundle struct {
	ID         string
	OutputRoot *string
	EatPrefix  *string
	CaseID     *string
	Priority   int
	SimpleMode bool

	SentTo     *string
	ErrorCount int

	// OldestFileTime and YoungestFileTime are modification times in
	// milliseconds since the epoch. OldestFileTime <= YoungestFileTime
	// whenever the bundle holds at least one unit added with a time.
	OldestFileTime   int64
	YoungestFileTime int64
	TotalFileSize    int64

	units []Unit
}

// New returns an empty bundle with a fresh id and default priority.
func New() *Bundle {
	return &Bundle{
		ID:               newID(),
		Priority:         DefaultPriority,
		OldestFileTime:   math.MaxInt64,
		YoungestFileTime: math.MinInt64,
	}
}

// NewWithRoots returns an empty bundle carrying the output root and eat prefix.
// Empty strings are treated as unset.
func NewWithRoots(outputRoot, eatPrefix string) *Bundle {
	b := New()
	b.OutputRoot = optional(outputRoot)
	b.EatPrefix = optional(eatPrefix)
	return b
}

func newID() string { return uuid.NewString() }

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "" for nil.
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Clone builds a new bundle from b: all fields and units are copied and a
// new id is generated. Retried bundles are never cloned, they keep their id.
func (b *Bundle) Clone() *Bundle {
	c := *b
	c.units = append([]Unit(nil), b.units...)
	c.ID = newID()
	return &c
}

// Copy returns a deep copy of b that keeps its id.
func (b *Bundle) Copy() *Bundle {
	c := *b
	c.units = append([]Unit(nil), b.units...)
	if b.SentTo != nil {
		sent := *b.SentTo
		c.SentTo = &sent
	}
	return &c
}

// Len is the number of units in the bundle.
func (b *Bundle) Len() int { return len(b.units) }

// IsEmpty reports whether the bundle has no units; an empty bundle handed
// out by the coordinator means "no work right now".
func (b *Bundle) IsEmpty() bool { return len(b.units) == 0 }

// Units returns a copy of the units in order.
func (b *Bundle) Units() []Unit {
	return append([]Unit(nil), b.units...)
}

// Unit returns the i-th unit.
func (b *Bundle) Unit(i int) (Unit, error) {
	if i < 0 || i >= len(b.units) {
		return Unit{}, fmt.Errorf("%w: %d", ErrUnitIndex, i)
	}
	return b.units[i], nil
}

// SetUnitFlags updates the outcome flags of the i-th unit.
func (b *Bundle) SetUnitFlags(i int, failedToParse, failedToProcess bool) error {
	if i < 0 || i >= len(b.units) {
		return fmt.Errorf("%w: %d", ErrUnitIndex, i)
	}
	b.units[i].FailedToParse = failedToParse
	b.units[i].FailedToProcess = failedToProcess
	return nil
}

// FileNames returns the unit file names in order.
func (b *Bundle) FileNames() []string {
	names := make([]string, 0, len(b.units))
	for _, u := range b.units {
		names = append(names, u.FileName)
	}
	return names
}

// AddUnit appends u without touching time or size tracking.
func (b *Bundle) AddUnit(u Unit) (int, error) {
	if len(b.units) >= MaxUnits {
		return len(b.units), newErrCapacity(len(b.units), 1)
	}
	b.units = append(b.units, u)
	return len(b.units), nil
}

// AddUnits appends all of units or none of them.
func (b *Bundle) AddUnits(units []Unit) (int, error) {
	if len(b.units)+len(units) > MaxUnits {
		return len(b.units), newErrCapacity(len(b.units), len(units))
	}
	b.units = append(b.units, units...)
	return len(b.units), nil
}

// AddFile appends a unit for fileName and folds its modification time
// (ms since epoch) and size into the bundle's tracking fields.
func (b *Bundle) AddFile(fileName string, modTime, size int64) (int, error) {
	n, err := b.AddUnit(NewUnit(fileName))
	if err != nil {
		return n, err
	}
	if modTime < b.OldestFileTime {
		b.OldestFileTime = modTime
	}
	if modTime > b.YoungestFileTime {
		b.YoungestFileTime = modTime
	}
	b.TotalFileSize += size
	return n, nil
}

// AddFileName appends a unit for fileName without time or size tracking.
func (b *Bundle) AddFileName(fileName string) (int, error) {
	return b.AddUnit(NewUnit(fileName))
}

// IncrementErrorCount bumps the retry history and returns the new count.
func (b *Bundle) IncrementErrorCount() int {
	b.ErrorCount++
	return b.ErrorCount
}

// Equal compares every field including unit order and flags.
func (b *Bundle) Equal(o *Bundle) bool {
	if b == nil || o == nil {
		return b == o
	}
	if b.ID != o.ID ||
		!equalStringPtr(b.OutputRoot, o.OutputRoot) ||
		!equalStringPtr(b.EatPrefix, o.EatPrefix) ||
		!equalStringPtr(b.CaseID, o.CaseID) ||
		!equalStringPtr(b.SentTo, o.SentTo) ||
		b.Priority != o.Priority ||
		b.SimpleMode != o.SimpleMode ||
		b.ErrorCount != o.ErrorCount ||
		b.OldestFileTime != o.OldestFileTime ||
		b.YoungestFileTime != o.YoungestFileTime ||
		b.TotalFileSize != o.TotalFileSize ||
		len(b.units) != len(o.units) {
		return false
	}
	for i := range b.units {
		if !b.units[i].equal(o.units[i]) {
			return false
		}
	}
	return true
}

func (b *Bundle) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Bundle[id=%s, pri=%d, files=[%s], eatPrefix=%s, outputRoot=%s, sentTo=%s, errorCount=%d",
		b.ID, b.Priority, strings.Join(b.FileNames(), ", "), Deref(b.EatPrefix), Deref(b.OutputRoot), Deref(b.SentTo), b.ErrorCount)
	fmt.Fprintf(&sb, ", totalFileSize=%d, oldestModTime=%d, youngModTime=%d, simple=%t, caseId=%s, size=%d]",
		b.TotalFileSize, b.OldestFileTime, b.YoungestFileTime, b.SimpleMode, Deref(b.CaseID), len(b.units))
	return sb.String()
}
