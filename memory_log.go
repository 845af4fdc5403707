package glee

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
)

// RaceKind classifies a detected data race.
type RaceKind int

const (
	RaceReadWrite RaceKind = iota + 1
	RaceWriteWrite
)

// String returns the name of the race kind.
func (k RaceKind) String() string {
	switch k {
	case RaceReadWrite:
		return "read/write"
	case RaceWriteWrite:
		return "write/write"
	default:
		return fmt.Sprintf("RaceKind<%d>", int(k))
	}
}

// Race describes a conflicting access to an object byte.
type Race struct {
	Kind   RaceKind
	Object *MemoryObject
	Offset Expr

	// Identities of the two conflicting threads. When Symbolic is set the
	// log only knows that some conflicting prior access may exist, and
	// OtherThreadID is zero.
	ThreadID      uint64
	OtherThreadID uint64
	GroupID       uint64
	Symbolic      bool
}

// String returns a human readable description of the race.
func (r *Race) String() string {
	var obj string
	if r.Object != nil {
		obj = r.Object.String()
	}
	if r.Symbolic {
		return fmt.Sprintf("%s race on %s offset %s by thread %d (symbolic)", r.Kind, obj, r.Offset, r.ThreadID)
	}
	return fmt.Sprintf("%s race on %s offset %s between threads %d and %d", r.Kind, obj, r.Offset, r.ThreadID, r.OtherThreadID)
}

// Access identifies the thread performing a memory access and collects the
// races detected by the access. A nil *Access disables race accounting.
type Access struct {
	Ctx      context.Context
	ThreadID uint64
	GroupID  uint64

	// MayBeTrue checks a race predicate under the accessing state's path
	// constraints. Only consulted for symbolic offsets.
	MayBeTrue func(ctx context.Context, cond Expr) (bool, error)

	Races []Race
	Err   error
}

// exempt returns true if the access does not take part in race accounting.
func (acc *Access) exempt() bool {
	return acc == nil || acc.ThreadID == 0
}

// record attaches the result of logging an access to mo.
func (acc *Access) record(mo *MemoryObject, race *Race, err error) {
	if acc == nil {
		return
	} else if err != nil {
		if acc.Err == nil {
			acc.Err = err
		}
		return
	} else if race == nil {
		return
	}
	race.Object, race.GroupID = mo, acc.GroupID
	acc.Races = append(acc.Races, *race)
}

func (acc *Access) context() context.Context {
	if acc.Ctx == nil {
		return context.Background()
	}
	return acc.Ctx
}

// MemoryLogEntry is the access history of a single byte.
type MemoryLogEntry struct {
	ThreadID      uint64
	GroupID       uint64
	Read          bool
	Write         bool
	ManyRead      bool
	GroupManyRead bool
}

// matches returns true if an access by (tid, gid) is ordered with the
// recorded access. An entry with thread id zero is owned by its group.
func (e *MemoryLogEntry) matches(tid, gid uint64) bool {
	return e.ThreadID == tid || (e.ThreadID == 0 && e.GroupID == gid)
}

// memoryLogUpdates holds the log in array form once the owning object
// has been accessed at a symbolic offset.
type memoryLogUpdates struct {
	threadID      UpdateList
	groupID       UpdateList
	read          UpdateList
	write         UpdateList
	manyRead      UpdateList
	groupManyRead UpdateList
}

var memoryLogIDSeq uint64

// MemoryLog records per-byte access history for an object and flags
// conflicting accesses from different threads.
type MemoryLog struct {
	size    uint
	entries []MemoryLogEntry
	updates *memoryLogUpdates
}

// NewMemoryLog returns a log for an object of size bytes.
func NewMemoryLog(size uint) MemoryLog {
	return MemoryLog{size: size}
}

// clone returns an independent copy of the log.
func (l *MemoryLog) clone() MemoryLog {
	other := MemoryLog{size: l.size}
	if l.entries != nil {
		other.entries = make([]MemoryLogEntry, len(l.entries))
		copy(other.entries, l.entries)
	}
	if l.updates != nil {
		u := *l.updates
		other.updates = &u
	}
	return other
}

// IsSymbolic returns true if the log is held in array form.
func (l *MemoryLog) IsSymbolic() bool {
	return l.updates != nil
}

// Entry returns the concrete entry for offset.
func (l *MemoryLog) Entry(offset uint) MemoryLogEntry {
	if offset < uint(len(l.entries)) {
		return l.entries[offset]
	}
	return MemoryLogEntry{}
}

func (l *MemoryLog) entry(offset uint) *MemoryLogEntry {
	if uint(len(l.entries)) < offset+1 {
		entries := make([]MemoryLogEntry, offset+1)
		copy(entries, l.entries)
		l.entries = entries
	}
	return &l.entries[offset]
}

// makeSymbolic converts the concrete entries into constant-rooted arrays.
func (l *MemoryLog) makeSymbolic() {
	if l.IsSymbolic() {
		return
	}

	n := int(l.size)
	threadID, groupID := make([]*ConstantExpr, n), make([]*ConstantExpr, n)
	read, write := make([]*ConstantExpr, n), make([]*ConstantExpr, n)
	manyRead, groupManyRead := make([]*ConstantExpr, n), make([]*ConstantExpr, n)
	for i := 0; i < n; i++ {
		e := l.Entry(uint(i))
		threadID[i] = NewConstantExpr(e.ThreadID, Width32)
		groupID[i] = NewConstantExpr(e.GroupID, Width32)
		read[i] = NewBoolConstantExpr(e.Read)
		write[i] = NewBoolConstantExpr(e.Write)
		manyRead[i] = NewBoolConstantExpr(e.ManyRead)
		groupManyRead[i] = NewBoolConstantExpr(e.GroupManyRead)
	}

	id := strconv.FormatUint(atomic.AddUint64(&memoryLogIDSeq, 1), 10)
	l.updates = &memoryLogUpdates{
		threadID:      NewUpdateList(NewConstantArray("threadId_"+id, Width32, threadID)),
		groupID:       NewUpdateList(NewConstantArray("wgid_"+id, Width32, groupID)),
		read:          NewUpdateList(NewConstantArray("read_"+id, WidthBool, read)),
		write:         NewUpdateList(NewConstantArray("write_"+id, WidthBool, write)),
		manyRead:      NewUpdateList(NewConstantArray("manyRead_"+id, WidthBool, manyRead)),
		groupManyRead: NewUpdateList(NewConstantArray("wgManyRead_"+id, WidthBool, groupManyRead)),
	}
	l.entries = nil
}

// LogRead records a read of a concrete offset. Returns a non-nil race if
// the byte was last written by an unordered thread.
func (l *MemoryLog) LogRead(offset uint, acc *Access) (*Race, error) {
	if acc.exempt() {
		return nil, nil
	} else if l.IsSymbolic() {
		return l.LogReadAt(NewConstantExpr(uint64(offset), Width32), acc)
	}

	tid, gid := acc.ThreadID, acc.GroupID
	entry := l.entry(offset)
	if entry.Write && !entry.matches(tid, gid) {
		return &Race{Kind: RaceReadWrite, Offset: NewConstantExpr(uint64(offset), Width32), ThreadID: tid, OtherThreadID: entry.ThreadID}, nil
	}

	if entry.Read {
		if entry.ThreadID != 0 && entry.ThreadID != tid {
			entry.ManyRead = true
		}
		if entry.GroupID != gid {
			entry.GroupManyRead = true
		}
	}
	entry.ThreadID, entry.GroupID, entry.Read = tid, gid, true
	return nil, nil
}

// LogWrite records a write of a concrete offset. Returns a non-nil race if
// the byte was previously read or written by an unordered thread.
func (l *MemoryLog) LogWrite(offset uint, acc *Access) (*Race, error) {
	if acc.exempt() {
		return nil, nil
	} else if l.IsSymbolic() {
		return l.LogWriteAt(NewConstantExpr(uint64(offset), Width32), acc)
	}

	tid, gid := acc.ThreadID, acc.GroupID
	entry := l.entry(offset)
	if entry.ManyRead || entry.GroupManyRead || ((entry.Read || entry.Write) && !entry.matches(tid, gid)) {
		kind := RaceWriteWrite
		if entry.Read {
			kind = RaceReadWrite
		}
		return &Race{Kind: kind, Offset: NewConstantExpr(uint64(offset), Width32), ThreadID: tid, OtherThreadID: entry.ThreadID}, nil
	}

	entry.ThreadID, entry.GroupID, entry.Write = tid, gid, true
	return nil, nil
}

// mismatch returns the predicate that the recorded access at offset is not
// ordered with an access by (tid, gid).
func (u *memoryLogUpdates) mismatch(offset Expr, tid, gid *ConstantExpr) Expr {
	oldThreadID := NewReadExpr(u.threadID, offset)
	oldGroupID := NewReadExpr(u.groupID, offset)
	return NewBinaryExpr(AND,
		NewBinaryExpr(NE, oldThreadID, tid),
		NewBinaryExpr(OR,
			NewBinaryExpr(NE, oldThreadID, NewConstantExpr(0, Width32)),
			NewBinaryExpr(NE, oldGroupID, gid),
		),
	)
}

// LogReadAt records a read of a possibly symbolic offset. The race check
// is delegated to the access oracle.
func (l *MemoryLog) LogReadAt(offset Expr, acc *Access) (*Race, error) {
	if acc.exempt() {
		return nil, nil
	}
	l.makeSymbolic()
	u := l.updates

	offset = NewCastExpr(offset, Width32, false)
	tid, gid := NewConstantExpr(acc.ThreadID, Width32), NewConstantExpr(acc.GroupID, Width32)

	oldWrite := NewReadExpr(u.write, offset)
	query := NewBinaryExpr(AND, oldWrite, u.mismatch(offset, tid, gid))
	if ok, err := l.mayBeTrue(query, acc); err != nil {
		return nil, err
	} else if ok {
		return &Race{Kind: RaceReadWrite, Offset: offset, ThreadID: acc.ThreadID, Symbolic: true}, nil
	}

	oldThreadID := NewReadExpr(u.threadID, offset)
	oldGroupID := NewReadExpr(u.groupID, offset)
	oldRead := NewReadExpr(u.read, offset)
	trueConst := NewBoolConstantExpr(true)

	otherThread := NewBinaryExpr(AND,
		NewBinaryExpr(NE, oldThreadID, NewConstantExpr(0, Width32)),
		NewBinaryExpr(NE, oldThreadID, tid),
	)
	newManyRead := NewIteExpr(NewBinaryExpr(AND, oldRead, otherThread), trueConst, NewReadExpr(u.manyRead, offset))
	newGroupManyRead := NewIteExpr(NewBinaryExpr(AND, oldRead, NewBinaryExpr(NE, oldGroupID, gid)), trueConst, NewReadExpr(u.groupManyRead, offset))

	u.manyRead = u.manyRead.Extend(offset, newManyRead)
	u.groupManyRead = u.groupManyRead.Extend(offset, newGroupManyRead)
	u.threadID = u.threadID.Extend(offset, tid)
	u.groupID = u.groupID.Extend(offset, gid)
	u.read = u.read.Extend(offset, trueConst)
	return nil, nil
}

// LogWriteAt records a write of a possibly symbolic offset.
func (l *MemoryLog) LogWriteAt(offset Expr, acc *Access) (*Race, error) {
	if acc.exempt() {
		return nil, nil
	}
	l.makeSymbolic()
	u := l.updates

	offset = NewCastExpr(offset, Width32, false)
	tid, gid := NewConstantExpr(acc.ThreadID, Width32), NewConstantExpr(acc.GroupID, Width32)

	query := NewBinaryExpr(OR,
		NewBinaryExpr(OR, NewReadExpr(u.manyRead, offset), NewReadExpr(u.groupManyRead, offset)),
		NewBinaryExpr(AND,
			NewBinaryExpr(OR, NewReadExpr(u.read, offset), NewReadExpr(u.write, offset)),
			u.mismatch(offset, tid, gid),
		),
	)
	if ok, err := l.mayBeTrue(query, acc); err != nil {
		return nil, err
	} else if ok {
		return &Race{Kind: RaceWriteWrite, Offset: offset, ThreadID: acc.ThreadID, Symbolic: true}, nil
	}

	u.threadID = u.threadID.Extend(offset, tid)
	u.groupID = u.groupID.Extend(offset, gid)
	u.write = u.write.Extend(offset, NewBoolConstantExpr(true))
	return nil, nil
}

func (l *MemoryLog) mayBeTrue(query Expr, acc *Access) (bool, error) {
	if c, ok := query.(*ConstantExpr); ok {
		return c.IsTrue(), nil
	} else if acc.MayBeTrue == nil {
		return false, nil
	}
	return acc.MayBeTrue(acc.context(), query)
}

// LocalReset releases thread ownership of every byte last accessed by the
// given group, as happens when the group passes a barrier.
func (l *MemoryLog) LocalReset(gid uint64) {
	if !l.IsSymbolic() {
		for i := range l.entries {
			if l.entries[i].GroupID == gid {
				l.entries[i].ThreadID = 0
				l.entries[i].ManyRead = false
			}
		}
		return
	}

	u := l.updates
	zero1, zero32 := NewBoolConstantExpr(false), NewConstantExpr(0, Width32)
	gidConst := NewConstantExpr(gid, Width32)
	for i := uint(0); i < l.size; i++ {
		offset := NewConstantExpr(uint64(i), Width32)
		match := NewBinaryExpr(EQ, NewReadExpr(u.groupID, offset), gidConst)
		u.threadID = u.threadID.Extend(offset, NewIteExpr(match, zero32, NewReadExpr(u.threadID, offset)))
		u.manyRead = u.manyRead.Extend(offset, NewIteExpr(match, zero1, NewReadExpr(u.manyRead, offset)))
	}
}

// GlobalReset discards the entire access history.
func (l *MemoryLog) GlobalReset() {
	l.entries = nil
	l.updates = nil
}
