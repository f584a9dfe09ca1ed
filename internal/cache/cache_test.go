package cache

import (
	"testing"
	"time"
)

type point struct {
	ts  time.Time
	val int
}

func ts(p point) time.Time { return p.ts }

func mkPoint(seconds int64, val int) point {
	return point{ts: time.Unix(seconds, 0), val: val}
}

func TestEntryAppendAndGet(t *testing.T) {
	e := NewEntry[point](0, 0, ts)
	e.Append([]point{mkPoint(1, 10), mkPoint(2, 20), mkPoint(3, 30)})

	if got := e.Length(); got != 3 {
		t.Fatalf("Length() = %d, want 3", got)
	}

	got := e.Get(2, 2)
	if len(got) != 2 || got[0].val != 20 || got[1].val != 30 {
		t.Fatalf("Get(2, 2) = %+v, want [20 30]", got)
	}
}

func TestEntryUpdateReplacesTailOnSameTimestamp(t *testing.T) {
	e := NewEntry[point](0, 0, ts)
	e.Update(mkPoint(1, 10))
	e.Update(mkPoint(1, 15)) // same timestamp, replaces
	e.Update(mkPoint(2, 20)) // new timestamp, appends

	if got := e.Length(); got != 2 {
		t.Fatalf("Length() = %d, want 2", got)
	}
	all := e.GetAll()
	if all[0].val != 15 {
		t.Fatalf("all[0].val = %d, want 15 (tail replace)", all[0].val)
	}
	if all[1].val != 20 {
		t.Fatalf("all[1].val = %d, want 20", all[1].val)
	}
}

func TestEntryRingBufferEviction(t *testing.T) {
	e := NewEntry[point](3, 0, ts)
	for i := int64(1); i <= 5; i++ {
		e.Update(mkPoint(i, int(i)))
	}
	if got := e.Length(); got != 3 {
		t.Fatalf("Length() = %d, want 3 after overflow", got)
	}
	all := e.GetAll()
	if all[0].val != 3 || all[2].val != 5 {
		t.Fatalf("GetAll() = %+v, want values [3 4 5]", all)
	}
}

func TestEntryGetByDatetime(t *testing.T) {
	e := NewEntry[point](0, 0, ts)
	e.Append([]point{mkPoint(1, 10), mkPoint(2, 20), mkPoint(3, 30)})

	got := e.GetByDatetime(time.Unix(2, 0), 2)
	if len(got) != 2 || got[1].val != 20 {
		t.Fatalf("GetByDatetime = %+v, want last element val 20", got)
	}

	if got := e.GetByDatetime(time.Unix(99, 0), 1); got != nil {
		t.Fatalf("GetByDatetime for missing timestamp = %+v, want nil", got)
	}
}

func TestStoreGetOrCreateAndMinLength(t *testing.T) {
	s := NewStore[point](ts)
	a := s.GetOrCreate("a", 0, 0)
	a.Append([]point{mkPoint(1, 1), mkPoint(2, 2), mkPoint(3, 3)})
	b := s.GetOrCreate("b", 0, 0)
	b.Append([]point{mkPoint(1, 1)})

	if got := s.MinLength([]string{"a", "b"}); got != 1 {
		t.Fatalf("MinLength = %d, want 1", got)
	}
	if got := s.MinLength([]string{"a", "missing"}); got != 0 {
		t.Fatalf("MinLength with a missing key = %d, want 0", got)
	}

	if s.Get("a") == nil {
		t.Fatal("Get(\"a\") = nil after GetOrCreate")
	}
	if s.Get("missing") != nil {
		t.Fatal("Get(\"missing\") != nil, want nil for unregistered key")
	}
}
