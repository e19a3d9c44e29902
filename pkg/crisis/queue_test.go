package crisis

import (
	"reflect"
	"testing"
)

func actionsFor(t *testing.T, src string) []Statement {
	t.Helper()
	return mustCompile(t, src).Statements
}

func TestWorkQueueOrder(t *testing.T) {
	stmts := actionsFor(t, "move('up')\nscan()\nwait()")
	q := NewWorkQueue(stmts)

	first, _ := q.Pop()
	if first.String() != "move('up')" {
		t.Fatalf("expected move first, got %s", first)
	}

	q.PushFront(actionsFor(t, "collect()\nattack('left')")...)
	var got []string
	for {
		s, ok := q.Pop()
		if !ok {
			break
		}
		got = append(got, s.String())
	}
	want := []string{"collect()", "attack('left')", "scan()", "wait()"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if q.Len() != 0 {
		t.Error("queue should be empty")
	}
}

func TestWorkQueuePreview(t *testing.T) {
	q := NewWorkQueue(actionsFor(t, "wait()\nwait()\nscan()\nscan()\ncollect()\nmove('up')\nmove('down')"))
	preview := q.Preview()
	want := []string{"wait()", "wait()", "scan()", "scan()", "collect()", "... +2 more"}
	if !reflect.DeepEqual(preview, want) {
		t.Errorf("got %v, want %v", preview, want)
	}

	q.Clear()
	if len(q.Preview()) != 0 {
		t.Error("preview of an empty queue should be empty")
	}
}
