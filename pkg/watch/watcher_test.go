package watch

import (
	"testing"
	"time"

	"github.com/vango-dev/treesync/pkg/markup"
)

type event struct {
	snapshot *markup.Node
	script   markup.Script
}

func newRecorder(opts ...Option) (*Watcher, chan event) {
	events := make(chan event, 64)
	w := New(
		func(s markup.Script) { events <- event{script: s} },
		func(n *markup.Node) { events <- event{snapshot: n} },
		opts...,
	)
	return w, events
}

func next(t *testing.T, events chan event) event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watcher emission")
		return event{}
	}
}

func expectQuiet(t *testing.T, events chan event, d time.Duration) {
	t.Helper()
	select {
	case ev := <-events:
		t.Fatalf("unexpected emission: %+v", ev)
	case <-time.After(d):
	}
}

func TestSetTargetEmitsSnapshot(t *testing.T) {
	doc := markup.NewDocument(markup.MustParse(`<div>a</div>`))
	w, events := newRecorder()
	defer w.Dispose()

	w.SetTarget(doc)
	ev := next(t, events)
	if ev.snapshot == nil {
		t.Fatal("Expected a snapshot")
	}
	if markup.OuterHTML(ev.snapshot) != `<div>a</div>` {
		t.Errorf("snapshot = %q", markup.OuterHTML(ev.snapshot))
	}
	if ev.snapshot == doc.Root() {
		t.Error("Expected the snapshot to be a copy")
	}
}

func TestMutationsAreBatched(t *testing.T) {
	doc := markup.NewDocument(markup.MustParse(`<div>a</div>`))
	w, events := newRecorder(WithDebounce(20 * time.Millisecond))
	defer w.Dispose()

	w.SetTarget(doc)
	replica := next(t, events).snapshot

	_ = doc.Update(func(root *markup.Node) error {
		div := root.Children()[0]
		_ = div.SetAttribute("x", "1")
		_ = div.Children()[0].SetValue("b")
		return div.AppendChild(markup.NewComment("c"))
	})

	ev := next(t, events)
	if ev.script == nil {
		t.Fatal("Expected a diff batch")
	}
	if len(ev.script) != 3 {
		t.Errorf("Expected 3 actions in one batch, got %d: %v", len(ev.script), ev.script)
	}
	got, err := markup.Apply(replica, ev.script)
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	if markup.OuterHTML(got) != markup.OuterHTML(doc.Root()) {
		t.Errorf("replica %q, live %q", markup.OuterHTML(got), markup.OuterHTML(doc.Root()))
	}
	expectQuiet(t, events, 60*time.Millisecond)
}

func TestFlushEmitsImmediately(t *testing.T) {
	doc := markup.NewDocument(markup.MustParse(`<p></p>`))
	w, events := newRecorder(WithDebounce(time.Hour), WithMaxDelay(0))
	defer w.Dispose()

	w.SetTarget(doc)
	next(t, events)

	_ = doc.Update(func(root *markup.Node) error {
		return root.Children()[0].SetAttribute("a", "b")
	})
	w.Flush()
	ev := next(t, events)
	if len(ev.script) != 1 || ev.script[0].Op != markup.OpSetAttribute {
		t.Errorf("unexpected script %v", ev.script)
	}
}

func TestNoOpMutationEmitsNothing(t *testing.T) {
	doc := markup.NewDocument(markup.MustParse(`<p>x</p>`))
	w, events := newRecorder(WithDebounce(5 * time.Millisecond))
	defer w.Dispose()

	w.SetTarget(doc)
	next(t, events)

	_ = doc.Update(func(root *markup.Node) error {
		p := root.Children()[0]
		_ = p.SetAttribute("a", "1")
		p.RemoveAttribute("a")
		return nil
	})
	expectQuiet(t, events, 50*time.Millisecond)
}

func TestReplaceEmitsSnapshot(t *testing.T) {
	doc := markup.NewDocument(markup.MustParse(`<a></a>`))
	w, events := newRecorder(WithDebounce(5 * time.Millisecond))
	defer w.Dispose()

	w.SetTarget(doc)
	next(t, events)

	doc.Replace(markup.MustParse(`<b></b>`))
	ev := next(t, events)
	if ev.snapshot == nil || markup.OuterHTML(ev.snapshot) != `<b></b>` {
		t.Fatalf("Expected snapshot of the new root, got %+v", ev)
	}
}

func TestUnloadedDocumentSnapshotsOnLoad(t *testing.T) {
	doc := markup.NewDocument(nil)
	w, events := newRecorder(WithDebounce(5 * time.Millisecond))
	defer w.Dispose()

	w.SetTarget(doc)
	expectQuiet(t, events, 20*time.Millisecond)

	doc.Replace(markup.MustParse(`<loaded></loaded>`))
	ev := next(t, events)
	if ev.snapshot == nil {
		t.Fatal("Expected a snapshot once the document has a root")
	}
}

func TestSetTargetSwitchesDocuments(t *testing.T) {
	first := markup.NewDocument(markup.MustParse(`<a></a>`))
	second := markup.NewDocument(markup.MustParse(`<b></b>`))
	w, events := newRecorder(WithDebounce(5 * time.Millisecond))
	defer w.Dispose()

	w.SetTarget(first)
	next(t, events)
	w.SetTarget(second)
	if ev := next(t, events); ev.snapshot == nil || markup.OuterHTML(ev.snapshot) != `<b></b>` {
		t.Fatalf("Expected snapshot of second document, got %+v", ev)
	}

	_ = first.Update(func(root *markup.Node) error {
		return root.Children()[0].SetAttribute("x", "y")
	})
	expectQuiet(t, events, 30*time.Millisecond)
}

func TestDisposeStopsEmission(t *testing.T) {
	doc := markup.NewDocument(markup.MustParse(`<div></div>`))
	w, events := newRecorder(WithDebounce(5 * time.Millisecond))

	w.SetTarget(doc)
	next(t, events)
	w.Dispose()
	w.Dispose()

	_ = doc.Update(func(root *markup.Node) error {
		return root.Children()[0].SetAttribute("a", "b")
	})
	w.Flush()
	expectQuiet(t, events, 30*time.Millisecond)
	if w.Target() != nil {
		t.Error("Expected no target after Dispose")
	}
}

func TestReplicaFollowsManyBatches(t *testing.T) {
	doc := markup.NewDocument(markup.MustParse(`<ul></ul>`))
	w, events := newRecorder(WithDebounce(time.Hour), WithMaxDelay(0))
	defer w.Dispose()

	w.SetTarget(doc)
	replica := next(t, events).snapshot

	for i := 0; i < 20; i++ {
		_ = doc.Update(func(root *markup.Node) error {
			ul := root.Children()[0]
			kids := ul.Children()
			switch {
			case i%3 == 2 && len(kids) > 1:
				return ul.InsertChildAt(kids[len(kids)-1], 0)
			case i%5 == 4 && len(kids) > 0:
				ul.RemoveChild(kids[0])
				return nil
			default:
				return ul.AppendChild(markup.NewElement("li", nil, markup.NewText("item")))
			}
		})
		w.Flush()
		ev := next(t, events)
		var err error
		replica, err = markup.Apply(replica, ev.script)
		if err != nil {
			t.Fatalf("batch %d: Apply error: %v", i, err)
		}
	}

	live := doc.Snapshot()
	if markup.OuterHTML(replica) != markup.OuterHTML(live) {
		t.Fatalf("replica %q, live %q", markup.OuterHTML(replica), markup.OuterHTML(live))
	}
	liveKids := live.Children()[0].Children()
	for i, c := range replica.Children()[0].Children() {
		if c.ID() != liveKids[i].ID() {
			t.Errorf("child %d identity differs", i)
		}
	}
}

func TestDuplicatedSubtreeReachesReplica(t *testing.T) {
	doc := markup.NewDocument(markup.MustParse(`<ul><li class="item">one</li></ul>`))
	w, events := newRecorder()
	defer w.Dispose()

	w.SetTarget(doc)
	replica := next(t, events).snapshot

	_ = doc.Update(func(root *markup.Node) error {
		ul := root.Children()[0]
		li := ul.Children()[0].Clone()
		_ = li.Children()[0].SetValue("two")
		return ul.AppendChild(li)
	})
	w.Flush()

	ev := next(t, events)
	got, err := markup.Apply(replica, ev.script)
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	want := `<ul><li class="item">one</li><li class="item">two</li></ul>`
	if markup.OuterHTML(got) != want {
		t.Errorf("replica = %q, want %q", markup.OuterHTML(got), want)
	}
}
