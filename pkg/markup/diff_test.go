package markup

import (
	"encoding/json"
	"math/rand"
	"testing"
)

// replay applies Diff(old, next) to a snapshot of old and checks convergence.
func replay(t *testing.T, old, next *Node) (*Node, Script) {
	t.Helper()
	script := Diff(old, next)
	got, err := Apply(old.Snapshot(), script)
	if err != nil {
		t.Fatalf("Apply error: %v\nscript: %v", err, script)
	}
	if !Equivalent(got, next) {
		t.Fatalf("replay did not converge\nold:  %s\nnew:  %s\ngot:  %s\nscript: %v",
			OuterHTML(old), OuterHTML(next), OuterHTML(got), script)
	}
	return got, script
}

func TestDiffSetAttribute(t *testing.T) {
	old := mustParseElement(t, `<div id="a" />`)
	next := mustParseElement(t, `<div id="b"></div>`)

	got, script := replay(t, old, next)
	if len(script) != 1 {
		t.Fatalf("Expected 1 action, got %d: %v", len(script), script)
	}
	a := script[0]
	if a.Op != OpSetAttribute || a.Target != old.ID() || a.Name != "id" || a.Value != "b" {
		t.Errorf("unexpected action %v", a)
	}
	if OuterHTML(got) != `<div id="b"></div>` {
		t.Errorf("OuterHTML = %q", OuterHTML(got))
	}
}

func TestDiffInsertText(t *testing.T) {
	old := mustParseElement(t, `<div />`)
	next := mustParseElement(t, `<div>a</div>`)

	got, script := replay(t, old, next)
	if len(script) != 1 || script[0].Op != OpInsertChild {
		t.Fatalf("Expected one insertChild, got %v", script)
	}
	if script[0].Node.Kind != KindText || *script[0].Node.Value != "a" {
		t.Errorf("Expected text node a, got %+v", script[0].Node)
	}
	if InnerHTML(got) != "a" {
		t.Errorf("InnerHTML = %q", InnerHTML(got))
	}
}

func TestDiffReorderKeepsIdentity(t *testing.T) {
	old := mustParseElement(t, `<div>a<!--b--><c /></div>`)
	next := mustParseElement(t, `<div><!--b--><c />a</div>`)
	text, comment, c := old.Children()[0], old.Children()[1], old.Children()[2]

	got, script := replay(t, old, next)
	if len(script) != 1 {
		t.Fatalf("Expected a single move, got %v", script)
	}
	a := script[0]
	if a.Op != OpMoveChild || a.Child != text.ID() || a.Index != 2 {
		t.Errorf("unexpected action %v", a)
	}
	kids := got.Children()
	if kids[0].ID() != comment.ID() || kids[1].ID() != c.ID() || kids[2].ID() != text.ID() {
		t.Error("Expected identities to be preserved")
	}
	if InnerHTML(got) != InnerHTML(next) {
		t.Errorf("InnerHTML = %q, want %q", InnerHTML(got), InnerHTML(next))
	}
}

func TestDiffSetValue(t *testing.T) {
	old := mustParseElement(t, `<div>a</div>`)
	next := mustParseElement(t, `<div>b</div>`)

	_, script := replay(t, old, next)
	if len(script) != 1 || script[0].Op != OpSetValue || script[0].Target != old.Children()[0].ID() {
		t.Fatalf("Expected setValue on the text node, got %v", script)
	}
}

func TestDiffCorpus(t *testing.T) {
	cases := [][2]string{
		{`<div id="a" />`, `<div id="b"></div>`},
		{`<div id="a" />`, `<div></div>`},
		{`<div />`, `<div id="b"></div>`},
		{`<div id="a" class="b" />`, `<div class="c" id="a"></div>`},
		{`<div>a</div>`, `<div>b</div>`},
		{`<div>a</div>`, `<div><!--b--></div>`},
		{`<div>a<!--b--><c /></div>`, `<div><!--b--><c />a</div>`},
		{`<g a="gca" a="geab"></g>`, `<g g="b" f="d"></g>`},
		{`<g b="ed" g="ad"></g>`, `<g c="fad" g="fdbe" b="bdf"></g>`},
		{`<div><span>only</span></div>`, `<div></div>`},
		{`<ul><li id="1">1</li><li id="2">2</li><li id="3">3</li></ul>`, `<ul><li id="3">3</li><li id="1">1</li></ul>`},
		{`<div><a></a><b></b><c></c><d></d></div>`, `<div><d></d><c></c><b></b><a></a></div>`},
		{`<div><p>x</p></div>`, `<div><span>x</span></div>`},
		{`<div><input disabled></div>`, `<div><input value=""></div>`},
	}
	for _, tc := range cases {
		t.Run(tc[0]+" -> "+tc[1], func(t *testing.T) {
			old := MustParse("<div>" + tc[0] + "</div>")
			next := MustParse("<div>" + tc[1] + "</div>")
			replay(t, old, next)
		})
	}
}

func TestDiffEmptyOldInsertsEverything(t *testing.T) {
	old := MustParse(``)
	next := MustParse(`<a>1</a><b></b><!--c-->`)

	_, script := replay(t, old, next)
	for _, a := range script {
		if a.Op != OpInsertChild {
			t.Errorf("Expected only inserts, got %v", a)
		}
	}
	if len(script) != 3 {
		t.Errorf("Expected 3 inserts, got %d", len(script))
	}
}

func TestDiffRemoveSoleChild(t *testing.T) {
	old := mustParseElement(t, `<div><span></span></div>`)
	next := mustParseElement(t, `<div></div>`)

	got, script := replay(t, old, next)
	if len(script) != 1 || script[0].Op != OpRemoveChild {
		t.Fatalf("Expected one removeChild, got %v", script)
	}
	if len(got.Children()) != 0 {
		t.Error("Expected no children")
	}
}

func TestDiffIncompatibleRoot(t *testing.T) {
	root := MustParse(`<div><p>x</p></div>`)
	old := root.Children()[0]
	next := mustParseElement(t, `<section>y</section>`)

	script := Diff(old, next)
	if len(script) != 1 || script[0].Op != OpReplaceChild || script[0].Target != root.ID() {
		t.Fatalf("Expected replaceChild on the parent, got %v", script)
	}

	detached := old.Snapshot()
	got, err := Apply(detached, Diff(detached, next))
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	if OuterHTML(got) != `<section>y</section>` {
		t.Errorf("Expected replaced root, got %q", OuterHTML(got))
	}
}

func TestDiffIdenticalIsEmpty(t *testing.T) {
	old := MustParse(`<div a="1">x<!--y--><b>z</b></div>`)
	if script := Diff(old, old.Snapshot()); len(script) != 0 {
		t.Errorf("Expected empty script, got %v", script)
	}
	if script := Diff(old, MustParse(`<div a="1">x<!--y--><b>z</b></div>`)); len(script) != 0 {
		t.Errorf("Expected empty script for an equal parse, got %v", script)
	}
}

func TestDiffDoesNotMutateInputs(t *testing.T) {
	old := MustParse(`<div a="1">x<b>y</b></div>`)
	next := MustParse(`<div b="2"><b>z</b>w</div>`)
	oldHTML, nextHTML := OuterHTML(old), OuterHTML(next)

	Diff(old, next)
	if OuterHTML(old) != oldHTML || OuterHTML(next) != nextHTML {
		t.Error("Diff modified its inputs")
	}
}

func TestDiffRandomConvergence(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 300; i++ {
		old := MustParse(randomSource(r, 4, 3))
		next := MustParse(randomSource(r, 4, 3))
		replay(t, old, next)
	}
}

func TestDiffScriptSurvivesJSON(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	for i := 0; i < 50; i++ {
		old := MustParse(randomSource(r, 3, 3))
		next := MustParse(randomSource(r, 3, 3))

		data, err := json.Marshal(Diff(old, next))
		if err != nil {
			t.Fatalf("Marshal error: %v", err)
		}
		var script Script
		if err := json.Unmarshal(data, &script); err != nil {
			t.Fatalf("Unmarshal error: %v", err)
		}
		got, err := Apply(old.Snapshot(), script)
		if err != nil {
			t.Fatalf("Apply error: %v", err)
		}
		if !Equivalent(got, next) {
			t.Fatalf("no convergence after JSON: %s vs %s", OuterHTML(got), OuterHTML(next))
		}
	}
}

// TestDiffLiveEdits diffs a snapshot against the live tree it was taken
// from, the way the change watcher does, and expects the replica to end up
// with the live tree's identifiers.
func TestDiffLiveEdits(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	for i := 0; i < 200; i++ {
		live := MustParse(randomSource(r, 4, 3))
		snapshot := live.Snapshot()
		replica := live.Snapshot()

		mutateRandomly(r, live, 1+r.Intn(6))

		got, err := Apply(replica, Diff(snapshot, live, ByIdentity()))
		if err != nil {
			t.Fatalf("Apply error: %v", err)
		}
		sameTree(t, live, got)
	}
}

// mutateRandomly performs edits that keep identifiers: attribute changes,
// value changes, removals, inserts, and moves within and across parents.
func mutateRandomly(r *rand.Rand, root *Node, edits int) {
	for ; edits > 0; edits-- {
		var containers, nodes []*Node
		Walk(root, func(n *Node) bool {
			if n != root {
				nodes = append(nodes, n)
			}
			if n.kind.IsContainer() {
				containers = append(containers, n)
			}
			return true
		})
		target := containers[r.Intn(len(containers))]

		switch r.Intn(6) {
		case 0:
			if target.kind == KindElement {
				_ = target.SetAttribute(string(alphabet[r.Intn(len(alphabet))]), randomWord(r, 3))
			}
		case 1:
			if target.kind == KindElement && len(target.attributes) > 0 {
				target.RemoveAttribute(target.attributes[r.Intn(len(target.attributes))].name)
			}
		case 2:
			if len(nodes) > 0 {
				n := nodes[r.Intn(len(nodes))]
				if n.kind.HasValue() {
					_ = n.SetValue(randomWord(r, 4))
				} else {
					n.parent.RemoveChild(n)
				}
			}
		case 3:
			_ = target.InsertChildAt(NewElement("f", []*Node{NewAttribute("x", "y")}, NewText("new")), r.Intn(len(target.children)+1))
		case 4:
			_ = target.AppendChild(NewComment(randomWord(r, 3)))
		default:
			if len(nodes) > 0 {
				n := nodes[r.Intn(len(nodes))]
				if !n.Contains(target) {
					_ = target.InsertChildAt(n, r.Intn(len(target.children)+1))
				}
			}
		}
	}
}

func TestDiffByIdentityDoesNotReuseNodes(t *testing.T) {
	live := MustParse(`<div><!--a--></div>`)
	snapshot := live.Snapshot()
	div := live.Children()[0]
	div.RemoveChild(div.Children()[0])
	_ = div.AppendChild(NewComment("b"))

	loose := Diff(snapshot, live)
	if len(loose) != 1 || loose[0].Op != OpSetValue {
		t.Errorf("Expected the heuristic to reuse the comment, got %v", loose)
	}
	strict := Diff(snapshot, live, ByIdentity())
	if len(strict) != 2 || strict[0].Op != OpRemoveChild || strict[1].Op != OpInsertChild {
		t.Errorf("Expected remove and insert, got %v", strict)
	}
}

func TestLongestIncreasing(t *testing.T) {
	keep := longestIncreasing([]int{1, 2, 0})
	if !keep[0] || !keep[1] || keep[2] {
		t.Errorf("unexpected subsequence %v", keep)
	}
	keep = longestIncreasing([]int{3, 2, 1, 0})
	count := 0
	for _, k := range keep {
		if k {
			count++
		}
	}
	if count != 1 {
		t.Errorf("Expected a single kept element, got %v", keep)
	}
}

func TestDiffLiveEditWithClonedSubtree(t *testing.T) {
	live := MustParse(`<div><p class="x">x</p></div>`)
	snapshot := live.Snapshot()
	replica := live.Snapshot()

	div := live.Children()[0]
	dup := div.Children()[0].Clone()
	if err := dup.Children()[0].SetValue("y"); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	if err := div.AppendChild(dup); err != nil {
		t.Fatalf("AppendChild: %v", err)
	}

	script := Diff(snapshot, live, ByIdentity())
	got, err := Apply(replica, script)
	if err != nil {
		t.Fatalf("Apply error: %v\nscript: %v", err, script)
	}
	if !Equivalent(got, live) {
		t.Fatalf("Expected %s, got %s", OuterHTML(live), OuterHTML(got))
	}
	sameTree(t, live, got)
}
