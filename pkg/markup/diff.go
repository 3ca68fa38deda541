package markup

import "sort"

// Diff computes an edit script that turns old into next. Neither tree is
// modified.
//
// Children are paired in three passes: by identifier, by element key (the
// "key" or "id" attribute), then greedily by kind and tag name. Unpaired
// old children are removed, unpaired new children are inserted, and paired
// children are moved when they fall outside the longest run that is
// already in order. Paired nodes are diffed recursively.
//
// With ByIdentity only the first pass runs. Use it when both trees descend
// from the same document, such as a snapshot and the live tree it was
// snapshotted from, so that the replayed tree keeps the new tree's identifiers.
//
// All removals are placed at the front of the script so that a subtree
// moved between parents is gone from its old place before it is inserted
// in the new one. The script is correct but not guaranteed minimal.
func Diff(old, next *Node, opts ...DiffOption) Script {
	if old == nil || next == nil {
		return nil
	}
	d := &differ{}
	for _, opt := range opts {
		opt(d)
	}
	if !compatible(old, next) || (d.identityOnly && old.id != next.id) {
		parent := ""
		if old.parent != nil {
			parent = old.parent.id
		}
		return Script{ReplaceChildAction(parent, next, old.id)}
	}

	d.oldIDs = IndexByID(old)
	d.newIDs = IndexByID(next)
	d.diffNode(old, next)

	if len(d.removals) == 0 {
		return d.script
	}
	script := make(Script, 0, len(d.removals)+len(d.script))
	script = append(script, d.removals...)
	return append(script, d.script...)
}

// DiffOption configures Diff.
type DiffOption func(*differ)

// ByIdentity pairs nodes by identifier only.
func ByIdentity() DiffOption {
	return func(d *differ) {
		d.identityOnly = true
	}
}

type differ struct {
	identityOnly bool
	oldIDs       map[string]*Node
	newIDs       map[string]*Node
	removals     Script
	script       Script
}

func (d *differ) emit(a Action) {
	d.script = append(d.script, a)
}

// compatible reports whether old can be updated in place to become next.
func compatible(old, next *Node) bool {
	if old.kind != next.kind {
		return false
	}
	return old.kind != KindElement || old.name == next.name
}

// reusable reports whether an old node may be paired by heuristic. Nodes
// whose identifier survives elsewhere in the new tree are left for that
// place.
func (d *differ) reusable(old *Node) bool {
	_, ok := d.newIDs[old.id]
	return !ok
}

// fresh reports whether a new node may be paired by heuristic.
func (d *differ) fresh(next *Node) bool {
	_, ok := d.oldIDs[next.id]
	return !ok
}

func (d *differ) diffNode(old, next *Node) {
	switch old.kind {
	case KindText, KindComment:
		if old.value != next.value {
			d.emit(SetValueAction(old.id, next.value))
		}
	case KindElement:
		d.diffAttributes(old, next)
		d.diffChildren(old, next)
	case KindFragment:
		if old.value != next.value {
			d.emit(SetValueAction(old.id, next.value))
		}
		d.diffChildren(old, next)
	}
}

func (d *differ) diffAttributes(old, next *Node) {
	for _, na := range next.attributes {
		oa := old.Attribute(na.name)
		if oa != nil && oa.value == na.value && oa.boolean == na.boolean {
			continue
		}
		d.emit(Action{
			Op:      OpSetAttribute,
			Target:  old.id,
			Name:    na.name,
			Value:   na.value,
			Boolean: na.boolean,
		})
	}
	for _, oa := range old.attributes {
		if next.Attribute(oa.name) == nil {
			d.emit(RemoveAttributeAction(old.id, oa.name))
		}
	}
}

func (d *differ) diffChildren(old, next *Node) {
	oldKids := old.children
	newKids := next.children
	if len(oldKids) == 0 && len(newKids) == 0 {
		return
	}

	matched := d.match(oldKids, newKids)
	used := make(map[*Node]bool, len(oldKids))
	for _, m := range matched {
		if m != nil {
			used[m] = true
		}
	}

	// Removals go first; sim tracks the child list as replay will see it.
	sim := make([]*Node, 0, len(newKids))
	oldIndex := make(map[*Node]int, len(oldKids))
	for i, oc := range oldKids {
		oldIndex[oc] = i
		if used[oc] {
			sim = append(sim, oc)
		} else {
			d.removals = append(d.removals, RemoveChildAction(old.id, oc.id))
		}
	}

	stay := d.stable(matched, oldIndex)
	slot := func(i int) *Node {
		if matched[i] != nil {
			return matched[i]
		}
		return newKids[i]
	}

	for i, nk := range newKids {
		m := matched[i]
		if m != nil && stay[i] {
			continue
		}
		target := 0
		if i > 0 {
			target = indexOf(sim, slot(i-1)) + 1
		}
		if m == nil {
			sim = insertNode(sim, target, nk)
			d.emit(InsertChildAction(old.id, nk, target))
			continue
		}
		cur := indexOf(sim, m)
		if cur == target {
			continue
		}
		sim = append(sim[:cur], sim[cur+1:]...)
		if cur < target {
			target--
		}
		sim = insertNode(sim, target, m)
		d.emit(MoveChildAction(old.id, m.id, target))
	}

	for i, m := range matched {
		if m != nil {
			d.diffNode(m, newKids[i])
		}
	}
}

// match pairs each new child with an old child, or nil.
func (d *differ) match(oldKids, newKids []*Node) []*Node {
	matched := make([]*Node, len(newKids))
	if len(oldKids) == 0 {
		return matched
	}
	used := make(map[*Node]bool, len(oldKids))

	byID := make(map[string]*Node, len(oldKids))
	for _, oc := range oldKids {
		byID[oc.id] = oc
	}
	for i, nk := range newKids {
		if oc, ok := byID[nk.id]; ok && !used[oc] && compatible(oc, nk) {
			matched[i] = oc
			used[oc] = true
		}
	}
	if d.identityOnly {
		return matched
	}

	keyed := make(map[string]*Node)
	for _, oc := range oldKids {
		if used[oc] || !d.reusable(oc) {
			continue
		}
		if k := elementKey(oc); k != "" {
			if _, dup := keyed[k]; !dup {
				keyed[k] = oc
			}
		}
	}
	for i, nk := range newKids {
		if matched[i] != nil || !d.fresh(nk) {
			continue
		}
		k := elementKey(nk)
		if k == "" {
			continue
		}
		if oc, ok := keyed[k]; ok && !used[oc] {
			matched[i] = oc
			used[oc] = true
		}
	}

	// Remaining candidates queued per shape, in document order.
	queues := make(map[string][]*Node)
	for _, oc := range oldKids {
		if !used[oc] && d.reusable(oc) {
			s := shape(oc)
			queues[s] = append(queues[s], oc)
		}
	}
	for i, nk := range newKids {
		if matched[i] != nil || !d.fresh(nk) {
			continue
		}
		s := shape(nk)
		q := queues[s]
		for len(q) > 0 && used[q[0]] {
			q = q[1:]
		}
		if len(q) == 0 {
			queues[s] = q
			continue
		}
		matched[i] = q[0]
		used[q[0]] = true
		queues[s] = q[1:]
	}
	return matched
}

// stable marks the paired children that keep their place: those whose old
// indices form the longest increasing subsequence in new order.
func (d *differ) stable(matched []*Node, oldIndex map[*Node]int) []bool {
	stay := make([]bool, len(matched))
	var seq, pos []int
	for i, m := range matched {
		if m != nil {
			seq = append(seq, oldIndex[m])
			pos = append(pos, i)
		}
	}
	for k, keep := range longestIncreasing(seq) {
		if keep {
			stay[pos[k]] = true
		}
	}
	return stay
}

// longestIncreasing marks the members of one longest strictly increasing
// subsequence of seq.
func longestIncreasing(seq []int) []bool {
	keep := make([]bool, len(seq))
	if len(seq) == 0 {
		return keep
	}
	tails := make([]int, 0, len(seq))
	prev := make([]int, len(seq))
	for i, v := range seq {
		j := sort.Search(len(tails), func(k int) bool { return seq[tails[k]] >= v })
		prev[i] = -1
		if j > 0 {
			prev[i] = tails[j-1]
		}
		if j == len(tails) {
			tails = append(tails, i)
		} else {
			tails[j] = i
		}
	}
	for i := tails[len(tails)-1]; i >= 0; i = prev[i] {
		keep[i] = true
	}
	return keep
}

func shape(n *Node) string {
	if n.kind == KindElement {
		return "e:" + n.name
	}
	return n.kind.String()
}

func elementKey(n *Node) string {
	if n.kind != KindElement {
		return ""
	}
	if k, ok := n.GetAttribute("key"); ok && k != "" {
		return n.name + "\x00key\x00" + k
	}
	if k, ok := n.GetAttribute("id"); ok && k != "" {
		return n.name + "\x00id\x00" + k
	}
	return ""
}

func insertNode(list []*Node, index int, n *Node) []*Node {
	if index > len(list) {
		index = len(list)
	}
	list = append(list, nil)
	copy(list[index+1:], list[index:])
	list[index] = n
	return list
}
