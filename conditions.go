package connectsdk

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prusa3d/connect-sdk-go/internal/constants"
	"github.com/prusa3d/connect-sdk-go/internal/ratewindow"
)

// ConditionNode is one named status flag in a ConditionTree (spec
// §4.6), e.g. "INTERNET", "INTERNET.HTTP", "INTERNET.HTTP.TOKEN".
// Grounded on the teacher's DeviceInfo/Error.Code idiom of a small,
// named status enum with parent/child propagation, generalized here
// from a flat device-state enum to an actual tree.
type ConditionNode struct {
	Name       string
	ok         bool
	reason     string
	lastChange time.Time
	parent     *ConditionNode
	children   map[string]*ConditionNode
}

// OK returns the node's own flag, ignoring ancestors.
func (n *ConditionNode) OK() bool { return n.ok }

// Reason returns the reason last passed to Set, or "" if OK.
func (n *ConditionNode) Reason() string { return n.reason }

// EffectiveOK reports whether the node and every one of its ancestors
// are OK (spec §4.6: "a node cannot be OK while any ancestor is not").
func (n *ConditionNode) EffectiveOK() bool {
	if !n.ok {
		return false
	}
	if n.parent != nil {
		return n.parent.EffectiveOK()
	}
	return true
}

// ConditionTree is a static tree of named conditions declared at
// startup (spec §4.6): Printer-level connectivity/registration health
// rendered to the service as a hierarchy, e.g.
// INTERNET > HTTP > TOKEN > API.
type ConditionTree struct {
	mu       sync.Mutex
	nodes    map[string]*ConditionNode
	coalesce *ratewindow.Window

	// OnChange is called, at most once per ConditionCoalesceWindow per
	// subtree, after Set changes a node's effective state. A nil
	// OnChange means changes are tracked but not emitted anywhere.
	OnChange func(name string, ok bool, reason string)
}

// NewConditionTree creates an empty tree.
func NewConditionTree() *ConditionTree {
	return &ConditionTree{
		nodes:    make(map[string]*ConditionNode),
		coalesce: ratewindow.New(constants.ConditionCoalesceWindow),
	}
}

// Declare adds a node at the dotted path name (e.g. "INTERNET.HTTP"),
// creating it OK with no reason. The parent path (everything before
// the last '.') must already be declared; a top-level name has no
// parent.
func (t *ConditionTree) Declare(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.nodes[name]; exists {
		return fmt.Errorf("conditions: %q already declared", name)
	}

	node := &ConditionNode{Name: name, ok: true, lastChange: time.Now(), children: make(map[string]*ConditionNode)}

	if idx := strings.LastIndexByte(name, '.'); idx >= 0 {
		parentName := name[:idx]
		parent, ok := t.nodes[parentName]
		if !ok {
			return fmt.Errorf("conditions: parent %q not declared before %q", parentName, name)
		}
		node.parent = parent
		parent.children[name] = node
	}

	t.nodes[name] = node
	return nil
}

// Set updates a declared node's own flag and reason, firing OnChange
// (coalesced within ConditionCoalesceWindow per node) if the effective
// state actually changed.
func (t *ConditionTree) Set(name string, ok bool, reason string) error {
	t.mu.Lock()
	node, exists := t.nodes[name]
	if !exists {
		t.mu.Unlock()
		return fmt.Errorf("conditions: %q not declared", name)
	}

	before := node.EffectiveOK()
	node.ok = ok
	node.reason = reason
	node.lastChange = time.Now()
	after := node.EffectiveOK()
	t.mu.Unlock()

	if before != after && t.coalesce.Allow(name) && t.OnChange != nil {
		t.OnChange(name, after, reason)
	}
	return nil
}

// Get returns the declared node at name, or false if not declared.
func (t *ConditionTree) Get(name string) (*ConditionNode, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[name]
	return n, ok
}

// EffectiveOK reports the effective (ancestor-gated) state of the node
// at name; a non-existent name reports false.
func (t *ConditionTree) EffectiveOK(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[name]
	if !ok {
		return false
	}
	return n.EffectiveOK()
}

// Names returns every declared condition name.
func (t *ConditionTree) Names() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.nodes))
	for name := range t.nodes {
		names = append(names, name)
	}
	return names
}
