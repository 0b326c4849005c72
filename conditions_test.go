package connectsdk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConditionTreeDeclareRequiresParent(t *testing.T) {
	tree := NewConditionTree()
	require.Error(t, tree.Declare("INTERNET.HTTP"), "expected error declaring child before parent")
	require.NoError(t, tree.Declare("INTERNET"))
	require.NoError(t, tree.Declare("INTERNET.HTTP"))
	require.Error(t, tree.Declare("INTERNET"), "expected error re-declaring an existing name")
}

func TestConditionTreeEffectiveOKIsAncestorGated(t *testing.T) {
	tree := NewConditionTree()
	require.NoError(t, tree.Declare("INTERNET"))
	require.NoError(t, tree.Declare("INTERNET.HTTP"))
	require.NoError(t, tree.Declare("INTERNET.HTTP.TOKEN"))

	require.True(t, tree.EffectiveOK("INTERNET.HTTP.TOKEN"), "expected all-OK chain to be effectively OK")

	require.NoError(t, tree.Set("INTERNET", false, "no link"))
	require.False(t, tree.EffectiveOK("INTERNET.HTTP.TOKEN"), "expected child to be gated by ancestor outage")
	require.False(t, tree.EffectiveOK("INTERNET.HTTP"), "expected middle node to be gated by ancestor outage")

	node, ok := tree.Get("INTERNET.HTTP.TOKEN")
	require.True(t, ok, "expected node to exist")
	require.True(t, node.OK(), "expected node's own flag to remain true, only effective state gated")
}

func TestConditionTreeSetUnknownNameErrors(t *testing.T) {
	tree := NewConditionTree()
	require.Error(t, tree.Set("MISSING", false, "x"))
}

func TestConditionTreeOnChangeFiresOnceOnEffectiveChange(t *testing.T) {
	tree := NewConditionTree()
	require.NoError(t, tree.Declare("INTERNET"))
	require.NoError(t, tree.Declare("INTERNET.HTTP"))

	var fired []string
	tree.OnChange = func(name string, ok bool, reason string) {
		fired = append(fired, name)
	}

	require.NoError(t, tree.Set("INTERNET", false, "no link"))
	require.NoError(t, tree.Set("INTERNET", false, "still down"))
	require.Len(t, fired, 1, "expected exactly 1 OnChange fire for the initial transition")

	time.Sleep(ConditionCoalesceWindow) // let the coalescing window for INTERNET elapse
	require.NoError(t, tree.Set("INTERNET", true, ""))
	require.Len(t, fired, 2, "expected a second fire on recovery")
}

func TestConditionTreeNamesListsAllDeclared(t *testing.T) {
	tree := NewConditionTree()
	require.NoError(t, tree.Declare("INTERNET"))
	require.NoError(t, tree.Declare("INTERNET.HTTP"))

	require.Len(t, tree.Names(), 2)
}
