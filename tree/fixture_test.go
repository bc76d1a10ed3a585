package tree

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

const jcTwoTip = "(A:0.1,B:0.1):0;"

func TestTipIndices(tst *testing.T) {
	t, err := ParseNewick(bytes.NewBufferString(jcTwoTip))
	require.NoError(tst, err)

	idx := t.TipIndices()
	require.Len(tst, idx, 2)
	require.Contains(tst, idx, "A")
	require.Contains(tst, idx, "B")
	require.NotEqual(tst, idx["A"], idx["B"])
}

func TestPostOrderRespectsChildren(tst *testing.T) {
	t, err := ParseNewick(bytes.NewBufferString(jcTwoTip))
	require.NoError(tst, err)

	order := t.PostOrder()
	require.Len(tst, order, 1)
	require.True(tst, order[0].IsRoot())
}

func TestPostOrderNestedTree(tst *testing.T) {
	t, err := ParseNewick(bytes.NewBufferString("((A:0.1,B:0.2):0.05,C:0.3):0;"))
	require.NoError(tst, err)

	order := t.PostOrder()
	require.Len(tst, order, 2)
	// the (A,B) cherry must precede the root in post-order.
	require.False(tst, order[0].IsRoot())
	require.True(tst, order[1].IsRoot())
}

func TestBalancedNewickParsesToNTips(tst *testing.T) {
	for _, n := range []int{2, 3, 50, 63} {
		t, err := ParseNewick(bytes.NewBufferString(BalancedNewick(n, 0.01)))
		require.NoError(tst, err, "n=%d", n)
		require.Len(tst, t.TipIndices(), n, "n=%d", n)
		require.Len(tst, t.PostOrder(), n-1, "n=%d", n)
	}
}
