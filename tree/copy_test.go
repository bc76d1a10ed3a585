package tree

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleNewick = "((((a001:0.242690,a002:0.268555)#1:0.073424,a003:0.252510):0.198740,((((((a004:0.001000,a005:0.014869):0.045007,a006:0.050606):0.056908,a007:0.166439):0.023217,a008:0.094788):0.429852,a009:0.558116):0.130317,(a010:0.009332,a011:0.024271):0.315124):0.217376):0.464470,a012:0.144369):0.0;"

// Copy must produce an independent tree: same shape and values, but no
// shared Node pointers, so mutating one copy never affects another, the
// same isolation guarantee beagle instances provide, here exercised at
// the test-fixture layer two copies deep.
func TestCopyIsIndependent(tst *testing.T) {
	t, err := ParseNewick(bytes.NewBufferString(sampleNewick))
	require.NoError(tst, err)

	t1 := t.Copy()
	t2 := t1.Copy()
	t.ClearCache()
	t1.ClearCache()

	tNodes, t1Nodes, t2Nodes := t.Nodes(), t1.Nodes(), t2.Nodes()
	require.Len(tst, t1Nodes, len(tNodes))
	require.Len(tst, t2Nodes, len(tNodes))

	for i := range tNodes {
		require.NotSame(tst, tNodes[i], t1Nodes[i])
		require.NotSame(tst, t1Nodes[i], t2Nodes[i])
		require.Equal(tst, tNodes[i].BranchLength, t1Nodes[i].BranchLength)
		require.Equal(tst, t1Nodes[i].BranchLength, t2Nodes[i].BranchLength)
		require.Equal(tst, tNodes[i].Name, t1Nodes[i].Name)
		require.Equal(tst, tNodes[i].Class, t1Nodes[i].Class)
	}

	for _, node := range t1.Nodes() {
		node.BranchLength = 2
	}
	for i := range tNodes {
		require.NotEqual(tst, t.Nodes()[i].BranchLength, t1.Nodes()[i].BranchLength)
	}

	for _, node := range t2.Nodes() {
		node.BranchLength = 0.5
	}
	for i := range tNodes {
		require.Greater(tst, t1.Nodes()[i].BranchLength, t2.Nodes()[i].BranchLength)
	}
}
