package resource

import (
	"testing"

	"github.com/stretchr/testify/require"

	"bitbucket.org/Davydov/beagle/kernel"
)

func dummyFactory(kernel.Sizing) (kernel.Backend, error) { return nil, nil }

func TestRegisterDuplicatePanics(tst *testing.T) {
	Register("test-dup-a", CPU|Sync, dummyFactory)
	require.Panics(tst, func() {
		Register("test-dup-a", CPU|Sync, dummyFactory)
	})
}

func TestListIsSortedAndReadOnly(tst *testing.T) {
	Register("test-list-b", CPU, dummyFactory)
	Register("test-list-a", GPU, dummyFactory)

	l := List()
	var lastName string
	for _, r := range l {
		require.GreaterOrEqual(tst, r.Name, lastName)
		lastName = r.Name
	}

	l[0].Name = "mutated"
	require.NotEqual(tst, "mutated", List()[0].Name)
}

func TestSelectHonorsRequirement(tst *testing.T) {
	Register("test-select-cpu", Double|Sync|CPU, dummyFactory)
	Register("test-select-gpu", Single|Async|GPU, dummyFactory)

	resources := List()
	cpuIdx, gpuIdx := -1, -1
	for i, r := range resources {
		switch r.Name {
		case "test-select-cpu":
			cpuIdx = i
		case "test-select-gpu":
			gpuIdx = i
		}
	}
	require.GreaterOrEqual(tst, cpuIdx, 0)
	require.GreaterOrEqual(tst, gpuIdx, 0)

	idx, factory, err := Select(nil, 0, Double)
	require.Equal(tst, kernel.Success, err)
	require.Equal(tst, cpuIdx, idx)
	require.NotNil(tst, factory)

	_, _, err = Select(nil, 0, Double|GPU)
	require.NotEqual(tst, kernel.Success, err)
}

func TestSelectPrefersMostPreferenceBits(tst *testing.T) {
	Register("test-pref-a", Double|Sync|CPU, dummyFactory)
	Register("test-pref-b", Double|Sync|CPU|SSE, dummyFactory)

	resources := List()
	wantIdx := -1
	for i, r := range resources {
		if r.Name == "test-pref-b" {
			wantIdx = i
		}
	}
	require.GreaterOrEqual(tst, wantIdx, 0)

	idx, _, err := Select(nil, SSE, Double)
	require.Equal(tst, kernel.Success, err)
	require.Equal(tst, wantIdx, idx)
}

func TestSelectRespectsAllowedList(tst *testing.T) {
	Register("test-allow-a", Double|Sync|CPU, dummyFactory)
	Register("test-allow-b", Double|Sync|CPU, dummyFactory)

	resources := List()
	var aIdx int
	for i, r := range resources {
		if r.Name == "test-allow-a" {
			aIdx = i
		}
	}

	idx, _, err := Select([]int{aIdx}, 0, Double)
	require.Equal(tst, kernel.Success, err)
	require.Equal(tst, aIdx, idx)
}

func TestFlagString(tst *testing.T) {
	require.Equal(tst, "NONE", Flag(0).String())
	require.Equal(tst, "DOUBLE|CPU", (Double | CPU).String())
}
