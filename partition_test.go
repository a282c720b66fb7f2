package linebatch

import (
	"testing"

	"github.com/bmizerany/assert"
)

func TestComputePartitions(t *testing.T) {
	m := ComputePartitions(59507, 5)
	assert.Equal(t, []LineRange{
		{ID: "partition1", From: 0, To: 11901},
		{ID: "partition2", From: 11901, To: 23802},
		{ID: "partition3", From: 23802, To: 35703},
		{ID: "partition4", From: 35703, To: 47604},
		{ID: "partition5", From: 47604, To: 59507},
	}, m.Ranges)
	assert.Equal(t, []string{"partition1", "partition2", "partition3", "partition4", "partition5"}, m.Names())
	r, ok := m.Get("partition5")
	assert.Equal(t, true, ok)
	assert.Equal(t, int64(11903), r.Len())
	_, ok = m.Get("partition6")
	assert.Equal(t, false, ok)
}

func TestComputePartitions_FewerLinesThanPartitions(t *testing.T) {
	m := ComputePartitions(3, 5)
	assert.Equal(t, 5, len(m.Ranges))
	for _, r := range m.Ranges[:4] {
		assert.Equal(t, int64(0), r.Len())
	}
	assert.Equal(t, LineRange{ID: "partition5", From: 0, To: 3}, m.Ranges[4])
}

func TestComputePartitions_Empty(t *testing.T) {
	m := ComputePartitions(0, 4)
	assert.Equal(t, 4, len(m.Ranges))
	for _, r := range m.Ranges {
		assert.Equal(t, int64(0), r.From)
		assert.Equal(t, int64(0), r.To)
	}
}

func TestComputePartitions_Coverage(t *testing.T) {
	for total := int64(0); total < 60; total++ {
		for n := 1; n <= 8; n++ {
			m := ComputePartitions(total, n)
			assert.Equal(t, n, len(m.Ranges))
			next := int64(0)
			for i, r := range m.Ranges {
				assert.Equal(t, next, r.From, total, n, i)
				assert.T(t, r.To >= r.From)
				if i < n-1 {
					assert.Equal(t, total/int64(n), r.Len())
				}
				next = r.To
			}
			assert.Equal(t, total, next)
		}
	}
}

func TestSplitExecution(t *testing.T) {
	jobExecution := newJobExecution("job", nil)
	execution := newStepExecution("step", jobExecution)
	execution.StepContext.Put("k", "v")
	subs := splitExecution(execution, ComputePartitions(10, 3))
	assert.Equal(t, 3, len(subs))
	assert.Equal(t, "step:partition2", subs[1].StepName)
	assert.Equal(t, LineRange{ID: "partition3", From: 6, To: 10}, *subs[2].LineRange)
	assert.Equal(t, "v", subs[0].StepContext.Get("k"))
	assert.Equal(t, jobExecution, subs[0].JobExecution)
}
