package linebatch

import (
	"context"
	"fmt"

	"github.com/chararch/linebatch/file"
)

// LineRange half-open range [From, To) of 0-based data line indices
type LineRange struct {
	ID   string
	From int64
	To   int64
}

// Len number of lines in the range
func (r LineRange) Len() int64 {
	return r.To - r.From
}

func (r LineRange) String() string {
	return fmt.Sprintf("%s[%d,%d)", r.ID, r.From, r.To)
}

// PartitionMap ranges of all partitions in partition order
type PartitionMap struct {
	Ranges []LineRange
}

// Get range of the partition with the given id
func (m PartitionMap) Get(id string) (LineRange, bool) {
	for _, r := range m.Ranges {
		if r.ID == id {
			return r, true
		}
	}
	return LineRange{}, false
}

// Names partition ids in partition order
func (m PartitionMap) Names() []string {
	names := make([]string, 0, len(m.Ranges))
	for _, r := range m.Ranges {
		names = append(names, r.ID)
	}
	return names
}

func partitionName(i int) string {
	return fmt.Sprintf("partition%d", i+1)
}

// ComputePartitions splits totalLines lines into partitionCount contiguous ranges. Every range holds
// totalLines/partitionCount lines, the last one also takes the remainder. partitionCount must be positive.
func ComputePartitions(totalLines int64, partitionCount int) PartitionMap {
	n := int64(partitionCount)
	base := totalLines / n
	ranges := make([]LineRange, 0, partitionCount)
	for i := 0; i < partitionCount; i++ {
		from := int64(i) * base
		to := from + base
		if i == partitionCount-1 {
			to = totalLines
		}
		ranges = append(ranges, LineRange{ID: partitionName(i), From: from, To: to})
	}
	return PartitionMap{Ranges: ranges}
}

// linePartitioner splits the data lines of a file into ranges
type linePartitioner struct {
	fd     file.FileObjectModel
	reader file.FileItemReader
}

func (p *linePartitioner) Partition(ctx context.Context, execution *StepExecution, partitions uint) (subExecutions []*StepExecution, e BatchError) {
	defer func() {
		if err := recover(); err != nil {
			e = NewBatchError(ErrCodeGeneral, "panic on Partition in linePartitioner, err:%v", err)
		}
	}()
	if partitions == 0 {
		return nil, NewBatchError(ErrCodeConfig, "partition count must be positive, step:%v", execution.StepName)
	}
	fd, err := resolveFile(p.fd, execution)
	if err != nil {
		return nil, err
	}
	count, er := p.reader.Count(fd)
	if er != nil {
		return nil, NewBatchError(ErrCodeResource, "count lines of file:%v err", fd, er)
	}
	partitionMap := ComputePartitions(count, int(partitions))
	subExecutions = splitExecution(execution, partitionMap)
	logger.Info(ctx, "partition step:%v, total lines:%v, partitions:%v, ranges:%v", execution.StepName, count, partitions, partitionMap.Ranges)
	return subExecutions, nil
}

func (p *linePartitioner) GetPartitionNames(execution *StepExecution, partitions uint) []string {
	names := make([]string, 0, partitions)
	for i := 0; i < int(partitions); i++ {
		names = append(names, partitionName(i))
	}
	return names
}

// splitExecution creates one sub execution per range, named <step>:<partition id>
func splitExecution(execution *StepExecution, partitionMap PartitionMap) []*StepExecution {
	subExecutions := make([]*StepExecution, 0, len(partitionMap.Ranges))
	for _, r := range partitionMap.Ranges {
		lineRange := r
		subExecution := execution.deepCopy()
		subExecution.StepName = fmt.Sprintf("%s:%s", execution.StepName, lineRange.ID)
		subExecution.LineRange = &lineRange
		subExecutions = append(subExecutions, subExecution)
	}
	return subExecutions
}
