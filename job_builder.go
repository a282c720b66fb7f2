package linebatch

import "fmt"

type jobBuilder struct {
	name               string
	steps              []Step
	jobListeners       []JobListener
	stepListeners      []StepListener
	chunkListeners     []ChunkListener
	partitionListeners []PartitionListener
}

//NewJob new instance of job builder
func NewJob(name string, steps ...Step) *jobBuilder {
	if name == "" {
		panic("job name must not be empty")
	}
	return &jobBuilder{
		name:  name,
		steps: steps,
	}
}

func (builder *jobBuilder) Step(step ...Step) *jobBuilder {
	builder.steps = append(builder.steps, step...)
	return builder
}

//Listener registers job listeners, step, chunk and partition listeners are added to every matching step
func (builder *jobBuilder) Listener(listener ...interface{}) *jobBuilder {
	for _, l := range listener {
		valid := false
		if ll, ok := l.(JobListener); ok {
			builder.jobListeners = append(builder.jobListeners, ll)
			valid = true
		}
		if ll, ok := l.(StepListener); ok {
			builder.stepListeners = append(builder.stepListeners, ll)
			valid = true
		}
		if ll, ok := l.(ChunkListener); ok {
			builder.chunkListeners = append(builder.chunkListeners, ll)
			valid = true
		}
		if ll, ok := l.(PartitionListener); ok {
			builder.partitionListeners = append(builder.partitionListeners, ll)
			valid = true
		}
		if !valid {
			panic(fmt.Sprintf("not supported listener:%+v for job:%v", l, builder.name))
		}
	}
	return builder
}

func (builder *jobBuilder) Build() Job {
	if len(builder.steps) == 0 {
		panic(fmt.Sprintf("job:%v has no step", builder.name))
	}
	for _, step := range builder.steps {
		for _, sl := range builder.stepListeners {
			step.addListener(sl)
		}
		chkStep, ok := step.(*chunkStep)
		if p, isPartition := step.(*partitionStep); isPartition {
			p.partitionListeners = append(p.partitionListeners, builder.partitionListeners...)
			chkStep, ok = p.step.(*chunkStep)
		}
		if ok {
			chkStep.chunkListeners = append(chkStep.chunkListeners, builder.chunkListeners...)
		}
	}
	return newSimpleJob(builder.name, builder.steps, builder.jobListeners)
}
