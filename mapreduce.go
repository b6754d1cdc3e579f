package rankstep

// ValueIterator iterates over a sequence of values.
// This is used during the Reduce phase, wherein a reduce task
// iterates over all values for a particular key.
type ValueIterator struct {
	values chan string
}

// Iter iterates over all the values in the iterator.
func (v *ValueIterator) Iter() <-chan string {
	return v.values
}

func newValueIterator(c chan string) ValueIterator {
	return ValueIterator{
		values: c,
	}
}

// NewValueIterator returns a ValueIterator over a complete set of values.
func NewValueIterator(values ...string) ValueIterator {
	valueChan := make(chan string, len(values))
	for _, value := range values {
		valueChan <- value
	}
	close(valueChan)
	return newValueIterator(valueChan)
}

// Mapper defines the interface for a Map task.
// An error aborts the task, and with it the job.
type Mapper interface {
	Map(key, value string, emitter Emitter) error
}

// Reducer defines the interface for a Reduce task.
// Reduce is called once per key, after every value of that key has been
// emitted by the map phase. An error fails the key.
type Reducer interface {
	Reduce(key string, values ValueIterator, emitter Emitter) error
}

// Source binds input paths to the Mapper that reads their records.
// Paths may be files, directories or globs.
type Source struct {
	Mapper Mapper
	Paths  []string
}

// Input creates a Source reading paths with mapper.
func Input(mapper Mapper, paths ...string) Source {
	return Source{
		Mapper: mapper,
		Paths:  paths,
	}
}

// keyValue is used to store intermediate shuffle data as key-value pairs
type keyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}
