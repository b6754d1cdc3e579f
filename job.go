package rankstep

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"github.com/rankstep/rankstep/internal/pkg/rsfs"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"golang.org/x/xerrors"
)

// Largest input record a mapper accepts. Transition rows of pages with many
// links can be long.
const maxRecordSize = 16 * 1024 * 1024

// Job is the logical container for a MapReduce job
type Job struct {
	Sources []Source
	Reduce  Reducer

	fileSystem       rsfs.FileSystem
	intermediateBins uint
	outputPath       string
	runID            string

	bytesRead    int64
	bytesWritten int64
}

// NewJob creates a new job from a Reducer and the Sources feeding it
func NewJob(reducer Reducer, sources ...Source) *Job {
	return &Job{
		Sources: sources,
		Reduce:  reducer,
	}
}

// intermediateDir is the folder holding the shuffle bins of the current run
func (j *Job) intermediateDir() string {
	return j.fileSystem.Join(j.outputPath, ".rankstep-"+j.runID)
}

// outputFile is the path of the output part written by the reducer of binID
func (j *Job) outputFile(binID uint) string {
	return j.fileSystem.Join(j.outputPath, fmt.Sprintf("output-part-%d", binID))
}

// runMapper runs a mapper task over a bin of input splits
func (j *Job) runMapper(mapperID uint, splits []inputSplit) error {
	emitter := newMapperEmitter(j.intermediateBins, mapperID, j.intermediateDir(), j.fileSystem)

	for _, split := range splits {
		if err := j.runMapperSplit(split, &emitter); err != nil {
			emitter.close()
			return err
		}
	}

	atomic.AddInt64(&j.bytesWritten, emitter.bytesWritten())

	return emitter.close()
}

// runMapperSplit feeds every record whose first byte lies within split
// to the Mapper of the split's Source
func (j *Job) runMapperSplit(split inputSplit, emitter Emitter) error {
	if split.Source < 0 || split.Source >= len(j.Sources) {
		return xerrors.Errorf("split of %s references unknown source %d", split.Filename, split.Source)
	}
	mapper := j.Sources[split.Source].Mapper

	// Start one byte early so that a record beginning exactly at
	// StartOffset is recognized as belonging to this split
	offset := split.StartOffset
	if offset > 0 {
		offset--
	}

	inputSource, err := j.fileSystem.OpenReader(split.Filename, offset)
	if err != nil {
		return err
	}
	defer inputSource.Close()

	var bytesRead int64
	scanner := bufio.NewScanner(inputSource)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordSize)
	scanner.Split(countingSplitFunc(bufio.ScanLines, &bytesRead))

	// The partial first record belongs to the previous split
	if split.StartOffset > 0 {
		scanner.Scan()
	}

	for {
		recordStart := offset + bytesRead
		if recordStart > split.EndOffset || !scanner.Scan() {
			break
		}

		if err := mapper.Map("", scanner.Text(), emitter); err != nil {
			return xerrors.Errorf("%s at byte %d: %w", split.Filename, recordStart, err)
		}
	}

	atomic.AddInt64(&j.bytesRead, bytesRead)
	return scanner.Err()
}

// readShuffleBin collects the values of every key in the shuffle files of binID.
// Keys are returned in the order they were first seen.
func (j *Job) readShuffleBin(binID uint) ([]string, map[string][]string, error) {
	pattern := j.fileSystem.Join(j.intermediateDir(), fmt.Sprintf("map-bin%d-*.out", binID))
	files, err := j.fileSystem.ListFiles(pattern)
	if err != nil {
		return nil, nil, err
	}

	keys := make([]string, 0)
	groups := make(map[string][]string)
	for _, file := range files {
		reader, err := j.fileSystem.OpenReader(file.Name, 0)
		if err != nil {
			return nil, nil, err
		}
		log.Debugf("Reducing on intermediate file: %s", file.Name)

		decoder := json.NewDecoder(reader)
		for decoder.More() {
			var kv keyValue
			if err := decoder.Decode(&kv); err != nil {
				reader.Close()
				return nil, nil, xerrors.Errorf("decode %s: %w", file.Name, err)
			}

			if _, seen := groups[kv.Key]; !seen {
				keys = append(keys, kv.Key)
			}
			groups[kv.Key] = append(groups[kv.Key], kv.Value)
		}
		atomic.AddInt64(&j.bytesRead, file.Size)
		reader.Close()
	}

	return keys, groups, nil
}

// runReducer runs a reducer task on the shuffle bin binID. Every key is
// reduced once its whole group has been read; keys are reduced concurrently.
// The failures of all keys are returned together.
func (j *Job) runReducer(binID uint) error {
	keys, groups, err := j.readShuffleBin(binID)
	if err != nil {
		return err
	}

	emitWriter, err := j.fileSystem.OpenWriter(j.outputFile(binID))
	if err != nil {
		return err
	}
	emitter := newReducerEmitter(emitWriter)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		result *multierror.Error
	)
	sem := semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0)))
	for _, key := range keys {
		values := groups[key]
		sem.Acquire(context.Background(), 1)
		wg.Add(1)
		go func(key string, values []string) {
			defer wg.Done()
			defer sem.Release(1)

			if err := j.Reduce.Reduce(key, NewValueIterator(values...), emitter); err != nil {
				mu.Lock()
				result = multierror.Append(result, xerrors.Errorf("key %q: %w", key, err))
				mu.Unlock()
			}
		}(key, values)
	}
	wg.Wait()

	atomic.AddInt64(&j.bytesWritten, emitter.bytesWritten())
	if err := emitter.close(); err != nil {
		result = multierror.Append(result, err)
	}

	return result.ErrorOrNil()
}

// inputSplits calculates the splits of every Source's inputs. A path that
// matches no files is an error.
func (j *Job) inputSplits(maxSplitSize int64) ([]inputSplit, error) {
	splits := make([]inputSplit, 0)
	for sourceID, source := range j.Sources {
		for _, inputPath := range source.Paths {
			files, err := j.fileSystem.ListFiles(inputPath)
			if err != nil {
				return nil, xerrors.Errorf("list input %s: %w", inputPath, err)
			}
			if len(files) == 0 {
				return nil, xerrors.Errorf("no input files match %s", inputPath)
			}

			for _, file := range files {
				for _, split := range splitInputFile(file, maxSplitSize) {
					split.Source = sourceID
					splits = append(splits, split)
				}
			}
		}
	}
	return splits, nil
}

// cleanup removes the shuffle bins of the current run
func (j *Job) cleanup() error {
	dir := j.intermediateDir()
	files, err := j.fileSystem.ListFiles(dir)
	if err != nil {
		return err
	}

	var result *multierror.Error
	for _, file := range files {
		if err := j.fileSystem.Delete(file.Name); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if result.ErrorOrNil() == nil {
		// Local runs leave an empty directory behind
		j.fileSystem.Delete(dir)
	}
	return result.ErrorOrNil()
}
