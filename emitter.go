package rankstep

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/rankstep/rankstep/internal/pkg/rsfs"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// Emitter enables mappers and reducers to yield key-value pairs.
type Emitter interface {
	Emit(key, value string) error
}

// reducerEmitter is a threadsafe emitter.
type reducerEmitter struct {
	writer       io.WriteCloser
	mut          *sync.Mutex
	writtenBytes int64
}

// newReducerEmitter initializes and returns a new reducerEmitter
func newReducerEmitter(writer io.WriteCloser) *reducerEmitter {
	return &reducerEmitter{
		writer: writer,
		mut:    &sync.Mutex{},
	}
}

// Emit yields a key-value pair to the framework.
func (e *reducerEmitter) Emit(key, value string) error {
	e.mut.Lock()
	defer e.mut.Unlock()

	n, err := e.writer.Write([]byte(fmt.Sprintf("%s\t%s\n", key, value)))
	e.writtenBytes += int64(n)
	return err
}

// close terminates the reducerEmitter. close must not be called more than once
func (e *reducerEmitter) close() error {
	return e.writer.Close()
}

func (e *reducerEmitter) bytesWritten() int64 {
	e.mut.Lock()
	defer e.mut.Unlock()
	return e.writtenBytes
}

// mapperEmitter routes every emitted pair to the shuffle file of the bin
// its key hashes to. Files are opened on first use, one per bin.
type mapperEmitter struct {
	numBins      uint
	mapperID     uint
	outDir       string
	fs           rsfs.FileSystem
	writers      map[uint]io.WriteCloser
	writtenBytes int64
}

func newMapperEmitter(numBins uint, mapperID uint, outDir string, fs rsfs.FileSystem) mapperEmitter {
	return mapperEmitter{
		numBins:  numBins,
		mapperID: mapperID,
		outDir:   outDir,
		fs:       fs,
		writers:  make(map[uint]io.WriteCloser, numBins),
	}
}

// hashPartition assigns key to one of numBins shuffle bins. Every record
// of a key lands in the same bin, so one reducer sees its whole group.
func hashPartition(key string, numBins uint) uint {
	h := fnv.New64()
	h.Write([]byte(key))
	return uint(h.Sum64() % uint64(numBins))
}

// shuffleFileName names the file holding the output of mapperID for bin
func shuffleFileName(bin, mapperID uint) string {
	return fmt.Sprintf("map-bin%d-%d.out", bin, mapperID)
}

func (me *mapperEmitter) writerFor(bin uint) (io.WriteCloser, error) {
	if w, ok := me.writers[bin]; ok {
		return w, nil
	}
	w, err := me.fs.OpenWriter(me.fs.Join(me.outDir, shuffleFileName(bin, me.mapperID)))
	if err != nil {
		return nil, err
	}
	me.writers[bin] = w
	return w, nil
}

// Emit appends the pair to its bin's shuffle file as a JSON line
func (me *mapperEmitter) Emit(key, value string) error {
	writer, err := me.writerFor(hashPartition(key, me.numBins))
	if err != nil {
		return err
	}

	line, err := json.Marshal(keyValue{Key: key, Value: value})
	if err != nil {
		log.Errorf("Could not encode shuffle record for key %q: %s", key, err)
		return err
	}

	n, err := writer.Write(append(line, '\n'))
	me.writtenBytes += int64(n)
	return err
}

// close flushes every shuffle file. Must not be called more than once
func (me *mapperEmitter) close() error {
	var result *multierror.Error
	for bin, writer := range me.writers {
		if err := writer.Close(); err != nil {
			result = multierror.Append(result, xerrors.Errorf("close shuffle bin %d: %w", bin, err))
		}
	}
	return result.ErrorOrNil()
}

func (me *mapperEmitter) bytesWritten() int64 {
	return me.writtenBytes
}
