package rankstep

import (
	"context"
	"os"
	"runtime"
	"runtime/pprof"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/semaphore"
	"golang.org/x/xerrors"

	humanize "github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	pb "gopkg.in/cheggaaa/pb.v1"

	"github.com/rankstep/rankstep/internal/pkg/rsfs"
)

// Driver controls the execution of a MapReduce Job
type Driver struct {
	job      *Job
	config   *config
	executor executor
}

// config configures a Driver's execution of jobs
type config struct {
	SplitSize         int64
	MapBinSize        int64
	ReduceBinSize     int64
	MaxConcurrency    int
	WorkingLocation   string
	Cleanup           bool
	LambdaEnvironment map[string]string
}

func newConfig() *config {
	LoadConfig() // Load viper config from settings file(s), environment and flags
	return &config{
		SplitSize:         viper.GetInt64("split_size"),
		MapBinSize:        viper.GetInt64("map_bin_size"),
		ReduceBinSize:     viper.GetInt64("reduce_bin_size"),
		MaxConcurrency:    viper.GetInt("max_concurrency"),
		WorkingLocation:   viper.GetString("working_location"),
		Cleanup:           viper.GetBool("cleanup"),
		LambdaEnvironment: map[string]string{},
	}
}

// Option allows configuration of a Driver
type Option func(*config)

// NewDriver creates a new Driver with the provided job and optional configuration
func NewDriver(job *Job, options ...Option) *Driver {
	d := &Driver{
		job:      job,
		executor: localExecutor{},
	}

	c := newConfig()
	for _, f := range options {
		f(c)
	}

	if viper.GetBool("verbose") {
		log.SetLevel(log.DebugLevel)
	}

	if c.SplitSize > c.MapBinSize {
		log.Warn("Configured Split Size is larger than Map Bin size")
		c.SplitSize = c.MapBinSize
	}

	d.config = c
	log.Debugf("Loaded config: %#v", c)

	return d
}

// WithSplitSize sets the SplitSize of the Driver
func WithSplitSize(s int64) Option {
	return func(c *config) {
		c.SplitSize = s
	}
}

// WithMapBinSize sets the MapBinSize of the Driver
func WithMapBinSize(s int64) Option {
	return func(c *config) {
		c.MapBinSize = s
	}
}

// WithReduceBinSize sets the ReduceBinSize of the Driver
func WithReduceBinSize(s int64) Option {
	return func(c *config) {
		c.ReduceBinSize = s
	}
}

// WithMaxConcurrency sets the maximum number of concurrently running executors
func WithMaxConcurrency(n int) Option {
	return func(c *config) {
		c.MaxConcurrency = n
	}
}

// WithWorkingLocation sets the location and filesystem backend of the Driver
func WithWorkingLocation(location string) Option {
	return func(c *config) {
		c.WorkingLocation = location
	}
}

// WithCleanup makes the Driver delete shuffle files after a successful run
func WithCleanup(cleanup bool) Option {
	return func(c *config) {
		c.Cleanup = cleanup
	}
}

// WithLambdaEnvironment sets an environment variable of the Lambda function
// executing tasks. Remote executors read job parameters from it.
func WithLambdaEnvironment(key, value string) Option {
	return func(c *config) {
		c.LambdaEnvironment[key] = value
	}
}

// fanOut runs fn for ids 0..n-1 with at most MaxConcurrency running at once,
// returning the errors of every failed call
func (d *Driver) fanOut(ctx context.Context, phase string, n int, fn func(id uint) error) error {
	bar := pb.New(n).Prefix(phase).Start()
	defer bar.Finish()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		result *multierror.Error
	)
	sem := semaphore.NewWeighted(int64(d.config.MaxConcurrency))
	for i := 0; i < n; i++ {
		err := ctx.Err()
		if err == nil {
			err = sem.Acquire(ctx, 1)
		}
		if err != nil {
			mu.Lock()
			result = multierror.Append(result, err)
			mu.Unlock()
			break
		}
		wg.Add(1)
		go func(id uint) {
			defer wg.Done()
			defer sem.Release(1)
			defer bar.Increment()
			if err := fn(id); err != nil {
				log.Errorf("Error when running %s task %d: %s", phase, id, err)
				mu.Lock()
				result = multierror.Append(result, xerrors.Errorf("%s task %d: %w", phase, id, err))
				mu.Unlock()
			}
		}(uint(i))
	}
	wg.Wait()

	return result.ErrorOrNil()
}

func (d *Driver) runMapPhase(ctx context.Context, inputSplits []inputSplit) error {
	inputBins := packInputSplits(inputSplits, d.config.MapBinSize)
	log.Debugf("Number of job input bins: %d", len(inputBins))

	return d.fanOut(ctx, "Map", len(inputBins), func(binID uint) error {
		return d.executor.RunMapper(d.job, binID, inputBins[binID])
	})
}

func (d *Driver) runReducePhase(ctx context.Context) error {
	return d.fanOut(ctx, "Reduce", int(d.job.intermediateBins), func(binID uint) error {
		return d.executor.RunReducer(d.job, binID)
	})
}

// Run executes the job: every input is mapped into shuffle bins, then every
// bin is reduced into an output part. Any failing task fails the run.
func (d *Driver) Run(ctx context.Context) error {
	if len(d.job.Sources) == 0 {
		return xerrors.New("no inputs")
	}
	for i, source := range d.job.Sources {
		if len(source.Paths) == 0 {
			return xerrors.Errorf("input %d has no paths", i)
		}
	}
	if d.config.ReduceBinSize <= 0 || d.config.MapBinSize <= 0 || d.config.SplitSize <= 0 {
		return xerrors.New("split and bin sizes must be positive")
	}
	if d.config.MaxConcurrency <= 0 {
		return xerrors.New("max concurrency must be positive")
	}

	fs, err := rsfs.InferFilesystem(d.job.Sources[0].Paths[0])
	if err != nil {
		return xerrors.Errorf("init filesystem: %w", err)
	}
	d.job.fileSystem = fs
	d.job.outputPath = d.config.WorkingLocation
	d.job.runID = uuid.New().String()

	if lBackend, ok := d.executor.(*lambdaExecutor); ok {
		if err := lBackend.Deploy(d.config); err != nil {
			return xerrors.Errorf("deploy lambda function: %w", err)
		}
	}

	inputSplits, err := d.job.inputSplits(d.config.SplitSize)
	if err != nil {
		return err
	}
	if len(inputSplits) == 0 {
		log.Warnf("No input splits")
		return nil
	}
	log.Debugf("Number of job input splits: %d", len(inputSplits))

	totalSize := int64(0)
	for _, split := range inputSplits {
		totalSize += split.Size()
	}
	d.job.intermediateBins = uint(totalSize/d.config.ReduceBinSize) + 1
	log.Debugf("Total input size %s, %d shuffle bins", humanize.Bytes(uint64(totalSize)), d.job.intermediateBins)

	if err := d.runMapPhase(ctx, inputSplits); err != nil {
		return xerrors.Errorf("map phase: %w", err)
	}
	if err := d.runReducePhase(ctx); err != nil {
		return xerrors.Errorf("reduce phase: %w", err)
	}

	if d.config.Cleanup {
		if err := d.job.cleanup(); err != nil {
			log.Warnf("Could not clean up shuffle files: %s", err)
		}
	}

	log.Infof("Job read %s and wrote %s",
		humanize.Bytes(uint64(atomic.LoadInt64(&d.job.bytesRead))),
		humanize.Bytes(uint64(atomic.LoadInt64(&d.job.bytesWritten))))
	return nil
}

// undeploy tears down the Lambda function when the undeploy setting is on.
// It is a no-op for local runs.
func (d *Driver) undeploy() {
	lBackend, ok := d.executor.(*lambdaExecutor)
	if !ok || !viper.GetBool("undeploy") {
		return
	}
	log.Infof("Undeploying Lambda function '%s'", lBackend.functionName)
	if err := lBackend.Undeploy(); err != nil {
		log.Warnf("Could not undeploy: %s", err)
	}
}

// Main starts the Driver, running the job and exiting non-zero on failure.
// Inside AWS Lambda, Main serves tasks instead.
func (d *Driver) Main() {
	if runningInLambda() {
		startLambda(d)
		return
	}

	if !pflag.Parsed() {
		pflag.Parse()
	}

	if viper.GetBool("lambda") {
		d.executor = newLambdaExecutor(viper.GetString("lambda_function_name"))
	}
	if out := viper.GetString("out"); out != "" {
		d.config.WorkingLocation = out
	}

	start := time.Now()
	err := d.Run(context.Background())
	log.Infof("Job Execution Time: %s", time.Since(start))

	d.undeploy()

	if memprofile := viper.GetString("memprofile"); memprofile != "" {
		f, err := os.Create(memprofile)
		if err != nil {
			log.Fatal("could not create memory profile: ", err)
		}
		runtime.GC() // get up-to-date statistics
		if err := pprof.WriteHeapProfile(f); err != nil {
			log.Fatal("could not write memory profile: ", err)
		}
		f.Close()
	}

	if err != nil {
		log.Errorf("Job failed: %s", err)
		os.Exit(1)
	}
}
