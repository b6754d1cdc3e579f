package rankstep

import (
	"context"
	"encoding/json"
	"os"
	"sync/atomic"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"
	"golang.org/x/xerrors"

	"github.com/rankstep/rankstep/internal/pkg/rsfs"
	"github.com/rankstep/rankstep/internal/pkg/rsiam"
	"github.com/rankstep/rankstep/internal/pkg/rslambda"
)

// Name of the IAM role assumed by Lambda workers when the role is managed
const rankstepRoleName = "RankstepExecutionRole"

var (
	lambdaDriver *Driver
)

// runningInLambda infers if the program is running in AWS lambda via inspection of the environment
func runningInLambda() bool {
	expectedEnvVars := []string{"LAMBDA_TASK_ROOT", "AWS_EXECUTION_ENV", "LAMBDA_RUNTIME_DIR"}
	for _, envVar := range expectedEnvVars {
		if os.Getenv(envVar) == "" {
			return false
		}
	}
	return true
}

func prepareJob(job *Job, t task) error {
	fs, err := rsfs.InitFilesystem(t.FileSystemType)
	if err != nil {
		return err
	}
	job.fileSystem = fs
	job.intermediateBins = t.IntermediateBins
	job.outputPath = t.WorkingLocation
	job.runID = t.RunID

	// Counters are reported per invocation
	atomic.StoreInt64(&job.bytesRead, 0)
	atomic.StoreInt64(&job.bytesWritten, 0)
	return nil
}

func handleRequest(ctx context.Context, t task) (string, error) {
	job := lambdaDriver.job
	if err := prepareJob(job, t); err != nil {
		return "", err
	}

	var err error
	switch t.Phase {
	case MapPhase:
		err = job.runMapper(t.BinID, t.Splits)
	case ReducePhase:
		err = job.runReducer(t.BinID)
	default:
		return "", xerrors.Errorf("unknown phase: %d", t.Phase)
	}
	if err != nil {
		return "", err
	}

	result := taskResult{
		BytesRead:    atomic.LoadInt64(&job.bytesRead),
		BytesWritten: atomic.LoadInt64(&job.bytesWritten),
	}
	payload, err := json.Marshal(result)
	return string(payload), err
}

type lambdaExecutor struct {
	*rslambda.LambdaClient
	*rsiam.IAMClient
	functionName string
}

func newLambdaExecutor(functionName string) *lambdaExecutor {
	return &lambdaExecutor{
		rslambda.NewLambdaClient(),
		rsiam.NewIAMClient(),
		functionName,
	}
}

func newTask(job *Job, phase Phase, binID uint) task {
	return task{
		Phase:            phase,
		BinID:            binID,
		IntermediateBins: job.intermediateBins,
		FileSystemType:   rsfs.InferFilesystemType(job.outputPath),
		WorkingLocation:  job.outputPath,
		RunID:            job.runID,
	}
}

func (l *lambdaExecutor) RunMapper(job *Job, binID uint, inputSplits []inputSplit) error {
	mapTask := newTask(job, MapPhase, binID)
	mapTask.Splits = inputSplits
	return l.invoke(job, mapTask)
}

func (l *lambdaExecutor) RunReducer(job *Job, binID uint) error {
	return l.invoke(job, newTask(job, ReducePhase, binID))
}

// invoke runs t on Lambda and adds the reported statistics to job
func (l *lambdaExecutor) invoke(job *Job, t task) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return err
	}

	resultPayload, err := l.Invoke(l.functionName, payload)
	if err != nil {
		return err
	}

	// The handler's string result arrives JSON encoded
	var encoded string
	if err := json.Unmarshal(resultPayload, &encoded); err != nil {
		return xerrors.Errorf("decode task result: %w", err)
	}
	var result taskResult
	if err := json.Unmarshal([]byte(encoded), &result); err != nil {
		return xerrors.Errorf("decode task result: %w", err)
	}

	atomic.AddInt64(&job.bytesRead, result.BytesRead)
	atomic.AddInt64(&job.bytesWritten, result.BytesWritten)
	return nil
}

// Deploy creates or updates the Lambda function running the tasks, along
// with its IAM role when the role is managed
func (l *lambdaExecutor) Deploy(c *config) error {
	roleARN := viper.GetString("lambda_role_arn")
	if viper.GetBool("lambda_manage_role") {
		var err error
		roleARN, err = l.DeployPermissions(rankstepRoleName)
		if err != nil {
			return xerrors.Errorf("deploy permissions: %w", err)
		}
	}

	function := &rslambda.FunctionConfig{
		Name:        l.functionName,
		RoleARN:     roleARN,
		Timeout:     viper.GetInt64("lambda_timeout"),
		MemorySize:  viper.GetInt64("lambda_memory"),
		Environment: c.LambdaEnvironment,
	}
	return l.DeployFunction(function)
}

// Undeploy deletes the Lambda function, and its IAM role when the role is
// managed. Every deletion is attempted.
func (l *lambdaExecutor) Undeploy() error {
	var result *multierror.Error
	if err := l.DeleteFunction(l.functionName); err != nil {
		result = multierror.Append(result, xerrors.Errorf("delete function %s: %w", l.functionName, err))
	}
	if viper.GetBool("lambda_manage_role") {
		if err := l.DeletePermissions(rankstepRoleName); err != nil {
			result = multierror.Append(result, xerrors.Errorf("delete permissions: %w", err))
		}
	}
	return result.ErrorOrNil()
}

// startLambda serves tasks of d from inside AWS Lambda. It does not return.
func startLambda(d *Driver) {
	lambdaDriver = d
	lambda.Start(handleRequest)
}
