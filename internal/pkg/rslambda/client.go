package rslambda

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/lambda"
	"github.com/aws/aws-sdk-go/service/lambda/lambdaiface"
	log "github.com/sirupsen/logrus"
)

// MaxLambdaRetries is the number of times an invocation is retried after
// a function error
const MaxLambdaRetries = 3

// LambdaClient wraps the AWS Lambda API and provides functions for
// deploying and invoking lambda functions
type LambdaClient struct {
	Client lambdaiface.LambdaAPI
}

// FunctionConfig holds the configuration of an individual Lambda function
type FunctionConfig struct {
	Name        string
	RoleARN     string
	Timeout     int64
	MemorySize  int64
	Environment map[string]string
}

// NewLambdaClient initializes a new LambdaClient
func NewLambdaClient() *LambdaClient {
	sess := session.Must(session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	}))
	return &LambdaClient{
		Client: lambda.New(sess),
	}
}

// buildPackage produces the zipped deployment package; replaced in tests
var buildPackage = buildLambdaPackage

func functionNeedsUpdate(functionCode []byte, cfg *lambda.FunctionConfiguration) bool {
	codeHash := sha256.New()
	codeHash.Write(functionCode)
	codeHashDigest := base64.StdEncoding.EncodeToString(codeHash.Sum(nil))
	return codeHashDigest != aws.StringValue(cfg.CodeSha256)
}

func environmentDiffers(want map[string]string, cfg *lambda.FunctionConfiguration) bool {
	have := map[string]*string{}
	if cfg.Environment != nil && cfg.Environment.Variables != nil {
		have = cfg.Environment.Variables
	}
	if len(want) != len(have) {
		return true
	}
	for key, value := range want {
		if v, ok := have[key]; !ok || aws.StringValue(v) != value {
			return true
		}
	}
	return false
}

func configNeedsUpdate(function *FunctionConfig, cfg *lambda.FunctionConfiguration) bool {
	return function.RoleARN != aws.StringValue(cfg.Role) ||
		function.Timeout != aws.Int64Value(cfg.Timeout) ||
		function.MemorySize != aws.Int64Value(cfg.MemorySize) ||
		environmentDiffers(function.Environment, cfg)
}

// DeployFunction deploys the current directory as a lamba function, creating
// it or updating its code and settings as needed
func (l *LambdaClient) DeployFunction(function *FunctionConfig) error {
	functionCode, err := buildPackage()
	if err != nil {
		return err
	}

	exists, err := l.getFunction(function.Name)
	if exists != nil && err == nil {
		if functionNeedsUpdate(functionCode, exists.Configuration) {
			log.Infof("Updating Lambda function code for '%s'", function.Name)
			if err := l.updateFunction(function, functionCode); err != nil {
				return err
			}
		} else {
			log.Infof("Function '%s' code is already up-to-date", function.Name)
		}

		if configNeedsUpdate(function, exists.Configuration) {
			log.Infof("Updating Lambda function settings for '%s'", function.Name)
			return l.updateFunctionSettings(function)
		}
		return nil
	}

	log.Infof("Creating Lambda function '%s'", function.Name)
	return l.createFunction(function, functionCode)
}

// DeleteFunction tears down the given function
func (l *LambdaClient) DeleteFunction(functionName string) error {
	deleteInput := &lambda.DeleteFunctionInput{
		FunctionName: aws.String(functionName),
	}

	log.Debugf("Deleting function '%s'", functionName)
	_, err := l.Client.DeleteFunction(deleteInput)
	return err
}

// crossCompile builds the current directory as a linux binary
func crossCompile(binName string) (string, error) {
	tmpDir, err := ioutil.TempDir("", "")
	if err != nil {
		return "", err
	}

	outputPath := filepath.Join(tmpDir, binName)

	args := []string{
		"build",
		"-o", outputPath,
		"-ldflags", "-s -w",
		".",
	}
	cmd := exec.Command("go", args...)

	cmd.Env = append(os.Environ(), "GOOS=linux", "GOARCH=amd64", "CGO_ENABLED=0")

	combinedOut, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s\n%s", err, combinedOut)
	}

	return outputPath, nil
}

// buildLambdaPackage compiles the current directory and zips the binary
// as a Lambda deployment package
func buildLambdaPackage() ([]byte, error) {
	log.Debug("Compiling lambda function for Lambda")
	binFile, err := crossCompile("lambda_artifact")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(filepath.Dir(binFile))

	binReader, err := os.Open(binFile)
	if err != nil {
		return nil, err
	}
	defer binReader.Close()

	zipBuf := new(bytes.Buffer)
	archive := zip.NewWriter(zipBuf)
	header := &zip.FileHeader{
		Name:           "main",
		ExternalAttrs:  (0777 << 16), // File permissions
		CreatorVersion: (3 << 8),     // Magic number indicating a Unix creator
	}

	log.Debug("Adding binary to zip archive")
	writer, err := archive.CreateHeader(header)
	if err != nil {
		return nil, err
	}

	if _, err = io.Copy(writer, binReader); err != nil {
		return nil, err
	}

	if err := archive.Close(); err != nil {
		return nil, err
	}

	return zipBuf.Bytes(), nil
}

func (l *LambdaClient) updateFunction(function *FunctionConfig, code []byte) error {
	updateArgs := &lambda.UpdateFunctionCodeInput{
		ZipFile:      code,
		FunctionName: aws.String(function.Name),
	}

	_, err := l.Client.UpdateFunctionCode(updateArgs)
	return err
}

func (l *LambdaClient) updateFunctionSettings(function *FunctionConfig) error {
	updateArgs := &lambda.UpdateFunctionConfigurationInput{
		FunctionName: aws.String(function.Name),
		Role:         aws.String(function.RoleARN),
		Timeout:      aws.Int64(function.Timeout),
		MemorySize:   aws.Int64(function.MemorySize),
		Environment: &lambda.Environment{
			Variables: aws.StringMap(function.Environment),
		},
	}

	_, err := l.Client.UpdateFunctionConfiguration(updateArgs)
	return err
}

func (l *LambdaClient) createFunction(function *FunctionConfig, code []byte) error {
	funcCode := &lambda.FunctionCode{
		ZipFile: code,
	}

	createArgs := &lambda.CreateFunctionInput{
		Code:         funcCode,
		FunctionName: aws.String(function.Name),
		Handler:      aws.String("main"),
		Runtime:      aws.String(lambda.RuntimeGo1X),
		Role:         aws.String(function.RoleARN),
		Timeout:      aws.Int64(function.Timeout),
		MemorySize:   aws.Int64(function.MemorySize),
		Environment: &lambda.Environment{
			Variables: aws.StringMap(function.Environment),
		},
	}

	_, err := l.Client.CreateFunction(createArgs)
	return err
}

func (l *LambdaClient) getFunction(functionName string) (*lambda.GetFunctionOutput, error) {
	getInput := &lambda.GetFunctionInput{
		FunctionName: aws.String(functionName),
	}

	return l.Client.GetFunction(getInput)
}

// Invoke invokes the given Lambda function with the given payload, retrying
// when the function reports an error
func (l *LambdaClient) Invoke(functionName string, payload []byte) (outputPayload []byte, err error) {
	invokeInput := &lambda.InvokeInput{
		FunctionName: aws.String(functionName),
		Payload:      payload,
	}

	for try := 0; try <= MaxLambdaRetries; try++ {
		if try > 0 {
			log.Debugf("Retrying invocation of '%s' (attempt %d): %s", functionName, try+1, err)
		}

		output, invokeErr := l.Client.Invoke(invokeInput)
		if invokeErr != nil {
			err = invokeErr
			continue
		}
		if output.FunctionError != nil {
			err = fmt.Errorf("lambda function error (%s): %s", aws.StringValue(output.FunctionError), output.Payload)
			continue
		}
		return output.Payload, nil
	}

	return nil, err
}
