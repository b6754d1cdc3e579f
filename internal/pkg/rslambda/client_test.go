package rslambda

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/lambda"
	"github.com/aws/aws-sdk-go/service/lambda/lambdaiface"
	"github.com/stretchr/testify/assert"
)

type lambdaInvokerMock struct {
	lambdaiface.LambdaAPI
	invokeFailures int
	invokeCalls    int
	outputPayload  []byte
}

func (m *lambdaInvokerMock) Invoke(*lambda.InvokeInput) (*lambda.InvokeOutput, error) {
	m.invokeCalls++
	if m.invokeFailures > 0 {
		m.invokeFailures--
		return &lambda.InvokeOutput{
			FunctionError: aws.String("Unhandled"),
			Payload:       []byte(`{"errorMessage":"missing join operand"}`),
		}, nil
	}
	return &lambda.InvokeOutput{
		Payload: m.outputPayload,
	}, nil
}

type lambdaDeployMock struct {
	lambdaiface.LambdaAPI
	getFunctionOutput                 *lambda.GetFunctionOutput
	capturedCreateFunctionInput       *lambda.CreateFunctionInput
	capturedUpdateFunctionCodeInput   *lambda.UpdateFunctionCodeInput
	capturedUpdateFunctionConfigInput *lambda.UpdateFunctionConfigurationInput
	capturedDeleteFunctionInput       *lambda.DeleteFunctionInput
}

func (d *lambdaDeployMock) GetFunction(*lambda.GetFunctionInput) (*lambda.GetFunctionOutput, error) {
	return d.getFunctionOutput, nil
}

func (d *lambdaDeployMock) CreateFunction(input *lambda.CreateFunctionInput) (*lambda.FunctionConfiguration, error) {
	d.capturedCreateFunctionInput = input
	return nil, nil
}

func (d *lambdaDeployMock) UpdateFunctionCode(input *lambda.UpdateFunctionCodeInput) (*lambda.FunctionConfiguration, error) {
	d.capturedUpdateFunctionCodeInput = input
	return nil, nil
}

func (d *lambdaDeployMock) UpdateFunctionConfiguration(input *lambda.UpdateFunctionConfigurationInput) (*lambda.FunctionConfiguration, error) {
	d.capturedUpdateFunctionConfigInput = input
	return nil, nil
}

func (d *lambdaDeployMock) DeleteFunction(input *lambda.DeleteFunctionInput) (*lambda.DeleteFunctionOutput, error) {
	d.capturedDeleteFunctionInput = input
	return nil, nil
}

func stubPackage(t *testing.T, code []byte) {
	t.Helper()
	original := buildPackage
	buildPackage = func() ([]byte, error) { return code, nil }
	t.Cleanup(func() { buildPackage = original })
}

func codeDigest(code []byte) string {
	codeHash := sha256.New()
	codeHash.Write(code)
	return base64.StdEncoding.EncodeToString(codeHash.Sum(nil))
}

func TestFunctionNeedsUpdate(t *testing.T) {
	functionCode := []byte("function code")
	cfg := &lambda.FunctionConfiguration{CodeSha256: aws.String(codeDigest(functionCode))}

	assert.True(t, functionNeedsUpdate([]byte("not function code"), cfg))
	assert.False(t, functionNeedsUpdate(functionCode, cfg))
}

func TestConfigNeedsUpdate(t *testing.T) {
	function := &FunctionConfig{
		RoleARN:     "testARN",
		Timeout:     10,
		MemorySize:  1000,
		Environment: map[string]string{"RANKSTEP_BETA": "0.2"},
	}
	cfg := &lambda.FunctionConfiguration{
		Role:       aws.String("testARN"),
		Timeout:    aws.Int64(10),
		MemorySize: aws.Int64(1000),
		Environment: &lambda.EnvironmentResponse{
			Variables: aws.StringMap(map[string]string{"RANKSTEP_BETA": "0.2"}),
		},
	}
	assert.False(t, configNeedsUpdate(function, cfg))

	function.Environment["RANKSTEP_BETA"] = "0.15"
	assert.True(t, configNeedsUpdate(function, cfg))
}

func TestInvoke(t *testing.T) {
	client := &LambdaClient{
		&lambdaInvokerMock{
			outputPayload: []byte("payload"),
		},
	}

	output, err := client.Invoke("function", []byte("payload"))
	assert.Nil(t, err)
	assert.Equal(t, []byte("payload"), output)
}

func TestInvokeRetry(t *testing.T) {
	mock := &lambdaInvokerMock{
		invokeFailures: 2,
		outputPayload:  []byte("payload"),
	}
	client := &LambdaClient{mock}

	output, err := client.Invoke("function", []byte("payload"))
	assert.Nil(t, err)
	assert.Equal(t, []byte("payload"), output)
	assert.Equal(t, 3, mock.invokeCalls)
}

func TestInvokeOutOfTries(t *testing.T) {
	client := &LambdaClient{
		&lambdaInvokerMock{
			invokeFailures: MaxLambdaRetries + 1,
		},
	}

	_, err := client.Invoke("function", []byte("payload"))
	assert.NotNil(t, err)
	assert.Contains(t, err.Error(), "missing join operand")
}

func TestCreateFunction(t *testing.T) {
	stubPackage(t, []byte("code"))
	mock := &lambdaDeployMock{}
	client := &LambdaClient{mock}

	config := &FunctionConfig{
		Name:        "unitmul",
		RoleARN:     "testARN",
		Timeout:     10,
		MemorySize:  1000,
		Environment: map[string]string{"RANKSTEP_BETA": "0.2"},
	}

	err := client.DeployFunction(config)
	assert.Nil(t, err)

	input := mock.capturedCreateFunctionInput
	assert.Equal(t, "unitmul", *input.FunctionName)
	assert.Equal(t, "testARN", *input.Role)
	assert.Equal(t, int64(10), *input.Timeout)
	assert.Equal(t, int64(1000), *input.MemorySize)
	assert.Equal(t, []byte("code"), input.Code.ZipFile)
	assert.Equal(t, "0.2", *input.Environment.Variables["RANKSTEP_BETA"])
}

func TestUpdateFunction(t *testing.T) {
	stubPackage(t, []byte("new code"))
	mock := &lambdaDeployMock{
		getFunctionOutput: &lambda.GetFunctionOutput{
			Configuration: &lambda.FunctionConfiguration{
				CodeSha256: aws.String("sha"),
				Role:       aws.String("wrongARN"),
				Timeout:    aws.Int64(10),
				MemorySize: aws.Int64(1000),
			},
		},
	}
	client := &LambdaClient{mock}

	config := &FunctionConfig{
		Name:       "unitmul",
		RoleARN:    "testARN",
		Timeout:    10,
		MemorySize: 1000,
	}

	err := client.DeployFunction(config)
	assert.Nil(t, err)

	assert.Nil(t, mock.capturedCreateFunctionInput)
	assert.NotNil(t, mock.capturedUpdateFunctionCodeInput)
	assert.Equal(t, []byte("new code"), mock.capturedUpdateFunctionCodeInput.ZipFile)
	assert.Equal(t, "testARN", *mock.capturedUpdateFunctionConfigInput.Role)
}

func TestFunctionUpToDate(t *testing.T) {
	code := []byte("code")
	stubPackage(t, code)
	mock := &lambdaDeployMock{
		getFunctionOutput: &lambda.GetFunctionOutput{
			Configuration: &lambda.FunctionConfiguration{
				CodeSha256: aws.String(codeDigest(code)),
				Role:       aws.String("testARN"),
				Timeout:    aws.Int64(10),
				MemorySize: aws.Int64(1000),
			},
		},
	}
	client := &LambdaClient{mock}

	err := client.DeployFunction(&FunctionConfig{
		Name:       "unitmul",
		RoleARN:    "testARN",
		Timeout:    10,
		MemorySize: 1000,
	})
	assert.Nil(t, err)

	assert.Nil(t, mock.capturedCreateFunctionInput)
	assert.Nil(t, mock.capturedUpdateFunctionCodeInput)
	assert.Nil(t, mock.capturedUpdateFunctionConfigInput)
}

func TestDeleteFunction(t *testing.T) {
	mock := &lambdaDeployMock{}
	client := &LambdaClient{mock}

	err := client.DeleteFunction("function")
	assert.Nil(t, err)

	assert.Equal(t, "function", *mock.capturedDeleteFunctionInput.FunctionName)
}
