package rsiam

import (
	"net/url"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/iam"
	"github.com/aws/aws-sdk-go/service/iam/iamiface"
	log "github.com/sirupsen/logrus"
)

// IAMClient manages the role and inline policy assumed by rank step
// Lambda workers
type IAMClient struct {
	iamiface.IAMAPI
}

// AssumePolicyDocument lets the Lambda service assume the worker role
const AssumePolicyDocument = `{
  "Version": "2012-10-17",
  "Statement": [
    {
      "Sid": "",
      "Effect": "Allow",
      "Principal": {
        "Service": [
          "lambda.amazonaws.com"
        ]
      },
      "Action": "sts:AssumeRole"
    }
  ]
}`

// AttachPolicyDocument grants workers access to S3 and CloudWatch logs
const AttachPolicyDocument = `{
    "Version": "2012-10-17",
    "Statement": [
        {
            "Effect": "Allow",
            "Action": [
                "logs:CreateLogGroup",
                "logs:CreateLogStream",
                "logs:PutLogEvents"
            ],
            "Resource": "arn:aws:logs:*:*:*"
        },
        {
            "Effect": "Allow",
            "Action": [
                "s3:*"
            ],
            "Resource": "arn:aws:s3:::*"
        }
    ]
}`

const rankstepPolicyName = "rankstep-permissions"

// documentsEqual compares a policy document returned by IAM, which is URL
// encoded, with a local one
func documentsEqual(remote *string, local string) bool {
	decoded, err := url.QueryUnescape(aws.StringValue(remote))
	if err != nil {
		return false
	}
	return decoded == local
}

func (iamClient *IAMClient) deployRole(roleName string) (roleARN string, err error) {
	getParams := &iam.GetRoleInput{
		RoleName: aws.String(roleName),
	}
	exists, err := iamClient.GetRole(getParams)

	if exists != nil && err == nil {
		if !documentsEqual(exists.Role.AssumeRolePolicyDocument, AssumePolicyDocument) {
			log.Debugf("Updating assume role policy of IAM role '%s'", roleName)
			updateParams := &iam.UpdateAssumeRolePolicyInput{
				RoleName:       aws.String(roleName),
				PolicyDocument: aws.String(AssumePolicyDocument),
			}
			if _, err := iamClient.UpdateAssumeRolePolicy(updateParams); err != nil {
				return "", err
			}
		}
		log.Debugf("IAM Role '%s' already exists", roleName)
		return aws.StringValue(exists.Role.Arn), nil
	}

	createParams := &iam.CreateRoleInput{
		AssumeRolePolicyDocument: aws.String(AssumePolicyDocument),
		RoleName:                 aws.String(roleName),
	}
	log.Debugf("Creating IAM role '%s'", roleName)
	role, err := iamClient.CreateRole(createParams)
	if err != nil {
		return "", err
	}
	return aws.StringValue(role.Role.Arn), nil
}

func (iamClient *IAMClient) deployPolicy(roleName string) error {
	getParams := &iam.GetRolePolicyInput{
		RoleName:   aws.String(roleName),
		PolicyName: aws.String(rankstepPolicyName),
	}

	exists, err := iamClient.GetRolePolicy(getParams)
	if exists != nil && err == nil && documentsEqual(exists.PolicyDocument, AttachPolicyDocument) {
		log.Debugf("Policy '%s' already exists", rankstepPolicyName)
		return nil
	}

	putParams := &iam.PutRolePolicyInput{
		PolicyName:     aws.String(rankstepPolicyName),
		PolicyDocument: aws.String(AttachPolicyDocument),
		RoleName:       aws.String(roleName),
	}

	log.Debugf("Putting policy '%s'", rankstepPolicyName)
	_, err = iamClient.PutRolePolicy(putParams)
	return err
}

// DeployPermissions creates or updates the worker role and its policy,
// returning the role's ARN
func (iamClient *IAMClient) DeployPermissions(roleName string) (roleARN string, err error) {
	roleARN, err = iamClient.deployRole(roleName)
	if err != nil {
		return roleARN, err
	}

	err = iamClient.deployPolicy(roleName)

	return roleARN, err
}

// DeletePermissions removes the worker role and its policy
func (iamClient *IAMClient) DeletePermissions(roleName string) error {
	deletePolicyParams := &iam.DeleteRolePolicyInput{
		RoleName:   aws.String(roleName),
		PolicyName: aws.String(rankstepPolicyName),
	}
	if _, err := iamClient.DeleteRolePolicy(deletePolicyParams); err != nil {
		return err
	}

	deleteRoleParams := &iam.DeleteRoleInput{
		RoleName: aws.String(roleName),
	}
	_, err := iamClient.DeleteRole(deleteRoleParams)
	return err
}

// NewIAMClient initializes a new IAMClient
func NewIAMClient() *IAMClient {
	sess := session.Must(session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	}))
	return &IAMClient{
		iam.New(sess),
	}
}
