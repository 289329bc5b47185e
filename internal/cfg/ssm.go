package cfg

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/robb-j/husky-cms/internal/xerrors"
)

// SSMAPI is the subset of *ssm.Client used to resolve secrets.
type SSMAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, opts ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// ResolveSSMSecret reads a (possibly SecureString) parameter and returns its
// trimmed value. Empty values are an error.
func ResolveSSMSecret(ctx context.Context, client SSMAPI, param string) (string, error) {
	if param == "" {
		return "", xerrors.New("ssm parameter name is empty")
	}
	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(param),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get ssm parameter %s", param)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("ssm parameter %s has no value", param)
	}
	v := strings.TrimSpace(*out.Parameter.Value)
	if v == "" {
		return "", xerrors.Newf("ssm parameter %s is empty", param)
	}
	return v, nil
}
