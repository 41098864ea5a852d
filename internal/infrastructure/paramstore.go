package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmAPI is the minimal AWS SSM interface required by ParamStore.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParametersByPath(ctx context.Context, in *ssm.GetParametersByPathInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersByPathOutput, error)
}

// ParamStore loads bot settings from every parameter under a path prefix.
// "/support-flow/prod/apology_message" yields key "apology_message".
type ParamStore struct {
	api    ssmAPI
	prefix string
}

func NewParamStore(api ssmAPI, prefix string) (*ParamStore, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return nil, errors.New("paramstore: prefix must not be empty")
	}
	return &ParamStore{api: api, prefix: prefix}, nil
}

// NewParamStoreFromEnv builds a ParamStore using the default AWS credential
// chain.
func NewParamStoreFromEnv(ctx context.Context, prefix string) (*ParamStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("paramstore: load aws config: %w", err)
	}
	return NewParamStore(ssm.NewFromConfig(cfg), prefix)
}

func (p *ParamStore) Name() string {
	return "ssm:" + p.prefix
}

// Load returns all parameters under the prefix, following pagination.
func (p *ParamStore) Load(ctx context.Context) (map[string]string, error) {
	values := make(map[string]string)
	in := &ssm.GetParametersByPathInput{
		Path:           aws.String(p.prefix + "/"),
		Recursive:      aws.Bool(true),
		WithDecryption: aws.Bool(true),
	}
	for {
		out, err := p.api.GetParametersByPath(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("paramstore: get parameters by path %q: %w", p.prefix, err)
		}
		if out == nil {
			break
		}
		for _, param := range out.Parameters {
			if param.Name == nil || param.Value == nil {
				continue
			}
			values[path.Base(*param.Name)] = *param.Value
		}
		if out.NextToken == nil || *out.NextToken == "" {
			break
		}
		in.NextToken = out.NextToken
	}
	return values, nil
}
