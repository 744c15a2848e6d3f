package config

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSSMClient struct {
	batches [][]string
	values  map[string]string
	err     error
}

func (m *mockSSMClient) GetParameters(_ context.Context, in *ssm.GetParametersInput, _ ...func(*ssm.Options)) (*ssm.GetParametersOutput, error) {
	m.batches = append(m.batches, in.Names)
	if m.err != nil {
		return nil, m.err
	}
	out := &ssm.GetParametersOutput{}
	for _, name := range in.Names {
		if v, ok := m.values[name]; ok {
			out.Parameters = append(out.Parameters, ssmtypes.Parameter{Name: aws.String(name), Value: aws.String(v)})
		} else {
			out.InvalidParameters = append(out.InvalidParameters, name)
		}
	}
	return out, nil
}

func TestSSMProviderBatchesByTen(t *testing.T) {
	values := make(map[string]string)
	var keys []string
	for i := 0; i < 23; i++ {
		k := fmt.Sprintf("/prod/push/p%02d", i)
		keys = append(keys, k)
		values[k] = fmt.Sprintf("v%02d", i)
	}
	client := &mockSSMClient{values: values}
	p := newSSMProviderWithClient("us-east-1", client)

	got, err := p.GetParametersBatch(context.Background(), keys)
	require.NoError(t, err)
	assert.Len(t, got, 23)
	require.Len(t, client.batches, 3)
	assert.Len(t, client.batches[0], 10)
	assert.Len(t, client.batches[2], 3)
	assert.Equal(t, "v07", got["/prod/push/p07"])
}

func TestSSMProviderErrors(t *testing.T) {
	p := newSSMProviderWithClient("us-east-1", &mockSSMClient{values: map[string]string{}})
	_, err := p.GetParametersBatch(context.Background(), []string{"/prod/push/missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	p = newSSMProviderWithClient("us-east-1", &mockSSMClient{err: errors.New("throttled")})
	_, err = p.GetParametersBatch(context.Background(), []string{"/prod/push/a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = newSSMProviderWithClient("us-east-1", &mockSSMClient{}).GetParametersBatch(ctx, []string{"/a"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestSSMProviderEmptyKeys(t *testing.T) {
	got, err := NewSSMProvider("us-east-1").GetParametersBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}
