package config

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSecrets struct {
	values map[string]string
	calls  []string
}

func (f *fakeSecrets) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	id := aws.ToString(in.SecretId)
	f.calls = append(f.calls, id)
	v, ok := f.values[id]
	if !ok {
		return nil, errors.New("ResourceNotFoundException")
	}
	if v == "" {
		return &secretsmanager.GetSecretValueOutput{SecretBinary: []byte{1}}, nil
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(v)}, nil
}

func TestResolvePlainValue(t *testing.T) {
	r := &Resolver{}
	val, err := r.Resolve(context.Background(), "plaintext")
	require.NoError(t, err)
	assert.Equal(t, "plaintext", val)
	assert.False(t, HasSecretRef("plaintext"))
}

func TestResolveEnvSecret(t *testing.T) {
	t.Setenv("TEST_SECRET", "mysecret")

	val, err := (&Resolver{}).Resolve(context.Background(), "${ENV:TEST_SECRET}")
	require.NoError(t, err)
	assert.Equal(t, "mysecret", val)
}

func TestResolveEmbeddedReferences(t *testing.T) {
	t.Setenv("DB_USER", "admin")
	sm := &fakeSecrets{values: map[string]string{"prod/db": "pw"}}

	val, err := (&Resolver{SecretsManager: sm}).Resolve(context.Background(), "user=${ENV:DB_USER};pass=${AWS_SM:prod/db}")
	require.NoError(t, err)
	assert.Equal(t, "user=admin;pass=pw", val)
	assert.Equal(t, []string{"prod/db"}, sm.calls)
}

func TestResolveEnvMissing(t *testing.T) {
	t.Setenv("MISSING_SECRET", "")
	_, err := (&Resolver{}).Resolve(context.Background(), "${ENV:MISSING_SECRET}")
	require.Error(t, err)
}

func TestResolveAWSSM(t *testing.T) {
	sm := &fakeSecrets{values: map[string]string{"bin": ""}}
	r := &Resolver{SecretsManager: sm}

	_, err := r.Resolve(context.Background(), "${AWS_SM:nonexistent}")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `getting secret "nonexistent"`)

	_, err = r.Resolve(context.Background(), "${AWS_SM:bin}")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "binary secrets not supported")
}
