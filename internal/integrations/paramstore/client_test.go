package paramstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

// fakeAPI is a simple fake implementing ssmAPI for tests.
type fakeAPI struct {
	getOut *ssm.GetParameterOutput
	getErr error
}

func (f *fakeAPI) GetParameter(_ context.Context, _ *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	return f.getOut, f.getErr
}

func strPtr(s string) *string { return &s }

func TestGetParameter_HappyPath(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{
		Name: strPtr("p"), Value: strPtr(`{"k":"v"}`),
	}}}
	client, err := New(api)
	require.NoError(t, err)
	v, err := client.GetParameter(context.Background(), "p")
	require.NoError(t, err)
	require.Equal(t, `{"k":"v"}`, v)
}

func TestGetParameter_HappyPath_SecureString(t *testing.T) {
	typeStr := "SecureString"
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{
		Name: strPtr("p"), Value: strPtr(`{"k":"v"}`), Type: types.ParameterType(typeStr),
	}}}
	client, err := New(api)
	require.NoError(t, err)
	v, err := client.GetParameter(context.Background(), "p")
	require.NoError(t, err)
	require.Equal(t, `{"k":"v"}`, v)
}

func TestGetParameter_MissingValue(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: strPtr("p"), Value: nil}}}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing value")
}

func TestGetParameter_ApiError(t *testing.T) {
	api := &fakeAPI{getErr: errors.New("boom")}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.ErrorContains(t, err, "boom")
}

func TestGetParameter_ClientNotInitialized(t *testing.T) {
	_, err := (&Client{}).GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not initialized")
}

func TestGetParameter_EmptyName(t *testing.T) {
	api := &fakeAPI{}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "  ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "required")
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

// ---------------------------------------------------------------------------
// FetchToken / TokenSource
// ---------------------------------------------------------------------------

type fakeGetter struct {
	val   string
	err   error
	calls int
}

func (f *fakeGetter) GetParameter(_ context.Context, _ string) (string, error) {
	f.calls++
	return f.val, f.err
}

func TestFetchToken_JSONToken(t *testing.T) {
	token, err := FetchToken(context.Background(), &fakeGetter{val: `{"token":"sk-from-json"}`}, "/triage-agent/open-ai-token")
	require.NoError(t, err)
	require.Equal(t, "sk-from-json", token)
}

func TestFetchToken_Errors(t *testing.T) {
	cases := []struct {
		name   string
		getter Getter
		param  string
		want   string
	}{
		{"nil getter", nil, "/p", "getter is nil"},
		{"empty name", &fakeGetter{}, " ", "name is empty"},
		{"getter error", &fakeGetter{err: errors.New("ssm unavailable")}, "/p", "ssm unavailable"},
		{"malformed json", &fakeGetter{val: `{"broken`}, "/p", "unmarshal"},
		{"missing token", &fakeGetter{val: `{"other":"value"}`}, "/p", "is empty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FetchToken(context.Background(), tc.getter, tc.param)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestTokenSource_FetchesOnce(t *testing.T) {
	g := &fakeGetter{val: `{"token":"sk-cached"}`}
	src, err := NewTokenSource(g, "/triage-agent/open-ai-token")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		token, err := src.Token(context.Background())
		require.NoError(t, err)
		require.Equal(t, "sk-cached", token)
	}
	require.Equal(t, 1, g.calls, "SSM must only be called once per process lifetime")
	require.Equal(t, "/triage-agent/open-ai-token", src.Name())
}

func TestNewTokenSource_Validates(t *testing.T) {
	_, err := NewTokenSource(nil, "/p")
	require.Error(t, err)
	_, err = NewTokenSource(&fakeGetter{}, "  ")
	require.Error(t, err)
}

func TestStaticToken(t *testing.T) {
	token, err := StaticToken("abc").Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "abc", token)

	_, err = StaticToken(" ").Token(context.Background())
	require.Error(t, err)
}
