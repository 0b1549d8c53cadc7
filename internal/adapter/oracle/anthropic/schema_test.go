package anthropicoracle

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/cogtriangulate/internal/domain"
)

type scriptedOracle struct {
	responses []string
	calls     int
}

func (s *scriptedOracle) Call(_ domain.Context, _, _ string) (string, domain.Usage, error) {
	resp := s.responses[s.calls]
	if s.calls < len(s.responses)-1 {
		s.calls++
	}
	return resp, domain.Usage{PromptTokens: 10, CompletionTokens: 5}, nil
}

func TestExtractFirstJSONObject(t *testing.T) {
	js, ok := ExtractFirstJSONObject("here you go: {\"a\":1,\"b\":{\"c\":2}} thanks")
	require.True(t, ok)
	require.Equal(t, `{"a":1,"b":{"c":2}}`, js)

	_, ok = ExtractFirstJSONObject("no json here")
	require.False(t, ok)
}

func TestCleanJSONResponse_StripsMarkdownFence(t *testing.T) {
	cleaned := CleanJSONResponse("```json\n{\"a\":1}\n```")
	require.True(t, IsValidJSON(cleaned))
}

func TestCallWithSchemaRetry_SucceedsFirstTry(t *testing.T) {
	oracle := &scriptedOracle{responses: []string{`{"pois":[]}`}}
	validate := func(s string) error {
		if !IsValidJSON(s) {
			return domain.ErrSchemaInvalid
		}
		return nil
	}
	body, usage, err := CallWithSchemaRetry(nil, oracle, "sys", "usr", validate)
	require.NoError(t, err)
	require.Equal(t, `{"pois":[]}`, body)
	require.Equal(t, 10, usage.PromptTokens)
	require.Equal(t, 1, oracle.calls)
}

func TestCallWithSchemaRetry_RecoversOnSecondAttempt(t *testing.T) {
	oracle := &scriptedOracle{responses: []string{"not json at all", `{"pois":[]}`}}
	validate := func(s string) error {
		if !IsValidJSON(s) {
			return domain.ErrSchemaInvalid
		}
		return nil
	}
	body, usage, err := CallWithSchemaRetry(nil, oracle, "sys", "usr", validate)
	require.NoError(t, err)
	require.Equal(t, `{"pois":[]}`, body)
	require.Equal(t, 20, usage.PromptTokens)
}

func TestCallWithSchemaRetry_FailsAfterOneReparse(t *testing.T) {
	oracle := &scriptedOracle{responses: []string{"garbage", "still garbage"}}
	validate := func(s string) error {
		if !IsValidJSON(s) {
			return domain.ErrSchemaInvalid
		}
		return nil
	}
	_, _, err := CallWithSchemaRetry(nil, oracle, "sys", "usr", validate)
	require.Error(t, err)
	require.ErrorIs(t, err, domain.ErrSchemaInvalid)
}
