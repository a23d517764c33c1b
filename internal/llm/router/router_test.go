package router

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "Agent-Arena/internal/errors"
	"Agent-Arena/internal/llm"
)

type namedProvider struct{ key string }

func (p namedProvider) Name() string { return p.key }

func (p namedProvider) Think(context.Context, llm.Request) (*llm.Decision, error) {
	return llm.ReasoningOnly(p.key, 0), nil
}

func names(chain []llm.Provider) []string {
	out := make([]string, 0, len(chain))
	for _, p := range chain {
		out = append(out, p.Name())
	}
	return out
}

func fakeFactory(broken ...string) Factory {
	return func(m Model) (llm.Provider, error) {
		for _, b := range broken {
			if b == m.Key {
				return nil, errors.New("missing credential")
			}
		}
		return namedProvider{key: m.Key}, nil
	}
}

func TestResolvePrimaryFirstDeduplicated(t *testing.T) {
	r := New(Credentials{}, WithFactory(fakeFactory()))

	chain, err := r.Resolve("gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, []string{"gpt-4o", "claude-sonnet", "gemini-2-flash"}, names(chain))

	chain, err = r.Resolve("claude-opus")
	require.NoError(t, err)
	assert.Equal(t, []string{"claude-opus", "claude-sonnet", "gpt-4o", "gemini-2-flash"}, names(chain))
}

func TestResolveSkipsUnconstructible(t *testing.T) {
	r := New(Credentials{}, WithFactory(fakeFactory("claude-sonnet", "gemini-2-flash")))
	chain, err := r.Resolve("claude-sonnet")
	require.NoError(t, err)
	assert.Equal(t, []string{"gpt-4o"}, names(chain))
}

func TestResolveUnknownKey(t *testing.T) {
	r := New(Credentials{}, WithFactory(fakeFactory()))
	_, err := r.Resolve("llama-70b")
	require.Error(t, err)
	assert.Equal(t, llm.CodeUnknownModel, xerrors.CodeOf(err))
}

func TestResolveEmptyChainIsFatal(t *testing.T) {
	r := New(Credentials{})
	_, err := r.Resolve("claude-sonnet")
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeInitializationFailure, xerrors.CodeOf(err))
}

func TestConstructWithCredentials(t *testing.T) {
	r := New(Credentials{
		Anthropic: ProviderConfig{APIKey: "a"},
		Gemini:    ProviderConfig{APIKey: "g"},
	})
	chain, err := r.Resolve("gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, []string{"anthropic", "gemini"}, names(chain))

	completer, err := r.Completer("claude-sonnet")
	require.NoError(t, err)
	assert.NotNil(t, completer)
}
