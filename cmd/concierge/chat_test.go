package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweetpotato0/ai-concierge/agent"
	"github.com/sweetpotato0/ai-concierge/agent/qa"
	"github.com/sweetpotato0/ai-concierge/classifier"
	"github.com/sweetpotato0/ai-concierge/dispatch"
	"github.com/sweetpotato0/ai-concierge/llm/llmtest"
	"github.com/sweetpotato0/ai-concierge/pkg/logging"
	"github.com/sweetpotato0/ai-concierge/retriever"
)

type echoAgent struct{ id agent.ID }

func (e echoAgent) ID() agent.ID { return e.id }

func (e echoAgent) Invoke(_ context.Context, query string) (*agent.Output, error) {
	return &agent.Output{Result: string(e.id) + " handled " + query}, nil
}

func newChatApp(t *testing.T) *app {
	t.Helper()
	model := llmtest.New(
		llmtest.Rule{Match: "Request: when is rubbish collected", Reply: "question"},
		llmtest.Rule{Match: "Reply to the user in one or two short sentences", Reply: "Rubbish goes out on Tuesday mornings."},
		llmtest.Rule{Match: "Question: when is rubbish collected", Reply: "Tuesday mornings."},
	)

	agents, err := agent.NewRegistry(
		qa.New(model, retriever.NewKeyword(defaultKnowledge())),
		echoAgent{agent.Control},
		echoAgent{agent.Navigation},
		echoAgent{agent.Media},
	)
	require.NoError(t, err)
	categories := agent.DefaultCategories()
	cls, err := classifier.New(model, categories.Categories())
	require.NoError(t, err)
	manager, err := dispatch.New(cls, categories, agents, model, dispatch.WithLogger(logging.Nop()))
	require.NoError(t, err)
	return &app{logger: logging.Nop(), manager: manager}
}

func TestChatREPL(t *testing.T) {
	a := newChatApp(t)

	cmd := &cobra.Command{}
	cmd.Flags().String("thread", "repl", "")
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader("when is rubbish collected\n\n/retry\n/quit\nnever read\n"))

	require.NoError(t, chat(context.Background(), cmd, a))

	assert.Equal(t, 2, strings.Count(out.String(), "[qa] Rubbish goes out on Tuesday mornings."))
	assert.NotContains(t, out.String(), "never read")
	assert.Empty(t, errOut.String())

	st, err := a.manager.State(context.Background(), "repl")
	require.NoError(t, err)
	assert.Equal(t, 2, st.Turn)
}

func TestChatReportsErrorsAndContinues(t *testing.T) {
	a := newChatApp(t)

	cmd := &cobra.Command{}
	cmd.Flags().String("thread", "fresh", "")
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	// Retry before any turn has run is rejected, and the loop keeps reading.
	cmd.SetIn(strings.NewReader("/retry\nwhen is rubbish collected\n"))

	require.NoError(t, chat(context.Background(), cmd, a))
	assert.Contains(t, errOut.String(), "error:")
	assert.Contains(t, out.String(), "[qa] Rubbish goes out on Tuesday mornings.")
}
