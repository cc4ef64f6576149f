package nodes

import (
	"context"

	"github.com/fluxus-dev/fluxus/internal/llm"
	"github.com/fluxus-dev/fluxus/pkg/catalog"
	"github.com/fluxus-dev/fluxus/pkg/schema"
)

// chatExecutor sends a prompt to the model, streaming partial text through
// the progress callback as it arrives.
type chatExecutor struct {
	client llm.Client
}

func chatFactory(client llm.Client) catalog.Factory {
	return func(catalog.ExecContext) (catalog.NodeExecutor, error) {
		if client == nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "no language model configured")
		}
		return &chatExecutor{client: client}, nil
	}
}

func (e *chatExecutor) Execute(ctx context.Context, params map[string]any, progress catalog.ProgressFunc) (map[string]any, error) {
	prompt, err := stringParam(params, "prompt")
	if err != nil {
		return nil, err
	}
	system, err := optionalStringParam(params, "system", "")
	if err != nil {
		return nil, err
	}

	var messages []llm.Message
	if system != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: system})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: prompt})

	text, err := e.client.Stream(ctx, messages, func(delta string) {
		if progress != nil {
			progress(map[string]any{"delta": delta})
		}
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"text": text}, nil
}
