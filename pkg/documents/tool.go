package documents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/teslashibe/go-callbridge/pkg/conversation"
)

// ReadDocumentName is the tool name offered to the model.
const ReadDocumentName = "read_document"

type readDocumentArgs struct {
	DocumentName string `json:"document_name"`
	Instruction  string `json:"instruction"`
}

type readDocumentResult struct {
	Content     string `json:"content,omitempty"`
	Instruction string `json:"instruction,omitempty"`
	Error       string `json:"error,omitempty"`
}

// ReadDocumentTool exposes r to the model. A missing or invalid document is
// reported back to the model rather than failing the turn.
func ReadDocumentTool(r Reader) conversation.Tool {
	return conversation.Tool{
		Name: ReadDocumentName,
		Description: "Read a company document, such as a policy, product sheet or procedure, " +
			"and follow the instruction for how to use it in the answer.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"document_name": map[string]any{
					"type":        "string",
					"description": "File name of the document, for example 'returns.md', or 'gdoc:<id>' for a Google Doc.",
				},
				"instruction": map[string]any{
					"type":        "string",
					"description": "What to look for in the document.",
				},
			},
			"required": []string{"document_name", "instruction"},
		},
		Say: "Let me look that up for you.",
		Handler: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var args readDocumentArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return "", fmt.Errorf("documents: decode arguments: %w", err)
			}

			res := readDocumentResult{Instruction: args.Instruction}
			content, err := r.Read(ctx, args.DocumentName)
			switch {
			case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidName), errors.Is(err, ErrNoSource):
				res.Error = fmt.Sprintf("document %q is not available", args.DocumentName)
			case err != nil:
				return "", err
			default:
				res.Content = content
			}

			out, err := json.Marshal(res)
			if err != nil {
				return "", err
			}
			return string(out), nil
		},
	}
}
