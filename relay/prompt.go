package relay

import (
	"errors"
	"fmt"
	"strings"

	"github.com/papercomputeco/pitchrelay/pkg/llm"
)

// ErrNoText is returned when a request carries neither text nor a reordered
// step list.
var ErrNoText = errors.New("No text provided")

const structurePersona = "You are helping to analyze the structure of a 3MT presentation."

const audiencePersona = `You are acting as a general audience member who is not familiar with the topic.
Your role is to:
1. Ask clarifying questions if something is unclear
2. Point out parts that are hard to understand
3. Suggest where more explanation might be needed
4. Help make the explanation more accessible to a general audience

Keep your responses conversational and focused on understanding the topic better.`

const (
	structureTemplate = "The steps have been reordered to:\n\n%s\n\nPlease provide feedback on this structure."
	audienceTemplate  = "Here's the topic I'm explaining:\n\n%s\n\nAs someone unfamiliar with this topic, what questions or suggestions do you have?"
)

// RenderSteps renders steps as numbered lines in the order given.
// Positions are printed as received, duplicates and gaps included.
func RenderSteps(steps []llm.Step) string {
	lines := make([]string, 0, len(steps))
	for _, step := range steps {
		lines = append(lines, fmt.Sprintf("%d. %s: %s", step.Position, step.Name, step.Description))
	}
	return strings.Join(lines, "\n")
}

// BuildPrompt selects the structure or audience feedback template for req and
// returns the two-message chat request to send upstream.
func BuildPrompt(req *llm.ConversionRequest, model string) (*llm.ChatRequest, error) {
	var persona, content string

	switch {
	case req.IsStepsReordered():
		persona = structurePersona
		content = fmt.Sprintf(structureTemplate, RenderSteps(req.Steps))
	case req.Text != "":
		persona = audiencePersona
		content = fmt.Sprintf(audienceTemplate, req.Text)
	default:
		return nil, ErrNoText
	}

	return &llm.ChatRequest{
		Model: model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: persona},
			{Role: llm.RoleUser, Content: content},
		},
	}, nil
}
