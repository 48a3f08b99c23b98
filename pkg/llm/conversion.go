package llm

// StepsReorderedText is the sentinel text a client sends together with a
// non-empty step list to ask for feedback on presentation structure.
const StepsReorderedText = "steps_reordered"

// ConversionRequest is the body accepted by the relay's convert endpoint.
type ConversionRequest struct {
	Text  string `json:"text"`
	Steps []Step `json:"steps,omitempty"`
}

// Step is one entry of a presentation outline.
type Step struct {
	Position    int    `json:"position" toml:"position"`
	Name        string `json:"name" toml:"name"`
	Description string `json:"description" toml:"description"`
}

// IsStepsReordered reports whether the request asks for structure feedback.
func (r *ConversionRequest) IsStepsReordered() bool {
	return r.Text == StepsReorderedText && len(r.Steps) > 0
}
