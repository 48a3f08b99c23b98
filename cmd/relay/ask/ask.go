package askcmder

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/papercomputeco/pitchrelay/pkg/llm"
)

const askLongDesc string = `Ask a running relay for feedback.

With text, the relay answers as a general audience member. With --steps,
the outline in the given TOML file is sent as a reordered structure:

  [[steps]]
  position = 1
  name = "Hook"
  description = "Open with the problem"

The reply is rendered as markdown on a terminal and printed plain
otherwise. Use --raw to print the upstream JSON as received.

Examples:
  relay ask "Perovskite cells convert sunlight more cheaply than silicon."
  relay ask --steps outline.toml --server http://10.30.9.1:5000`

const askShortDesc string = "Ask a relay for feedback"

const defaultServer = "http://localhost:5000"

type askCommander struct {
	server    string
	stepsPath string
	raw       bool
	timeout   time.Duration
}

type stepsFile struct {
	Steps []llm.Step `toml:"steps"`
}

// completion is the part of an OpenAI-style completion the command renders.
type completion struct {
	Choices []struct {
		Message llm.Message `json:"message"`
	} `json:"choices"`
}

func NewAskCmd() *cobra.Command {
	cmder := &askCommander{}

	cmd := &cobra.Command{
		Use:   "ask [text]",
		Short: askShortDesc,
		Long:  askLongDesc,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd, args)
		},
	}

	cmd.Flags().StringVar(&cmder.server, "server", defaultServer, "Relay base URL")
	cmd.Flags().StringVar(&cmder.stepsPath, "steps", "", "TOML file with the reordered presentation steps")
	cmd.Flags().BoolVar(&cmder.raw, "raw", false, "Print the JSON response as received")
	cmd.Flags().DurationVar(&cmder.timeout, "timeout", 2*time.Minute, "How long to wait for the relay")

	return cmd
}

func (c *askCommander) run(cmd *cobra.Command, args []string) error {
	req, err := c.buildRequest(args)
	if err != nil {
		return err
	}

	body, err := c.post(req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if c.raw {
		_, err := fmt.Fprintln(out, string(body))
		return err
	}

	var reply completion
	if err := json.Unmarshal(body, &reply); err != nil || len(reply.Choices) == 0 {
		// Not an OpenAI-style completion, show it as is
		_, err := fmt.Fprintln(out, string(body))
		return err
	}

	return render(out, reply.Choices[0].Message.Content)
}

func (c *askCommander) buildRequest(args []string) (*llm.ConversionRequest, error) {
	if c.stepsPath != "" {
		var file stepsFile
		if _, err := toml.DecodeFile(c.stepsPath, &file); err != nil {
			return nil, fmt.Errorf("could not read steps file %s: %w", c.stepsPath, err)
		}
		if len(file.Steps) == 0 {
			return nil, fmt.Errorf("steps file %s has no [[steps]] entries", c.stepsPath)
		}
		return &llm.ConversionRequest{Text: llm.StepsReorderedText, Steps: file.Steps}, nil
	}

	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return nil, errors.New("text or --steps is required")
	}
	return &llm.ConversionRequest{Text: args[0]}, nil
}

func (c *askCommander) post(req *llm.ConversionRequest) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("could not marshal request: %w", err)
	}

	url := strings.TrimRight(c.server, "/") + "/convert"
	client := &http.Client{Timeout: c.timeout}
	resp, err := client.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp llm.ErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
			return nil, fmt.Errorf("relay returned %d: %s", resp.StatusCode, errResp.Error)
		}
		return nil, fmt.Errorf("relay returned %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// render prints markdown through glamour when out is a terminal.
func render(out io.Writer, content string) error {
	f, ok := out.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		_, err := fmt.Fprintln(out, content)
		return err
	}

	width := 80
	if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
		width = w
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return fmt.Errorf("could not create renderer: %w", err)
	}

	rendered, err := renderer.Render(content)
	if err != nil {
		return fmt.Errorf("could not render reply: %w", err)
	}
	_, err = fmt.Fprint(out, rendered)
	return err
}
