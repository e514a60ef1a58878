package postprocess

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"text/template"
	"time"

	"github.com/mentat25/Metrix/pkg/config"
	"github.com/mentat25/Metrix/pkg/run"
	"github.com/sirupsen/logrus"
)

// maxLoggedOutput caps how much command output ends up in an error.
const maxLoggedOutput = 4096

// commandData is what argument templates can reference.
type commandData struct {
	RunDirectory string
	RunID        string
	Flowcell     string
}

// Command runs an external program, typically demultiplexing, for each
// finished run.
type Command struct {
	log     logrus.FieldLogger
	path    string
	args    []*template.Template
	timeout time.Duration
}

// Ensure interface compliance.
var _ Trigger = (*Command)(nil)

// NewCommand parses the argument templates of cfg.
func NewCommand(log logrus.FieldLogger, cfg *config.CommandConfig) (*Command, error) {
	timeout, err := cfg.TimeoutDuration()
	if err != nil {
		return nil, err
	}

	args := make([]*template.Template, 0, len(cfg.Args))

	for i, arg := range cfg.Args {
		tmpl, err := template.New(fmt.Sprintf("arg%d", i)).Option("missingkey=error").Parse(arg)
		if err != nil {
			return nil, fmt.Errorf("parsing command argument %d: %w", i, err)
		}

		args = append(args, tmpl)
	}

	return &Command{
		log:     log.WithField("component", "command-trigger"),
		path:    cfg.Path,
		args:    args,
		timeout: timeout,
	}, nil
}

func (c *Command) Name() string {
	return "command"
}

// Run executes the command with its arguments rendered for s.
func (c *Command) Run(ctx context.Context, s *run.Summary) error {
	args, err := c.render(s)
	if err != nil {
		return err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	log := c.log.WithFields(logrus.Fields{
		"run_id":  s.RunID,
		"command": c.path,
	})
	log.WithField("args", args).Debug("Running post-processing command")

	cmd := exec.CommandContext(ctx, c.path, args...)
	cmd.Dir = run.RootDirectory(s.RunDirectory)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("running %s: %w: %s", c.path, err, truncate(output))
	}

	log.Info("Post-processing command completed")

	return nil
}

func (c *Command) render(s *run.Summary) ([]string, error) {
	data := commandData{
		RunDirectory: run.RootDirectory(s.RunDirectory),
		RunID:        s.RunID,
		Flowcell:     s.Flowcell,
	}

	args := make([]string, 0, len(c.args))

	for i, tmpl := range c.args {
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return nil, fmt.Errorf("rendering command argument %d: %w", i, err)
		}

		args = append(args, buf.String())
	}

	return args, nil
}

func truncate(output []byte) string {
	s := strings.TrimSpace(string(output))
	if len(s) > maxLoggedOutput {
		return s[:maxLoggedOutput] + "..."
	}

	return s
}
