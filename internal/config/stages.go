package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrUnknownStage is returned when a stages file names a stage the pipeline
// does not have.
var ErrUnknownStage = errors.New("unknown stage")

// StageNames lists the pipeline stages in execution order.
var StageNames = []string{"ingest", "transcribe", "script", "timeline", "render"}

// Stage describes how one pipeline stage is executed.
type Stage struct {
	// Command is the argv of the stage executable. Arguments may contain
	// {source}, {output}, {workdir}, {project} and {stage}.
	Command []string `yaml:"command"`
	// Timeout overrides the global per-stage timeout when positive.
	Timeout time.Duration `yaml:"timeout"`
	// Env is added to the executable's environment.
	Env map[string]string `yaml:"env"`
}

// Stages maps stage names to their definitions.
type Stages map[string]Stage

type stagesFile struct {
	Stages map[string]Stage `yaml:"stages"`
}

// DefaultStages runs reelqueue-<stage> from PATH for every stage.
func DefaultStages() Stages {
	out := make(Stages, len(StageNames))
	for _, name := range StageNames {
		out[name] = Stage{
			Command: []string{"reelqueue-" + name, "--source", "{source}", "--output", "{output}", "--project", "{project}"},
		}
	}
	return out
}

// LoadStages reads stage definitions from path. A missing file yields
// DefaultStages; stages absent from the file keep their defaults.
func LoadStages(path string) (Stages, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultStages(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read stages file: %w", err)
	}
	stages, err := ParseStages(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return stages, nil
}

// ParseStages decodes a stages document of the form
//
//	stages:
//	  render:
//	    command: ["ffmpeg-render", "{workdir}", "{output}"]
//	    timeout: 2h
//	    env: {PRESET: fast}
func ParseStages(r io.Reader) (Stages, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc stagesFile
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	out := DefaultStages()
	for _, name := range slices.Sorted(maps.Keys(doc.Stages)) {
		if !slices.Contains(StageNames, name) {
			return nil, fmt.Errorf("%w: %q (want one of %s)", ErrUnknownStage, name, strings.Join(StageNames, ", "))
		}
		st := doc.Stages[name]
		if len(st.Command) == 0 {
			return nil, fmt.Errorf("stage %s: command is required", name)
		}
		if st.Timeout < 0 {
			return nil, fmt.Errorf("stage %s: negative timeout %s", name, st.Timeout)
		}
		out[name] = st
	}
	return out, nil
}

// Timeouts returns the stages that override the global stage timeout.
func (s Stages) Timeouts() map[string]time.Duration {
	out := make(map[string]time.Duration)
	for name, st := range s {
		if st.Timeout > 0 {
			out[name] = st.Timeout
		}
	}
	return out
}
