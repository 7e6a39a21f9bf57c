// Package envelope renders the uniform result wrapper every surface
// returns: a versioned object whose ok flag mirrors the error list, with
// data always present as an object.
package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/liqiongyu/agentpack/internal/apperr"
	"github.com/liqiongyu/agentpack/internal/version"
)

// SchemaVersion is the envelope schema.
const SchemaVersion = 1

// ErrorObj is one surfaced error.
type ErrorObj struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Envelope is the uniform result wrapper.
type Envelope struct {
	SchemaVersion int            `json:"schema_version"`
	OK            bool           `json:"ok"`
	Command       string         `json:"command"`
	CommandID     string         `json:"command_id,omitempty"`
	CommandPath   []string       `json:"command_path,omitempty"`
	Version       string         `json:"version"`
	Data          map[string]any `json:"data"`
	Warnings      []string       `json:"warnings"`
	Errors        []ErrorObj     `json:"errors"`
}

// New creates an empty successful envelope for a command.
func New(command string, commandPath ...string) *Envelope {
	return &Envelope{
		SchemaVersion: SchemaVersion,
		OK:            true,
		Command:       command,
		CommandID:     uuid.NewString(),
		CommandPath:   commandPath,
		Version:       version.Version,
		Data:          map[string]any{},
		Warnings:      []string{},
		Errors:        []ErrorObj{},
	}
}

// Succeed sets the data object and returns the envelope.
func (e *Envelope) Succeed(data map[string]any) *Envelope {
	if data != nil {
		e.Data = data
	}
	e.OK = len(e.Errors) == 0
	return e
}

// Warn appends warnings.
func (e *Envelope) Warn(warnings ...string) *Envelope {
	e.Warnings = append(e.Warnings, warnings...)
	return e
}

// Fail records err and flips ok. Unclassified errors surface as
// E_UNEXPECTED.
func (e *Envelope) Fail(err error) *Envelope {
	ae := apperr.FromError(err)
	e.Errors = append(e.Errors, ErrorObj{
		Code:    ae.Code,
		Message: ae.Message,
		Details: ae.Details,
	})
	e.OK = false
	return e
}

// MarshalPretty renders the envelope as indented JSON with a trailing
// newline, for both success and failure paths.
func (e *Envelope) MarshalPretty() ([]byte, error) {
	if e.Data == nil {
		e.Data = map[string]any{}
	}
	if e.Warnings == nil {
		e.Warnings = []string{}
	}
	if e.Errors == nil {
		e.Errors = []ErrorObj{}
	}
	out, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("serialize envelope: %w", err)
	}
	return append(out, '\n'), nil
}
