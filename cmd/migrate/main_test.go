package main

import (
	"flag"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want options
	}{
		{"up", []string{"-up"}, options{action: actionUp, force: -1}},
		{"down", []string{"-down"}, options{action: actionDown, force: -1}},
		{"steps", []string{"-steps", "-2"}, options{action: actionSteps, steps: -2, force: -1}},
		{"version", []string{"-version"}, options{action: actionVersion, force: -1}},
		{"force zero", []string{"-force", "0"}, options{action: actionForce, force: 0}},
		{"abandon", []string{"-abandon-running"}, options{action: actionAbandon, force: -1}},
		{"path override", []string{"-up", "-path", "/tmp/m"}, options{action: actionUp, force: -1, path: "/tmp/m"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFlags(newFlagSet(), tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseFlags_Errors(t *testing.T) {
	_, err := parseFlags(newFlagSet(), nil)
	assert.ErrorContains(t, err, "no action specified")

	_, err = parseFlags(newFlagSet(), []string{"-up", "-down"})
	assert.ErrorContains(t, err, "only one action")

	_, err = parseFlags(newFlagSet(), []string{"-bogus"})
	assert.Error(t, err)
}
