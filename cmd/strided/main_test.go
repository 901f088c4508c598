package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatVersion(t *testing.T) {
	// GOAL: Verify version formatting adds 'v' only for numeric versions
	//
	// TEST SCENARIO: Format various version strings → numeric ones get
	// a 'v' prefix → others pass through unchanged

	tests := []struct {
		name    string
		version string
		want    string
	}{
		{name: "numeric version gets prefix", version: "1.2.3", want: "v1.2.3"},
		{name: "prefixed version unchanged", version: "v1.2.3", want: "v1.2.3"},
		{name: "dev version unchanged", version: "dev", want: "dev"},
		{name: "empty version unchanged", version: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatVersion(tt.version))
		})
	}
}

func TestRootCommandWiring(t *testing.T) {
	// GOAL: Verify subcommands and global flags are registered
	//
	// TEST SCENARIO: Inspect rootCmd → run and simulate present →
	// log-level and config persistent flags exist

	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["run"], "run command must be registered")
	assert.True(t, names["simulate"], "simulate command must be registered")

	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("log-level"))
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
	assert.True(t, rootCmd.SilenceErrors)
}

func TestSimulateCommandFlags(t *testing.T) {
	// GOAL: Verify simulate command flag defaults
	//
	// TEST SCENARIO: Check flag definitions → all flags present →
	// defaults match a 2 Hz noiseless stride

	flags := simulateCmd.Flags()

	duration := flags.Lookup("duration")
	assert.NotNil(t, duration)
	assert.Equal(t, "10s", duration.DefValue)

	frequency := flags.Lookup("frequency")
	assert.NotNil(t, frequency)
	assert.Equal(t, "2", frequency.DefValue)

	amplitude := flags.Lookup("amplitude")
	assert.NotNil(t, amplitude)
	assert.Equal(t, "8", amplitude.DefValue)

	noise := flags.Lookup("noise")
	assert.NotNil(t, noise)
	assert.Equal(t, "0", noise.DefValue)
}
