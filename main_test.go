package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bcaldwell/plaid2qfx/pkg/config"
	"github.com/bcaldwell/plaid2qfx/pkg/exporter"
	"github.com/bcaldwell/plaid2qfx/pkg/linker"
	"github.com/bcaldwell/plaid2qfx/pkg/plaid"
	"github.com/bcaldwell/plaid2qfx/pkg/statement"
)

func TestRootCommand(t *testing.T) {
	assert.Equal(t, "plaid2qfx", rootCmd.Use)
	assert.Contains(t, rootCmd.Short, "QFX")

	names := []string{}
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"export", "link", "accounts", "update-config"})

	assert.NotNil(t, exportCmd.Flags().Lookup("schedule"))
	assert.NotNil(t, accountsCmd.Flags().Lookup("remote"))
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("secrets"))
}

func TestExitCode(t *testing.T) {
	wrap := func(err error) error { return fmt.Errorf("failed to export chase: %w", err) }

	assert.Equal(t, 1, exitCode(errors.New("boom")))
	assert.Equal(t, 2, exitCode(wrap(config.ErrConfig)))
	assert.Equal(t, 2, exitCode(wrap(linker.ErrDuplicateItem)))
	assert.Equal(t, 3, exitCode(wrap(exporter.ErrUnknownItem)))
	assert.Equal(t, 4, exitCode(wrap(statement.ErrMissingRoutingNumber)))
	assert.Equal(t, 5, exitCode(wrap(statement.ErrNoFragments)))
	assert.Equal(t, 6, exitCode(wrap(&plaid.Error{Code: plaid.CodeItemLoginRequired})))
	assert.Equal(t, 1, exitCode(wrap(&plaid.Error{Code: "RATE_LIMIT_EXCEEDED"})))
}

type countingRunner struct {
	runs int
}

func (r *countingRunner) Run() error {
	r.runs++
	return errors.New("always fails")
}

func TestRunScheduledInvalidSpec(t *testing.T) {
	runner := &countingRunner{}

	err := runScheduled(context.Background(), runner, "not a schedule")
	assert.ErrorIs(t, err, config.ErrConfig)
	assert.Equal(t, 0, runner.runs)
}

func TestRunScheduledRunsImmediately(t *testing.T) {
	runner := &countingRunner{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// failures are logged, the schedule keeps going
	err := runScheduled(ctx, runner, "@daily")
	assert.NoError(t, err)
	assert.Equal(t, 1, runner.runs)
}
