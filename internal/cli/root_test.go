package cli

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/sirdesai22/leadsync/internal/apperr"
	"github.com/sirdesai22/leadsync/internal/reconcile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "leadsync", cmd.Use)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"serve", "migrate", "seed", "reconcile"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestFlags(t *testing.T) {
	cmd := NewRootCommand()

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)

	sub, _, err := cmd.Find([]string{"reconcile"})
	require.NoError(t, err)
	require.NotNil(t, sub.Flags().Lookup("replace-catalog"))

	sub, _, err = cmd.Find([]string{"seed"})
	require.NoError(t, err)
	require.NotNil(t, sub.Flags().Lookup("push"))
}

func TestInvalidFormatRejected(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--format", "xml", "migrate"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestVerboseForcesDebug(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, (&RootOptions{Verbose: true}).level(slog.LevelWarn))
	assert.Equal(t, slog.LevelWarn, (&RootOptions{}).level(slog.LevelWarn))
}

func TestWriteReport(t *testing.T) {
	report := reconcile.Report{
		Scanned:   4,
		Updated:   1,
		Conflicts: []*apperr.ConflictError{{Entity: "lead", Identity: "a@b.co", ExternalIDs: []string{"p1", "p2"}}},
		Failures:  []reconcile.Failure{{Entity: "lead", Identity: "page-9", Error: "email: is required"}},
	}

	var text bytes.Buffer
	require.NoError(t, writeReport(&text, "text", report))
	lines := strings.Split(strings.TrimSpace(text.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "scanned=4 created=0 updated=1 pushed=0 conflicts=1 failures=1", lines[0])
	assert.Contains(t, lines[1], `"a@b.co" claimed by 2`)
	assert.Equal(t, "failure: lead page-9: email: is required", lines[2])

	var js bytes.Buffer
	require.NoError(t, writeReport(&js, "json", report))
	assert.Contains(t, js.String(), `"scanned": 4`)
}

func TestNewLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "json", slog.LevelInfo).Info("hello", "k", "v")
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	buf.Reset()
	newLogger(&buf, "text", slog.LevelInfo).Debug("hidden")
	assert.Empty(t, buf.String())
}
