package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/e7canasta/antiprimes"
	"github.com/e7canasta/antiprimes/api"
	"github.com/e7canasta/antiprimes/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func startedSequence(t *testing.T) antiprimes.Sequence {
	t.Helper()

	seq := antiprimes.New(antiprimes.Options{})
	require.NoError(t, seq.Start(context.Background()))
	t.Cleanup(func() { _ = seq.Stop() })
	return seq
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "antiprimes "+version)
}

func TestRunCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "seq.json")

	out, err := execute(t, "run", "--count", "6", "--last", "3", "--output", path)
	require.NoError(t, err)

	assert.Contains(t, out, "12")
	assert.Contains(t, out, "36")
	assert.Contains(t, out, "Exported 7 elements")
	assert.Contains(t, out, "Final Statistics")

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, 7, snap.Length)
	assert.Equal(t, antiprimes.AntiPrime{Value: 36, Divisors: 9}, snap.Items[6])
}

func TestRunCommand_InvalidCount(t *testing.T) {
	_, err := execute(t, "run", "--count", "-1", "--last", "0", "--output", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--count")
}

func TestComputeN(t *testing.T) {
	seq := startedSequence(t)

	require.NoError(t, computeN(context.Background(), seq, 5))
	assert.Equal(t, 6, seq.Len())

	last, err := seq.Last()
	require.NoError(t, err)
	assert.Equal(t, antiprimes.AntiPrime{Value: 24, Divisors: 8}, last)
}

func TestComputeN_InvalidOracleResult(t *testing.T) {
	oracle := antiprimes.OracleFunc(func(ctx context.Context, cur antiprimes.AntiPrime) (antiprimes.AntiPrime, error) {
		return antiprimes.AntiPrime{Value: cur.Value + 1, Divisors: cur.Divisors}, nil
	})
	seq := antiprimes.New(antiprimes.Options{Oracle: oracle})
	require.NoError(t, seq.Start(context.Background()))
	t.Cleanup(func() { _ = seq.Stop() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := computeN(ctx, seq, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, antiprimes.ErrOracleFailed)
	assert.NoError(t, ctx.Err(), "returned before the deadline")
	assert.Equal(t, 1, seq.Len())
}

func TestExporter(t *testing.T) {
	seq := startedSequence(t)
	require.NoError(t, computeN(context.Background(), seq, 3))

	t.Run("yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "seq.yml")
		exp, err := NewExporter(path)
		require.NoError(t, err)
		require.NoError(t, exp.Export(seq))

		data, err := os.ReadFile(path)
		require.NoError(t, err)

		var snap Snapshot
		require.NoError(t, yaml.Unmarshal(data, &snap))
		assert.Equal(t, 4, snap.Length)
		assert.Equal(t, []antiprimes.AntiPrime{{Value: 1, Divisors: 1}, {Value: 2, Divisors: 2}, {Value: 4, Divisors: 3}, {Value: 6, Divisors: 4}}, snap.Items)
	})

	t.Run("unsupported", func(t *testing.T) {
		_, err := NewExporter(filepath.Join(t.TempDir(), "seq.csv"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported output format")
	})
}

func TestPrintItems(t *testing.T) {
	var buf bytes.Buffer
	printItems(&buf, 5, []antiprimes.AntiPrime{{Value: 6, Divisors: 4}, {Value: 12, Divisors: 6}})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"3", "6", "4"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"4", "12", "6"}, strings.Fields(lines[2]))
}

func TestPrintStats(t *testing.T) {
	seq := startedSequence(t)
	require.NoError(t, computeN(context.Background(), seq, 2))

	var buf bytes.Buffer
	printLiveStats(&buf, 3*time.Second, seq.Stats(), nil, nil)
	assert.Contains(t, buf.String(), "Antiprimes Statistics (Uptime: 3s)")
	assert.Contains(t, buf.String(), "4(3)")
	assert.NotContains(t, buf.String(), "MQTT")

	buf.Reset()
	printFinalStats(&buf, seq.Stats())
	assert.Contains(t, buf.String(), "Length:                3 (epoch 0)")
}

func TestRatio(t *testing.T) {
	assert.Equal(t, 0.0, ratio(0, 0))
	assert.Equal(t, 25.0, ratio(1, 4))
}

func TestSequenceModel(t *testing.T) {
	seq := startedSequence(t)
	events := make(chan antiprimes.Event, 8)
	require.NoError(t, seq.Subscribe("test", events))

	m := newSequenceModel(context.Background(), seq, events, 5)
	assert.Contains(t, m.View(), "Antiprimes")
	assert.Len(t, m.items, 1)

	// n submits the tail
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'n'}})
	require.NotNil(t, cmd)
	next, _ = next.Update(cmd())
	assert.Equal(t, "request accepted", next.(sequenceModel).status)

	var ev antiprimes.Event
	select {
	case ev = <-events:
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
	}
	next, cmd = next.Update(eventMsg(ev))
	require.NotNil(t, cmd)
	m = next.(sequenceModel)
	assert.Len(t, m.items, 2)
	assert.Contains(t, m.status, "appended #1 = 2(2)")

	// r resets
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}})
	m = next.(sequenceModel)
	assert.Len(t, m.items, 1)
	assert.Equal(t, "reset (epoch 1)", m.status)

	// q quits
	next, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
	assert.Empty(t, next.View())
}

func TestApplyReload(t *testing.T) {
	seq := startedSequence(t)

	current := config.Default()
	server := api.NewServer(seq, api.Options{Server: current.Server})

	logLevel.Set(slog.LevelInfo)
	t.Cleanup(func() { logLevel.Set(slog.LevelInfo) })

	next := config.Default()
	next.Log.Level = "error"
	applyReload(current, next, server)

	assert.Equal(t, slog.LevelError, logLevel.Level())
}
