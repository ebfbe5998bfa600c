package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daycap/internal/schedule"
)

type cli struct {
	t      *testing.T
	config string
}

func newCLI(t *testing.T) *cli {
	return &cli{t: t, config: filepath.Join(t.TempDir(), "config.toml")}
}

func (c *cli) run(args ...string) (string, error) {
	c.t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), append([]string{"--config", c.config}, args...), &stdout, &stderr)
	return stdout.String(), err
}

func (c *cli) must(args ...string) string {
	c.t.Helper()
	out, err := c.run(args...)
	require.NoError(c.t, err, out)
	return out
}

// addedID pulls the id out of "added <id> ...".
func addedID(t *testing.T, out string) string {
	t.Helper()
	fields := strings.Fields(out)
	require.GreaterOrEqual(t, len(fields), 2, out)
	require.Equal(t, "added", fields[0])
	return fields[1]
}

func TestAddAndList(t *testing.T) {
	c := newCLI(t)
	out := c.must("add", "--date", "today", "--urgent", "Buy", "milk")
	assert.Contains(t, out, "for "+time.Now().Format("2006-01-02"))

	out = c.must("list")
	assert.Contains(t, out, "1/3")
	assert.Contains(t, out, "Buy milk")
	assert.Contains(t, out, "urgent")
}

func TestAddDefaultsToBacklog(t *testing.T) {
	c := newCLI(t)
	out := c.must("add", "Someday")
	assert.Contains(t, out, "to the backlog")

	out = c.must("list", "--backlog")
	assert.Contains(t, out, "Someday")
	assert.Contains(t, out, "backlog")
}

func TestAddToFullDay(t *testing.T) {
	c := newCLI(t)
	for i := 0; i < 3; i++ {
		c.must("add", "--date", "tomorrow", "task")
	}

	_, err := c.run("add", "--date", "tomorrow", "one too many")
	require.Error(t, err)
	assert.ErrorIs(t, err, schedule.ErrCap)
	assert.Equal(t, "Day is full. Complete, archive, or delete a task to free a slot.", err.Error())
}

func TestDoneThenAddReplaces(t *testing.T) {
	c := newCLI(t)
	first := addedID(t, c.must("add", "--date", "tomorrow", "first"))
	c.must("add", "--date", "tomorrow", "second")
	c.must("add", "--date", "tomorrow", "third")

	out := c.must("done", first[:8])
	assert.Equal(t, "completed "+first+"\n", out)

	out = c.must("add", "--date", "tomorrow", "fourth")
	assert.Contains(t, out, "moved completed "+first)

	out = c.must("list", "--backlog")
	assert.Contains(t, out, "first")
}

func TestDoneUnknownID(t *testing.T) {
	c := newCLI(t)
	_, err := c.run("done", "nope")
	assert.ErrorIs(t, err, schedule.ErrNotFound)
	assert.Equal(t, "Task not found.", err.Error())
}

func TestRolloverOncePerDay(t *testing.T) {
	c := newCLI(t)
	c.must("add", "--date", "yesterday", "left over")

	out := c.must("rollover")
	yesterday := time.Now().AddDate(0, 0, -1).Format("2006-01-02")
	assert.Equal(t, "rolled "+yesterday+": moved 1\n", out)

	out = c.must("rollover")
	assert.Equal(t, "skipped: done-for-today\n", out)

	out = c.must("list", "--backlog")
	assert.Contains(t, out, "backlog (from "+yesterday+")")
}

func TestRolloverForce(t *testing.T) {
	c := newCLI(t)
	c.must("add", "--date", "2020-01-01", "ancient")

	out := c.must("rollover", "--force", "2020-01-01")
	assert.Equal(t, "rolled 2020-01-01: moved 1\n", out)
}

func TestListWeek(t *testing.T) {
	c := newCLI(t)
	c.must("add", "--date", "today", "this week")
	out := c.must("list", "--week")
	assert.Contains(t, out, "this week")
}

func TestWatchStopsOnCancel(t *testing.T) {
	c := newCLI(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var stdout, stderr bytes.Buffer
	err := run(ctx, []string{"--config", c.config, "watch"}, &stdout, &stderr)
	assert.NoError(t, err)
}

func TestUnknownCommand(t *testing.T) {
	c := newCLI(t)
	_, err := c.run("frobnicate")
	assert.ErrorContains(t, err, `unknown command "frobnicate"`)
}

func TestHelp(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"help"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "usage: daycap")
	assert.Contains(t, stdout.String(), "--backend")
}

func TestBadBackendFlag(t *testing.T) {
	c := newCLI(t)
	_, err := c.run("--backend", "mongo", "list")
	assert.ErrorContains(t, err, "unknown backend")
}
