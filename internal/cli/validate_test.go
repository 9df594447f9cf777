package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/persist"
)

func runCommand(t *testing.T, opts *RootOptions, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	if opts.Format != "" {
		args = append([]string{"--format", opts.Format}, args...)
	}
	if opts.Verbose {
		args = append([]string{"--verbose"}, args...)
	}
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestValidateCommand(t *testing.T) {
	t.Parallel()

	out, err := runCommand(t, &RootOptions{}, "validate", "testdata/mapping.yaml")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"✓ batched",
		"✓ hinted",
		"✓ plain",
		"✓ All variants valid",
	}, strings.Split(strings.TrimSpace(out), "\n"))
}

func TestValidateCommandJSON(t *testing.T) {
	t.Parallel()

	out, err := runCommand(t, &RootOptions{Format: "json"}, "validate", "testdata/mapping.yaml")
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	require.Len(t, resp.Data.Variants, 3)
	for _, v := range resp.Data.Variants {
		assert.True(t, v.Valid, v.Name)
		assert.Len(t, v.Fingerprint, 64, v.Name)
	}
	// Same entities, different options.
	assert.NotEqual(t, resp.Data.Variants[1].Fingerprint, resp.Data.Variants[2].Fingerprint)
}

func TestValidateCommandInvalid(t *testing.T) {
	t.Parallel()

	t.Run("text", func(t *testing.T) {
		out, err := runCommand(t, &RootOptions{}, "validate", "testdata/invalid.yaml")
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))
		assert.Equal(t, "validation failed with 2 error(s)", err.Error())

		lines := strings.Split(strings.TrimSpace(out), "\n")
		require.Len(t, lines, 5)
		assert.Equal(t, "✗ broken", lines[0])
		assert.True(t, strings.HasPrefix(lines[1], "  - "+string(persist.ReasonVersionedWithoutBatching)+" AlbumWithVersion.Version: "))
		assert.True(t, strings.HasPrefix(lines[2], "  - "+string(persist.ReasonUnsuppressedGeneration)+" Singer.FullName: "))
		assert.Equal(t, "✓ fixed", lines[3])
		assert.Equal(t, "✗ Validation failed", lines[4])
	})

	t.Run("json", func(t *testing.T) {
		out, err := runCommand(t, &RootOptions{Format: "json"}, "validate", "testdata/invalid.yaml")
		require.Error(t, err)

		var resp struct {
			Status string           `json:"status"`
			Data   ValidationResult `json:"data"`
			Error  CLIError         `json:"error"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &resp))
		assert.Equal(t, "error", resp.Status)
		assert.Equal(t, string(persist.ReasonVersionedWithoutBatching), resp.Error.Code)
		assert.False(t, resp.Data.Valid)
		require.Len(t, resp.Data.Variants, 2)

		broken := resp.Data.Variants[0]
		assert.Empty(t, broken.Fingerprint)
		require.Len(t, broken.Violations, 2)
		assert.Equal(t, Violation{
			Entity:   "Singer",
			Property: "FullName",
			Reason:   string(persist.ReasonUnsuppressedGeneration),
			Message:  broken.Violations[1].Message,
		}, broken.Violations[1])
		assert.True(t, resp.Data.Variants[1].Valid)
	})
}

func TestValidateCommandLoadError(t *testing.T) {
	t.Parallel()

	out, err := runCommand(t, &RootOptions{}, "validate", "testdata/missing.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [LOAD_ERROR]: ")
}

func TestValidateCommandVerbose(t *testing.T) {
	t.Parallel()

	cmd := NewRootCommand()
	out, diag := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(diag)
	cmd.SetArgs([]string{"--verbose", "--format", "json", "validate", "testdata/mapping.yaml"})
	require.NoError(t, cmd.Execute())

	assert.True(t, json.Valid(out.Bytes()))
	assert.Contains(t, diag.String(), "Loaded 2 entities and 3 variants from testdata/mapping.yaml")
	assert.Contains(t, diag.String(), "session factory built")
}

func TestWatchFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "mapping.yaml")
	require.NoError(t, os.WriteFile(path, []byte("entities: []\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	changed := make(chan struct{}, 16)
	done := make(chan error, 1)
	ready := make(chan struct{})
	go func() {
		close(ready)
		done <- watchFile(ctx, path, func() { changed <- struct{}{} })
	}()
	<-ready

	// The watch is registered asynchronously; write until it is observed.
	other := filepath.Join(dir, "other.yaml")
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
loop:
	for {
		select {
		case <-changed:
			break loop
		case <-tick.C:
			require.NoError(t, os.WriteFile(other, []byte("x"), 0o600))
			require.NoError(t, os.WriteFile(path, []byte("entities: []\n"), 0o600))
		case <-deadline:
			t.Fatal("no change observed")
		}
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}
