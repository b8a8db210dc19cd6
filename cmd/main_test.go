/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"github.com/chazu/modport/internal/config"
)

// writeProject writes a two module Lua project and returns its directory
func writeProject(t *testing.T) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.lua"),
		[]byte(`return { dep = require("./dep.lua") }`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dep.lua"),
		[]byte(`return "dep"`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.lua"),
		[]byte(`return {`), 0o644))
	return dir
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err := execute(context.Background(), args, &out, &errOut)
	return out.String(), errOut.String(), err
}

func TestRun(t *testing.T) {
	dir := writeProject(t)

	out, _, err := run(t, "run", filepath.Join(dir, "main.lua"))
	require.NoError(t, err)
	require.Contains(t, out, "main.lua table{dep} (2 modules)")
}

func TestCheck_ReportsFailures(t *testing.T) {
	dir := writeProject(t)

	out, _, err := run(t, "check", filepath.Join(dir, "main.lua"), filepath.Join(dir, "broken.lua"))
	require.Error(t, err)
	require.Contains(t, out, "ok   ")
	require.Contains(t, out, "FAIL ")
}

func TestGraph(t *testing.T) {
	dir := writeProject(t)

	out, _, err := run(t, "graph", filepath.Join(dir, "main.lua"))
	require.NoError(t, err)
	require.Less(t, bytes.Index([]byte(out), []byte("dep.lua")), bytes.Index([]byte(out), []byte("main.lua")))
}

func TestInvalidFlagValue(t *testing.T) {
	dir := writeProject(t)

	_, _, err := run(t, "--engine", "js", "run", filepath.Join(dir, "main.lua"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "engine must be")
}

func TestEnvironmentOverridesDefaults(t *testing.T) {
	dir := writeProject(t)
	t.Setenv("MODPORT_ENGINE", "cue")

	// A Lua file parsed as CUE fails
	_, _, err := run(t, "run", filepath.Join(dir, "main.lua"))
	require.Error(t, err)
}

func TestDebugLogging(t *testing.T) {
	dir := writeProject(t)

	_, errOut, err := run(t, "--log-level", "debug", "--log-format", "json", "run", filepath.Join(dir, "main.lua"))
	require.NoError(t, err)

	line, _, _ := bytes.Cut([]byte(errOut), []byte("\n"))
	var entry map[string]any
	require.NoError(t, json.Unmarshal(line, &entry))
	require.Equal(t, "debug", entry["level"])
	require.Contains(t, errOut, "Module loaded")
}

func TestNewZapLogger_Level(t *testing.T) {
	cfg := config.Defaults()
	cfg.LogLevel = "warn"

	var buf bytes.Buffer
	zl, err := newZapLogger(cfg, &buf)
	require.NoError(t, err)

	zl.Info("hidden")
	zl.Warn("shown")
	require.NoError(t, zl.Sync())
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), "shown")
}

func TestStartMetricsServer(t *testing.T) {
	srv, addr, err := startMetricsServer("127.0.0.1:0", logr.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	resp, err := http.Get("http://" + addr.String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "modport_registry_records")
}

func TestRun_Samples(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	out, _, err := run(t, "run", "--samples")
	require.NoError(t, err)
	require.Contains(t, out, "/platform/webservice/webservice.cue struct{name, replicas, image, labels} (3 modules)")

	out, _, err = run(t, "run", "--samples", "policy/replicas.cue")
	require.NoError(t, err)
	require.Contains(t, out, "/platform/policy/replicas.cue")
}

func TestGraph_Samples(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	out, _, err := run(t, "graph", "--samples")
	require.NoError(t, err)
	require.Less(t, strings.Index(out, "common/defaults.cue"), strings.Index(out, "common/labels.cue"))
	require.Less(t, strings.Index(out, "common/labels.cue"), strings.Index(out, "webservice/webservice.cue"))
}

func TestRun_RequiresEntryWithoutSamples(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	_, _, err := run(t, "run")
	require.Error(t, err)
}
