package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"fleur-q/internal/node"
)

type harness struct {
	t      *testing.T
	dir    string
	config string
}

func newHarness(t *testing.T) *harness {
	dir := t.TempDir()
	cfg := fmt.Sprintf(`server:
  ledger: %[1]s/ledger.jsonl
  repository: %[1]s/repository
  keys_dir: %[1]s/keys
log:
  level: error
`, dir)
	path := filepath.Join(dir, "fleurq.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return &harness{t: t, dir: dir, config: path}
}

func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd(&out, &errOut)
	root.SetArgs(append([]string{"--config", h.config, "--local"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func (h *harness) write(name, content string) string {
	path := filepath.Join(h.dir, name)
	require.NoError(h.t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLocalSubmitFlow(t *testing.T) {
	h := newHarness(t)

	out, err := h.run("keys", "generate")
	require.NoError(t, err)
	require.Contains(t, out, "Generated")

	out, err = h.run("node", "create-code", "--label", "inpgen", "--executable", "/usr/bin/inpgen")
	require.NoError(t, err)
	require.Contains(t, out, "pk=1")

	for _, sym := range []string{"Fe", "Ni", "Co"} {
		path := h.write(sym+".yaml", fmt.Sprintf(`label: %s film
structure:
  cell: [[2.5, 0, 0], [0, 2.5, 0], [0, 0, 20]]
  pbc: [true, true, false]
  sites:
    - symbol: %s
      position: [0, 0, 0]
`, sym, sym))
		out, err = h.run("node", "create-structure", path)
		require.NoError(t, err)
		require.Contains(t, out, "structure "+sym)
	}

	plan := h.write("films.yaml", `process: fleur.inpgen
refs:
  code: 1
dicts:
  parameters:
    film:
      dvac: 10.0
options:
  resources:
    num_mpiprocs_per_machine: 1
each:
  port: structure
  refs: [2, 3, 4]
`)
	out, err = h.run("submit", plan)
	require.NoError(t, err)
	require.Equal(t, "The PK of submitted inpgen job is 6 for Fe structure\n"+
		"The PK of submitted inpgen job is 8 for Ni structure\n"+
		"The PK of submitted inpgen job is 10 for Co structure\n", out)

	out, err = h.run("node", "show", "6")
	require.NoError(t, err)
	require.Contains(t, out, string(node.TypeCalcJob))
	require.Contains(t, out, "FleurinputgenCalculation")

	out, err = h.run("ledger", "verify")
	require.NoError(t, err)
	require.Contains(t, out, "Ledger verification OK")
	require.Contains(t, out, "records, head ")

	out, err = h.run("ledger", "inspect")
	require.NoError(t, err)
	require.Contains(t, out, "pk=10")
}

func TestLocalSubmitFailures(t *testing.T) {
	h := newHarness(t)

	missing := h.write("missing.yaml", `process: fleur.inpgen
refs:
  code: 8
  structure: 10
dicts:
  parameters: {}
options:
  resources:
    num_mpiprocs_per_machine: 1
`)
	out, err := h.run("submit", missing)
	require.ErrorIs(t, err, node.ErrNotFound)
	require.Empty(t, out)

	placeholder := h.write("placeholder.yaml", `process: fleur.inpgen
refs:
  code: xxx
`)
	_, err = h.run("submit", placeholder)
	require.ErrorIs(t, err, node.ErrPlaceholder)

	_, err = h.run("node", "create-code", "--plugin", "fleur.banddos", "--executable", "/bin/true")
	require.Error(t, err)
}

func TestKindsListsPorts(t *testing.T) {
	h := newHarness(t)
	out, err := h.run("kinds")
	require.NoError(t, err)
	require.Contains(t, out, "fleur.ssdisp")
	require.Contains(t, out, "wf_parameters")
	require.Contains(t, out, "FleurinputgenCalculation")
}

func TestLocalAgentDryRun(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("node", "create-code", "--label", "inpgen", "--executable", "/usr/bin/inpgen")
	require.NoError(t, err)
	_, err = h.run("node", "create-structure", h.write("fe.yaml", `structure:
  sites:
    - symbol: Fe
`))
	require.NoError(t, err)
	out, err := h.run("submit", h.write("fe_inpgen.yaml", `process: fleur.inpgen
refs:
  code: 1
  structure: 2
dicts:
  parameters: {}
options:
  resources:
    num_mpiprocs_per_machine: 1
`))
	require.NoError(t, err)
	require.Equal(t, "The PK of submitted inpgen job is 4\n", out)

	out, err = h.run("agent", "--once", "--dry-run", "--id", "test-agent")
	require.NoError(t, err)
	require.Contains(t, out, "Processed")
	require.Contains(t, out, "1 jobs")

	out, err = h.run("node", "show", "4")
	require.NoError(t, err)
	require.Contains(t, out, `"state": "finished"`)
	require.Contains(t, out, "test-agent")

	out, err = h.run("node", "show", "4.outputs.fleurinp")
	require.NoError(t, err)
	require.Contains(t, out, `"formula": "Fe"`)
	require.Contains(t, out, "inp.xml shell.out")

	out, err = h.run("agent", "--once", "--dry-run")
	require.NoError(t, err)
	require.Contains(t, out, "0 jobs")
}

func TestLedgerInspectShortHashes(t *testing.T) {
	h := newHarness(t)
	path := h.write("tampered.jsonl", `{"index":0,"pk":1,"uuid":"a1","type":"data.core.code","payload":{"label":"inpgen"},"hash":"abc"}
{"index":1,"pk":2,"uuid":"b2","type":"data.core.code","payload":{},"hash":""}
`)

	out, err := h.run("ledger", "inspect", path)
	require.NoError(t, err)
	require.Contains(t, out, "abc")
	require.Contains(t, out, "inpgen")

	_, err = h.run("ledger", "verify", path)
	require.Error(t, err)
}

func TestShortHash(t *testing.T) {
	require.Equal(t, "0123456789abcdef", shortHash("0123456789abcdef0123"))
	require.Equal(t, "abc", shortHash("abc"))
	require.Equal(t, "-", shortHash(""))
}
