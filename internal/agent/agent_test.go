package agent

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fleur-q/internal/calc"
	"fleur-q/internal/client"
	"fleur-q/internal/engine"
	"fleur-q/internal/logging"
	"fleur-q/internal/node"
	"fleur-q/internal/plan"
	"fleur-q/internal/provenance"
	"fleur-q/internal/security"
	"fleur-q/internal/server"
	"fleur-q/internal/storage"
	"fleur-q/internal/submit"
)

func newService(t *testing.T) *engine.Service {
	t.Helper()
	dir := t.TempDir()
	keys, err := security.GenerateKeyPair()
	require.NoError(t, err)
	ledger, err := provenance.OpenLedger(filepath.Join(dir, "ledger.jsonl"))
	require.NoError(t, err)
	svc, err := engine.New(ledger, storage.NewRepository(filepath.Join(dir, "repo")), keys, logging.Discard())
	require.NoError(t, err)
	return svc
}

type creator interface {
	CreateNode(ctx context.Context, n *node.Node) (*node.Node, error)
}

func create(t *testing.T, c creator, n *node.Node) *node.Node {
	t.Helper()
	created, err := c.CreateNode(context.Background(), n)
	require.NoError(t, err)
	return created
}

func code(plugin, executable string) *node.Node {
	return &node.Node{Type: node.TypeCode, Label: plugin, Code: &node.Code{Plugin: plugin, Executable: executable}}
}

func structure(symbols ...string) *node.Node {
	st := &node.Structure{
		Cell: [3][3]float64{{2.5, 0, 0}, {0, 2.5, 0}, {0, 0, 20}},
		PBC:  [3]bool{true, true, false},
	}
	for i, sym := range symbols {
		st.Sites = append(st.Sites, node.Site{Symbol: sym, Position: [3]float64{0, 0, float64(i) * 2}})
	}
	return &node.Node{Type: node.TypeStructure, Structure: st}
}

func inpgenRequest(code, structure *node.Node, params map[string]any, opts node.Options) calc.SubmitRequest {
	return calc.SubmitRequest{
		Process: "fleur.inpgen",
		Inputs:  map[string]int64{"code": code.PK, "structure": structure.PK},
		Dicts:   map[string]map[string]any{"parameters": params},
		Options: map[string]node.Options{"metadata.options": opts},
	}
}

var oneProc = node.Options{Resources: node.Resources{NumMPIProcsPerMachine: 1}}

func TestDryRunRoundTripOverHTTP(t *testing.T) {
	ctx := context.Background()
	ts := httptest.NewServer(server.New(newService(t), logging.Discard()))
	defer ts.Close()
	c := client.New(ts.URL, 5*time.Second)

	inpgen := create(t, c, code(calc.PluginInpgen, "/usr/bin/inpgen"))
	fleur := create(t, c, code(calc.PluginFleur, "/usr/bin/fleur"))
	fe, ni := create(t, c, structure("Fe")), create(t, c, structure("Ni"))

	var out bytes.Buffer
	handles, err := submit.NewRunner(c, &out).Run(ctx, &plan.Plan{
		Process: "fleur.inpgen",
		Refs:    map[string]node.Ref{"code": node.PKRef(inpgen.PK)},
		Dicts:   map[string]map[string]any{"parameters": {"comp": map[string]any{"kmax": 3.85}}},
		Options: &oneProc,
		Each:    &plan.Each{Port: "structure", Refs: []node.Ref{node.PKRef(fe.PK), node.PKRef(ni.PK)}},
	})
	require.NoError(t, err)

	a := New("agent-1", c, DryRun{}, logging.Discard())
	n, err := a.Run(ctx, true)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	for i, want := range []string{"Fe", "Ni"} {
		proc, err := c.Process(ctx, handles[i].PK)
		require.NoError(t, err)
		require.Equal(t, node.StateFinished, proc.Process.State)
		require.Equal(t, "agent-1", proc.Process.AgentID)

		ref := node.Ref{PK: handles[i].PK, Output: "fleurinp"}
		fleurinp, err := c.LoadNode(ctx, ref)
		require.NoError(t, err)
		require.Equal(t, want, fleurinp.Formula())

		names, err := c.Files(ctx, ref)
		require.NoError(t, err)
		require.Equal(t, []string{"inp.xml", shellOutputFile}, names)
		data, err := c.File(ctx, ref, "inp.xml")
		require.NoError(t, err)
		require.Contains(t, string(data), "<comment>"+want+"</comment>")
	}

	// the fleur job receives the generated inp.xml staged from the repository
	fleurHandles, err := submit.NewRunner(c, &out).Run(ctx, &plan.Plan{
		Process: "fleur.fleur",
		Refs: map[string]node.Ref{
			"code":     node.PKRef(fleur.PK),
			"fleurinp": {PK: handles[0].PK, Output: "fleurinp"},
		},
		Options: &oneProc,
	})
	require.NoError(t, err)
	n, err = a.Run(ctx, true)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	generated, err := c.File(ctx, node.Ref{PK: handles[0].PK, Output: "fleurinp"}, "inp.xml")
	require.NoError(t, err)
	echoed, err := c.File(ctx, node.PKRef(fleurHandles[0].PK), "inp.xml")
	require.NoError(t, err)
	require.Equal(t, generated, echoed)

	_, err = c.File(ctx, node.PKRef(fleurHandles[0].PK), "out.xml")
	require.ErrorIs(t, err, node.ErrNotFound)
	require.NoError(t, c.Verify(ctx))
}

func TestStepWithEmptyQueue(t *testing.T) {
	a := New("agent-1", newService(t), DryRun{}, logging.Discard())
	took, err := a.Step(context.Background())
	require.NoError(t, err)
	require.False(t, took)
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts need a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "code.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

// runShell submits one inpgen job for an Fe film, runs it with the given
// script and returns the process node.
func runShell(t *testing.T, script string, opts node.Options) (*engine.Service, *node.Node, string) {
	t.Helper()
	ctx := context.Background()
	svc := newService(t)
	inpgen := create(t, svc, code(calc.PluginInpgen, script))
	fe := create(t, svc, structure("Fe"))
	params := map[string]any{"title": "Fe film", "comp": map[string]any{"kmax": 3.85}}
	h, err := svc.SubmitRequest(ctx, inpgenRequest(inpgen, fe, params, opts))
	require.NoError(t, err)

	workdir := t.TempDir()
	a := New("agent-1", svc, &Shell{WorkDir: workdir}, logging.Discard())
	took, err := a.Step(ctx)
	require.NoError(t, err)
	require.True(t, took)

	proc, err := svc.Process(ctx, h.PK)
	require.NoError(t, err)
	return svc, proc, workdir
}

func TestShellRunsInpgen(t *testing.T) {
	script := writeScript(t, `head -n 1 aiida.in > inp.xml
grep '&comp' aiida.in >> inp.xml
echo "args: $*"`)
	svc, proc, workdir := runShell(t, script, oneProc)
	require.Equal(t, node.StateFinished, proc.Process.State)

	ref := node.Ref{PK: proc.PK, Output: "fleurinp"}
	data, err := svc.File(context.Background(), ref, "inp.xml")
	require.NoError(t, err)
	require.Equal(t, "Fe film\n&comp kmax=3.85 /\n", string(data))

	log, err := svc.File(context.Background(), ref, shellOutputFile)
	require.NoError(t, err)
	require.Equal(t, "args: -explicit -f aiida.in\n", string(log))

	entries, err := os.ReadDir(workdir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestShellReportsExitStatus(t *testing.T) {
	_, proc, _ := runShell(t, writeScript(t, "exit 3"), oneProc)
	require.Equal(t, node.StateExcepted, proc.Process.State)
	require.Equal(t, 3, proc.Process.ExitStatus)
}

func TestShellWithoutInputXML(t *testing.T) {
	_, proc, _ := runShell(t, writeScript(t, "echo done"), oneProc)
	require.Equal(t, node.StateExcepted, proc.Process.State)
	require.Equal(t, ExitNoInputXML, proc.Process.ExitStatus)
}

func TestShellWallclockLimit(t *testing.T) {
	opts := oneProc
	opts.MaxWallclockSeconds = 1
	_, proc, _ := runShell(t, writeScript(t, "exec sleep 5"), opts)
	require.Equal(t, node.StateExcepted, proc.Process.State)
	require.Equal(t, ExitWallclock, proc.Process.ExitStatus)
	require.Contains(t, proc.Process.ExitMsg, "1s")
}

func TestShellMissingExecutable(t *testing.T) {
	_, proc, _ := runShell(t, filepath.Join(t.TempDir(), "absent"), oneProc)
	require.Equal(t, node.StateExcepted, proc.Process.State)
	require.Equal(t, ExitStartup, proc.Process.ExitStatus)
}

func TestInpgenInput(t *testing.T) {
	st := structure("Fe", "Ni").Structure
	in, err := InpgenInput(st, map[string]any{
		"comp": map[string]any{"kmax": 3.85, "gmax": 11.0},
		"atom": map[string]any{
			"1": map[string]any{"element": "Fe", "rmt": 2.2},
			"2": map[string]any{"element": "Ni", "rmt": 2.1},
		},
		"kpt": map[string]any{"div1": 8, "tkb": 0.0005},
	})
	require.NoError(t, err)

	lines := bytes.Split([]byte(in), []byte("\n"))
	require.Equal(t, defaultTitle, string(lines[0]))
	require.Equal(t, "&input cartesian=t film=t /", string(lines[1]))
	require.Empty(t, lines[7])
	require.Equal(t, "     2", string(lines[8]))
	require.Contains(t, string(lines[9]), "  26")
	require.Contains(t, string(lines[10]), "  28")
	require.Contains(t, in, "&atom element=\"Fe\" rmt=2.2 /\n&atom element=\"Ni\" rmt=2.1 /\n")
	require.Contains(t, in, "&comp gmax=11 kmax=3.85 /\n")
	require.Contains(t, in, "&kpt div1=8 tkb=0.0005 /\n")

	_, err = InpgenInput(structure("Xx").Structure, nil)
	require.ErrorContains(t, err, "Xx")
	_, err = InpgenInput(st, map[string]any{"comp": map[string]any{"kmax": struct{}{}}})
	require.ErrorContains(t, err, "comp")
}
