package plan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"fleur-q/internal/node"
)

func TestLoadShippedPlans(t *testing.T) {
	si, err := Load(filepath.Join("..", "..", "plans", "si_inpgen.yaml"))
	require.NoError(t, err)
	require.Equal(t, "fleur.inpgen", si.Process)
	require.Equal(t, node.PKRef(8), si.Refs["code"])
	require.Equal(t, node.PKRef(10), si.Refs["structure"])
	require.Equal(t, 1, si.Jobs())
	require.Equal(t, 3.85, si.Dicts["parameters"]["comp"].(map[string]any)["kmax"])
	require.NotNil(t, si.Options)
	require.NotNil(t, si.Options.WithMPI)
	require.False(t, *si.Options.WithMPI)

	films, err := Load(filepath.Join("..", "..", "plans", "film_inpgen.yaml"))
	require.NoError(t, err)
	require.Equal(t, 3, films.Jobs())
	require.Equal(t, "structure", films.Each.Port)
	require.Equal(t, []node.Ref{node.PKRef(11), node.PKRef(12), node.PKRef(13)}, films.Each.Refs)
	require.Equal(t, []node.Ref{node.PKRef(8), node.PKRef(11), node.PKRef(12), node.PKRef(13)}, films.AllRefs())

	ss, err := Load(filepath.Join("..", "..", "plans", "ssdisp.toml"))
	require.NoError(t, err)
	require.Equal(t, "fleur.ssdisp", ss.Process)
	require.Equal(t, node.PKRef(9), ss.Refs["fleur"])
	require.NotNil(t, ss.Options)
	require.Equal(t, 2, ss.Options.Resources.NumMPIProcsPerMachine)
	require.Nil(t, ss.Options.WithMPI)
	require.Equal(t, []node.Ref{
		{PK: 21, Output: "fleurinp"},
		{PK: 23, Output: "fleurinp"},
		{PK: 22, Output: "fleurinp"},
	}, ss.Each.Refs)
	kpt := ss.Dicts["calc_parameters"]["kpt"].(map[string]any)
	require.EqualValues(t, 12, kpt["div1"])
}

func TestParseRejectsPlaceholders(t *testing.T) {
	src := `
process: fleur.inpgen
refs:
  code: 8
each:
  port: structure
  refs: ["??", "??", "??"]
`
	_, err := Parse([]byte(src), FormatYAML)
	require.ErrorIs(t, err, node.ErrPlaceholder)

	toml := `
process = "fleur.ssdisp"
[refs]
fleur = "xxx"
`
	_, err = Parse([]byte(toml), FormatTOML)
	require.ErrorIs(t, err, node.ErrPlaceholder)
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"syntax":        "process: fleur.inpgen\nrefs: {code: 8\n",
		"unknown field": "process: fleur.inpgen\nstructures: [1]\n",
		"no process":    "refs: {code: 8}\n",
		"empty each":    "process: fleur.inpgen\neach: {port: structure, refs: []}\n",
		"double bound":  "process: fleur.inpgen\nrefs: {structure: 3}\neach: {port: structure, refs: [4]}\n",
		"ref and dict":  "process: fleur.inpgen\nrefs: {parameters: 3}\ndicts: {parameters: {}}\n",
		"empty":         "",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(src), FormatYAML)
			require.Error(t, err)
		})
	}
}

func TestLoadUnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))
	_, err := Load(path)
	require.ErrorContains(t, err, "unsupported file extension")

	_, err = Parse([]byte("{}"), Format("json"))
	require.Error(t, err)
}

func TestOptionsLeftUnbound(t *testing.T) {
	p, err := Parse([]byte("process: fleur.inpgen\nrefs: {code: 8, structure: 10}\n"), FormatYAML)
	require.NoError(t, err)
	require.Nil(t, p.Options)
}
