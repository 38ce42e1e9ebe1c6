package node

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestFormulaHillOrder(t *testing.T) {
	cases := []struct {
		name    string
		symbols []string
		want    string
	}{
		{"single", []string{"Fe"}, "Fe"},
		{"repeated", []string{"Si", "Si"}, "Si2"},
		{"alphabetical without carbon", []string{"O", "Fe", "O"}, "FeO2"},
		{"carbon first", []string{"O", "H", "C", "H"}, "CH2O"},
		{"hydrogen alphabetical without carbon", []string{"O", "H", "H"}, "H2O"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &Structure{}
			for _, sym := range tc.symbols {
				s.Sites = append(s.Sites, Site{Symbol: sym})
			}
			require.Equal(t, tc.want, s.Formula())
		})
	}
}

func TestParseRef(t *testing.T) {
	ref, err := ParseRef("8")
	require.NoError(t, err)
	require.Equal(t, PKRef(8), ref)

	ref, err = ParseRef("21.outputs.fleurinp")
	require.NoError(t, err)
	require.Equal(t, Ref{PK: 21, Output: "fleurinp"}, ref)
	require.Equal(t, "21.outputs.fleurinp", ref.String())
	require.Equal(t, PKRef(21), ref.Base())

	ref, err = ParseRef("3f1c2a7e-0000-4000-8000-000000000000")
	require.NoError(t, err)
	require.Equal(t, "3f1c2a7e-0000-4000-8000-000000000000", ref.UUID)

	for _, bad := range []string{"??", "xxx", "XX", "?.outputs.fleurinp"} {
		_, err := ParseRef(bad)
		require.ErrorIs(t, err, ErrPlaceholder, bad)
	}

	_, err = ParseRef("")
	require.Error(t, err)
	_, err = ParseRef("-4")
	require.Error(t, err)
	_, err = ParseRef("5.outputs.")
	require.Error(t, err)
}

func TestRefUnmarshalYAML(t *testing.T) {
	var doc struct {
		A Ref `yaml:"a"`
		B Ref `yaml:"b"`
		C Ref `yaml:"c"`
	}
	src := `
a: 8
b: "12.outputs.fleurinp"
c: {pk: 21, output: fleurinp}
`
	require.NoError(t, yaml.Unmarshal([]byte(src), &doc))
	require.Equal(t, PKRef(8), doc.A)
	require.Equal(t, Ref{PK: 12, Output: "fleurinp"}, doc.B)
	require.Equal(t, Ref{PK: 21, Output: "fleurinp"}, doc.C)

	var bad struct {
		A Ref `yaml:"a"`
	}
	err := yaml.Unmarshal([]byte("a: \"??\"\n"), &bad)
	require.ErrorIs(t, err, ErrPlaceholder)

	err = yaml.Unmarshal([]byte("a: {pk: xxx}\n"), &bad)
	require.ErrorIs(t, err, ErrPlaceholder)

	err = yaml.Unmarshal([]byte("a: {pk: 1, nope: 2}\n"), &bad)
	require.ErrorContains(t, err, "unknown ref field")
}

func TestOptionsNormalized(t *testing.T) {
	o := Options{Resources: Resources{NumMPIProcsPerMachine: 2}}.Normalized()
	require.Equal(t, 1, o.Resources.NumMachines)
	require.NotNil(t, o.WithMPI)
	require.True(t, *o.WithMPI)

	off := false
	o = Options{Resources: Resources{NumMachines: 1, NumMPIProcsPerMachine: 1}, WithMPI: &off}.Normalized()
	require.False(t, *o.WithMPI)

	serial := Options{Resources: Resources{NumMPIProcsPerMachine: 1}}.Normalized()
	require.False(t, *serial.WithMPI)

	require.Error(t, Options{}.Validate())
	require.NoError(t, o.Validate())
}

func TestNodeValidateAndOutput(t *testing.T) {
	require.Error(t, (&Node{Type: TypeCode}).Validate())
	require.NoError(t, (&Node{Type: TypeCode, Code: &Code{Plugin: "fleur.inpgen"}}).Validate())
	require.Error(t, (&Node{Type: "data.unknown"}).Validate())
	require.Error(t, (&Node{Type: TypeStructure, Structure: &Structure{}}).Validate())

	calc := &Node{PK: 21, Type: TypeCalcJob, Process: &Process{
		Kind:    "fleur.inpgen",
		Outputs: map[string]int64{"fleurinp": 30},
	}}
	pk, err := calc.Output("fleurinp")
	require.NoError(t, err)
	require.Equal(t, int64(30), pk)

	_, err = calc.Output("remote_folder")
	require.ErrorIs(t, err, ErrNoOutput)
}
