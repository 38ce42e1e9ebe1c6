package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"fleur-q/internal/calc"
	"fleur-q/internal/node"
)

func (a *app) nodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Inspect and store nodes",
	}
	cmd.AddCommand(a.nodeShowCmd(), a.nodeCreateStructureCmd(), a.nodeCreateCodeCmd())
	return cmd
}

func (a *app) nodeShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <ref>",
		Short: "Show a node by PK, UUID or <pk>.outputs.<label>",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := node.ParseRef(args[0])
			if err != nil {
				return err
			}
			eng, err := a.backend()
			if err != nil {
				return err
			}
			n, err := eng.LoadNode(cmd.Context(), ref)
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(n, "", "  ")
			if err != nil {
				return err
			}
			files, err := eng.Files(cmd.Context(), ref)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", titleStyle.Render(n.String()), subtitleStyle.Render(n.UUID))
			fmt.Fprintln(out, string(data))
			if len(files) > 0 {
				fmt.Fprintf(out, "%s %s\n", subtitleStyle.Render("files:"), strings.Join(files, " "))
			}
			return nil
		},
	}
}

// structureFile is the on-disk form accepted by create-structure.
type structureFile struct {
	Label       string         `yaml:"label"`
	Description string         `yaml:"description"`
	Structure   node.Structure `yaml:"structure"`
}

func readStructureFile(path string) (*node.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sf structureFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sf); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	n := &node.Node{
		Type:        node.TypeStructure,
		Label:       sf.Label,
		Description: sf.Description,
		Structure:   &sf.Structure,
	}
	if err := n.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return n, nil
}

func (a *app) nodeCreateStructureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create-structure <file>",
		Short: "Store a structure read from a YAML or JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := readStructureFile(args[0])
			if err != nil {
				return err
			}
			eng, err := a.backend()
			if err != nil {
				return err
			}
			created, err := eng.CreateNode(cmd.Context(), n)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s structure %s as pk=%s uuid=%s\n",
				successStyle.Render("Stored"), created.Formula(),
				valueStyle.Render(fmt.Sprint(created.PK)), created.UUID)
			return nil
		},
	}
}

func (a *app) nodeCreateCodeCmd() *cobra.Command {
	var c node.Code
	var label string
	cmd := &cobra.Command{
		Use:   "create-code",
		Short: "Register an inpgen or fleur executable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.Plugin != calc.PluginInpgen && c.Plugin != calc.PluginFleur {
				return fmt.Errorf("plugin must be %s or %s, got %q", calc.PluginInpgen, calc.PluginFleur, c.Plugin)
			}
			if c.Executable == "" {
				return errors.New("--executable is required")
			}
			eng, err := a.backend()
			if err != nil {
				return err
			}
			created, err := eng.CreateNode(cmd.Context(), &node.Node{Type: node.TypeCode, Label: label, Code: &c})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s code %s@%s as pk=%s uuid=%s\n",
				successStyle.Render("Stored"), label, c.Computer,
				valueStyle.Render(fmt.Sprint(created.PK)), created.UUID)
			return nil
		},
	}
	cmd.Flags().StringVar(&c.Plugin, "plugin", calc.PluginInpgen, "input plugin (fleur.inpgen or fleur.fleur)")
	cmd.Flags().StringVar(&c.Computer, "computer", "localhost", "computer the executable lives on")
	cmd.Flags().StringVar(&c.Executable, "executable", "", "absolute path of the executable")
	cmd.Flags().StringVar(&label, "label", "", "code label")
	return cmd
}

func (a *app) kindsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List submittable process kinds and their ports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, k := range calc.Kinds() {
				fmt.Fprintf(out, "%s %s\n", titleStyle.Render(k.Name), subtitleStyle.Render(k.Class))
				for _, p := range k.Ports {
					req := "optional"
					if p.Required {
						req = "required"
					}
					fmt.Fprintf(out, "  %s %s\n", valueStyle.Render(fmt.Sprintf("%-18s", p.Name)), req)
				}
			}
			return nil
		},
	}
}
