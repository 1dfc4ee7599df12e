package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"blueprint/internal/app"
	"blueprint/internal/domain"
	"blueprint/internal/refine"
	"blueprint/internal/schema"
)

func graphCmd() *cobra.Command {
	g := &cobra.Command{
		Use:   "graph",
		Short: "Generate, refine and lay out graphs",
		Long:  "Graphs are {nodes, edges} documents. Generated graphs are validated and laid out before they are printed; files written with --out can be fed back to 'bp graph suggest'.",
	}
	g.AddCommand(graphGenerateCmd())
	g.AddCommand(graphSuggestCmd())
	g.AddCommand(graphValidateCmd())
	g.AddCommand(graphLayoutCmd())
	return g
}

func graphGenerateCmd() *cobra.Command {
	var text, variant, out string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a graph from a description",
		RunE: func(cmd *cobra.Command, args []string) error {
			if text == "" {
				return fmt.Errorf("--text required")
			}
			return withGenerator(cmd.Context(), func(ctx context.Context, gen generator, rt *app.Runtime) error {
				s := newSession(gen, rt)
				if err := s.Generate(ctx, text, domain.GraphVariant(variant)); err != nil {
					return err
				}
				return emitState(s.State(), out)
			})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "description of the system or flow")
	cmd.Flags().StringVar(&variant, "type", string(domain.VariantSystem), "system or user-flow")
	cmd.Flags().StringVar(&out, "out", "", "write the laid out graph to this file")
	return cmd
}

func graphSuggestCmd() *cobra.Command {
	var in, goal, out string
	cmd := &cobra.Command{
		Use:   "suggest",
		Short: "Revise a graph toward a goal",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(in, "in")
			if err != nil {
				return err
			}
			if goal == "" {
				return fmt.Errorf("--goal required")
			}
			g, err := schema.ValidateGraph(data)
			if err != nil {
				return err
			}
			return withGenerator(cmd.Context(), func(ctx context.Context, gen generator, rt *app.Runtime) error {
				s := newSession(gen, rt)
				if err := s.Load(ctx, g); err != nil {
					return err
				}
				if err := s.Suggest(ctx, goal); err != nil {
					return err
				}
				return emitState(s.State(), out)
			})
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "graph file, - for stdin")
	cmd.Flags().StringVar(&goal, "goal", "", "what the revised graph should achieve")
	cmd.Flags().StringVar(&out, "out", "", "write the laid out graph to this file")
	return cmd
}

func graphValidateCmd() *cobra.Command {
	var in string
	var strict bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a graph file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(in, "in")
			if err != nil {
				return err
			}
			g, err := schema.ValidateGraph(data, schema.WithStrictIf(strict))
			var verrs *schema.ValidationErrors
			if err != nil && !errors.As(err, &verrs) {
				return err
			}
			if v.GetBool("json") {
				report := map[string]any{"ok": err == nil}
				if verrs != nil {
					report["errors"] = verrs.Errors
				}
				if err := printJSON(report); err != nil {
					return err
				}
			} else if verrs == nil {
				fmt.Fprintf(stdout, "graph OK: %d nodes, %d edges\n", len(g.Nodes), len(g.Edges))
			} else {
				tw := table.NewWriter()
				tw.SetOutputMirror(stdout)
				tw.AppendHeader(table.Row{"Location", "Message"})
				for _, fe := range verrs.Errors {
					tw.AppendRow(table.Row{fe.Location, fe.Message})
				}
				tw.Render()
			}
			return err
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "graph file, - for stdin")
	cmd.Flags().BoolVar(&strict, "strict", false, "also reject dangling edges and duplicate ids")
	return cmd
}

func graphLayoutCmd() *cobra.Command {
	var in string
	cmd := &cobra.Command{
		Use:   "layout",
		Short: "Compute node positions for a graph file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(in, "in")
			if err != nil {
				return err
			}
			g, err := schema.ValidateGraph(data)
			if err != nil {
				return err
			}
			s := refine.NewSession(nil)
			if err := s.Load(cmd.Context(), g); err != nil {
				return err
			}
			return emitState(s.State(), "")
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "graph file, - for stdin")
	return cmd
}

func newSession(gen refine.Generator, rt *app.Runtime) *refine.Session {
	if rt == nil {
		return refine.NewSession(gen)
	}
	return refine.NewSession(gen, refine.WithLogger(rt.Logger), refine.WithMetrics(rt.Metrics))
}

// emitState prints the render state and optionally saves it as JSON.
func emitState(st refine.State, out string) error {
	if out != "" {
		data, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(out, append(data, '\n'), 0o644); err != nil {
			return err
		}
	}
	if v.GetBool("json") {
		return printJSON(st)
	}
	printState(st)
	return nil
}

func printState(st refine.State) {
	tw := table.NewWriter()
	tw.SetOutputMirror(stdout)
	tw.SetTitle("Nodes")
	tw.AppendHeader(table.Row{"ID", "Label", "Kind", "X", "Y"})
	for _, n := range st.Nodes {
		tw.AppendRow(table.Row{n.ID, n.Label, n.Kind, n.Position.X, n.Position.Y})
	}
	tw.Render()
	if len(st.Edges) == 0 {
		return
	}
	ew := table.NewWriter()
	ew.SetOutputMirror(stdout)
	ew.SetTitle("Edges")
	ew.AppendHeader(table.Row{"ID", "Source", "Target", "Label"})
	for _, e := range st.Edges {
		ew.AppendRow(table.Row{e.ID, e.Source, e.Target, e.Label})
	}
	ew.Render()
}
