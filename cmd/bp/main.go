package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"blueprint/internal/app"
	"blueprint/internal/config"
	"blueprint/internal/domain"
	"blueprint/internal/refine"
	blueprintsdk "blueprint/sdk/go"
)

var (
	// v resolves flags and BLUEPRINT_* env vars on top of blueprint.yml.
	v = config.NewViper()
	// stdout receives command output.
	stdout io.Writer = os.Stdout
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "bp",
		Short: "Blueprint CLI",
		Long: `Blueprint turns prose into architecture graphs and refines them with a language model.
- Graphs: nodes (service, db, queue, page, step) and edges, laid out left to right.
- Generation: every model call is one task (graph-from-text, graph-suggest, stack-recommend, project-plan, scaffold, docs).
- Output mode: lenient returns {} when the model misbehaves; strict reports malformed output.
- Event log: one row per model call, view with 'bp log tail'.
Configuration lives in blueprint.yml (or --config); any key can be overridden with BLUEPRINT_<SECTION>_<KEY>, see 'bp config keys'.`,
		SilenceUsage: true,
	}
	addPersistentFlags(root)
	registerCommands(root)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func addPersistentFlags(root *cobra.Command) {
	flags := root.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.String("config", "", "config file to use instead of <workspace>/blueprint.yml")
	flags.Bool("json", false, "output JSON")
	flags.String("server", "", "generate through a running Blueprint API instead of calling the model directly")
	flags.String("token", "", "bearer token for --server")
	flags.String("model", "", "model name")
	flags.String("output-mode", "", "lenient or strict")
	flags.String("log-level", "", "debug, info, warn or error")
	_ = v.BindPFlag("workspace", flags.Lookup("workspace"))
	_ = v.BindPFlag("config", flags.Lookup("config"))
	_ = v.BindPFlag("json", flags.Lookup("json"))
	_ = v.BindPFlag("server", flags.Lookup("server"))
	_ = v.BindPFlag("token", flags.Lookup("token"))
	_ = v.BindPFlag("model.name", flags.Lookup("model"))
	_ = v.BindPFlag("generation.output_mode", flags.Lookup("output-mode"))
	_ = v.BindPFlag("log.level", flags.Lookup("log-level"))
}

func registerCommands(root *cobra.Command) {
	root.AddCommand(serveCmd())
	root.AddCommand(graphCmd())
	root.AddCommand(stackCmd())
	root.AddCommand(planCmd())
	root.AddCommand(scaffoldCmd())
	root.AddCommand(docsCmd())
	root.AddCommand(logCmd())
	root.AddCommand(tokenCmd())
	root.AddCommand(configCmd())
}

// generator is every generation operation; both the local engine and the
// API client provide it.
type generator interface {
	refine.Generator
	RecommendStack(ctx context.Context, requirements string) (json.RawMessage, error)
	ProjectPlan(ctx context.Context, idea string, stack *domain.StackConfig) (json.RawMessage, error)
	Scaffold(ctx context.Context, plan json.RawMessage, stack domain.StackConfig) (json.RawMessage, error)
	DocsFromPlan(ctx context.Context, plan json.RawMessage) (string, error)
	DocsFromPrompt(ctx context.Context, prompt, docContext string) (json.RawMessage, error)
}

// withRuntime runs fn against a local runtime.
func withRuntime(ctx context.Context, skipModel bool, fn func(context.Context, *app.Runtime) error) error {
	rt, err := app.Open(ctx, app.Options{
		Workspace:  v.GetString("workspace"),
		ConfigPath: v.GetString("config"),
		Viper:      v,
		SkipModel:  skipModel,
	})
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

// withGenerator runs fn against the API named by --server, or a local engine.
// rt is nil in the remote case.
func withGenerator(ctx context.Context, fn func(ctx context.Context, gen generator, rt *app.Runtime) error) error {
	if addr := v.GetString("server"); addr != "" {
		client := blueprintsdk.New(addr)
		client.BearerToken = v.GetString("token")
		if err := client.Health(ctx); err != nil {
			return fmt.Errorf("server %s not reachable: %w", addr, err)
		}
		return fn(ctx, client, nil)
	}
	return withRuntime(ctx, false, func(ctx context.Context, rt *app.Runtime) error {
		return fn(ctx, rt.Engine, rt)
	})
}

// readInput reads path, or stdin for "-".
func readInput(path, flag string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("--%s required", flag)
	}
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read --%s: %w", flag, err)
	}
	return data, nil
}
