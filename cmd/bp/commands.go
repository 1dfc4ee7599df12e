package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"blueprint/internal/app"
	"blueprint/internal/config"
	"blueprint/internal/domain"
	"blueprint/internal/repo"
	"blueprint/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), false, func(ctx context.Context, rt *app.Runtime) error {
				cfg := rt.Config
				if cmd.Flags().Changed("addr") {
					cfg.Server.Addr = addr
				}
				if cmd.Flags().Changed("base-path") {
					cfg.Server.BasePath = basePath
				}
				handler, err := server.New(server.Config{
					Engine:     rt.Engine,
					Events:     rt.Events,
					BasePath:   cfg.Server.BasePath,
					Auth:       server.AuthConfig{JWTSecret: cfg.Server.JWTSecret},
					CORSOrigin: cfg.Server.CORSOrigin,
					Metrics:    rt.Metrics,
					Logger:     rt.Logger,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				rt.Logger.Info("serving Blueprint API",
					"addr", cfg.Server.Addr,
					"base_path", cfg.Server.BasePath,
					"auth", cfg.Server.JWTSecret != "",
					"events", rt.Events != nil,
				)
				fmt.Fprintf(stdout, "Serving Blueprint API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs, metrics at /metrics)\n",
					cfg.Server.Addr, cfg.Server.BasePath, cfg.Server.BasePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	return cmd
}

func stackCmd() *cobra.Command {
	st := &cobra.Command{Use: "stack", Short: "Technology stack helpers"}
	var requirements string
	recommend := &cobra.Command{
		Use:   "recommend",
		Short: "Recommend a technology stack",
		RunE: func(cmd *cobra.Command, args []string) error {
			if requirements == "" {
				return fmt.Errorf("--requirements required")
			}
			return withGenerator(cmd.Context(), func(ctx context.Context, gen generator, _ *app.Runtime) error {
				out, err := gen.RecommendStack(ctx, requirements)
				if err != nil {
					return err
				}
				if v.GetBool("json") {
					return printRaw(out)
				}
				return printRecommendation(out)
			})
		},
	}
	recommend.Flags().StringVar(&requirements, "requirements", "", "free-form requirements")
	st.AddCommand(recommend)
	return st
}

func planCmd() *cobra.Command {
	var idea, stackFile string
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Draft a project plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			if idea == "" {
				return fmt.Errorf("--idea required")
			}
			var stack *domain.StackConfig
			if stackFile != "" {
				s, err := loadStack(stackFile)
				if err != nil {
					return err
				}
				stack = &s
			}
			return withGenerator(cmd.Context(), func(ctx context.Context, gen generator, _ *app.Runtime) error {
				out, err := gen.ProjectPlan(ctx, idea, stack)
				if err != nil {
					return err
				}
				return printRaw(out)
			})
		},
	}
	cmd.Flags().StringVar(&idea, "idea", "", "what to build")
	cmd.Flags().StringVar(&stackFile, "stack-file", "", "YAML or JSON stack config")
	return cmd
}

func scaffoldCmd() *cobra.Command {
	var planFile, stackFile string
	cmd := &cobra.Command{
		Use:   "scaffold",
		Short: "Generate starter files for a plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := readInput(planFile, "plan-file")
			if err != nil {
				return err
			}
			if stackFile == "" {
				return fmt.Errorf("--stack-file required")
			}
			stack, err := loadStack(stackFile)
			if err != nil {
				return err
			}
			return withGenerator(cmd.Context(), func(ctx context.Context, gen generator, _ *app.Runtime) error {
				out, err := gen.Scaffold(ctx, bytes.TrimSpace(plan), stack)
				if err != nil {
					return err
				}
				return printRaw(out)
			})
		},
	}
	cmd.Flags().StringVar(&planFile, "plan-file", "", "project plan JSON, - for stdin")
	cmd.Flags().StringVar(&stackFile, "stack-file", "", "YAML or JSON stack config")
	return cmd
}

func docsCmd() *cobra.Command {
	var planFile, prompt, contextFile string
	cmd := &cobra.Command{
		Use:   "docs",
		Short: "Write documentation from a plan or a prompt",
		Long:  "With --plan-file, prints Markdown. With --prompt, prints a structured document as JSON.",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case planFile != "" && prompt != "":
				return fmt.Errorf("use either --plan-file or --prompt")
			case planFile != "":
				plan, err := readInput(planFile, "plan-file")
				if err != nil {
					return err
				}
				return withGenerator(cmd.Context(), func(ctx context.Context, gen generator, _ *app.Runtime) error {
					md, err := gen.DocsFromPlan(ctx, bytes.TrimSpace(plan))
					if err != nil {
						return err
					}
					if v.GetBool("json") {
						return printJSON(map[string]string{"markdown": md})
					}
					fmt.Fprintln(stdout, md)
					return nil
				})
			case prompt != "":
				var docContext string
				if contextFile != "" {
					data, err := readInput(contextFile, "context-file")
					if err != nil {
						return err
					}
					docContext = string(data)
				}
				return withGenerator(cmd.Context(), func(ctx context.Context, gen generator, _ *app.Runtime) error {
					out, err := gen.DocsFromPrompt(ctx, prompt, docContext)
					if err != nil {
						return err
					}
					return printRaw(out)
				})
			default:
				return fmt.Errorf("--plan-file or --prompt required")
			}
		},
	}
	cmd.Flags().StringVar(&planFile, "plan-file", "", "project plan JSON, - for stdin")
	cmd.Flags().StringVar(&prompt, "prompt", "", "what to document")
	cmd.Flags().StringVar(&contextFile, "context-file", "", "background text for --prompt")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Generation event log",
		Long:  "One row per model call: task, outcome, duration and output size. Model output itself is never stored.",
	}
	log.AddCommand(logTailCmd())
	log.AddCommand(logSummaryCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEvents(cmd.Context(), func(ctx context.Context, r *repo.Repo) error {
				events, err := r.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				if v.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(stdout)
				tw.AppendHeader(table.Row{"Time", "Task", "Status", "Duration", "Bytes", "Model", "Error"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.TS, e.Task, e.Status, time.Duration(e.DurationMS) * time.Millisecond, e.OutputBytes, e.Model, e.ErrorCode})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&f.Limit, "n", "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Task, "task", "", "task filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	return cmd
}

func logSummaryCmd() *cobra.Command {
	var task string
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Count events by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEvents(cmd.Context(), func(ctx context.Context, r *repo.Repo) error {
				counts, err := r.CountByStatus(ctx, task)
				if err != nil {
					return err
				}
				if v.GetBool("json") {
					return printJSON(counts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(stdout)
				tw.AppendHeader(table.Row{"Status", "Count"})
				total := 0
				for _, status := range []string{"ok", "empty", "malformed", "error"} {
					tw.AppendRow(table.Row{status, counts[status]})
					total += counts[status]
				}
				tw.AppendFooter(table.Row{"total", total})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&task, "task", "", "task filter")
	return cmd
}

func withEvents(ctx context.Context, fn func(context.Context, *repo.Repo) error) error {
	return withRuntime(ctx, true, func(ctx context.Context, rt *app.Runtime) error {
		if rt.Events == nil {
			return fmt.Errorf("event log is disabled (events.enabled: false)")
		}
		return fn(ctx, rt.Events)
	})
}

func tokenCmd() *cobra.Command {
	var subject string
	var scopes []string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the API",
		Long:  "Signs an HS256 token with server.jwt_secret (or BLUEPRINT_SERVER_JWT_SECRET).",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), true, func(ctx context.Context, rt *app.Runtime) error {
				token, err := server.SignToken(rt.Config.Server.JWTSecret, subject, scopes, ttl, time.Now())
				if err != nil {
					return err
				}
				if v.GetBool("json") {
					return printJSON(map[string]string{"token": token})
				}
				fmt.Fprintln(stdout, token)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject")
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "scopes to embed, e.g. "+server.ScopeEventsRead+" for the event log endpoints")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime, 0 for none")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
		Long:  "Configuration is read from blueprint.yml in the workspace, then overridden by BLUEPRINT_* env vars and flags.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configKeysCmd())
	return cfg
}

func configKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "List overridable keys with their env vars and effective values",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), true, func(ctx context.Context, rt *app.Runtime) error {
				settings, err := rt.Config.Settings()
				if err != nil {
					return err
				}
				if settings["server.jwt_secret"] != "" {
					settings["server.jwt_secret"] = "********"
				}
				type row struct {
					Key   string `json:"key"`
					Env   string `json:"env"`
					Value string `json:"value"`
				}
				rows := make([]row, 0, len(config.Keys))
				for _, key := range config.Keys {
					rows = append(rows, row{Key: key, Env: config.EnvVar(key), Value: settings[key]})
				}
				if v.GetBool("json") {
					return printJSON(rows)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(stdout)
				tw.AppendHeader(table.Row{"Key", "Env", "Value"})
				for _, r := range rows {
					tw.AppendRow(table.Row{r.Key, r.Env, r.Value})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), true, func(ctx context.Context, rt *app.Runtime) error {
				shown := *rt.Config
				if shown.Server.JWTSecret != "" {
					shown.Server.JWTSecret = "********"
				}
				if v.GetBool("json") {
					return printJSON(shown)
				}
				return yaml.NewEncoder(stdout).Encode(shown)
			})
		},
	}
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default blueprint.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(v.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Fprintln(stdout, "wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

// loadStack reads a stack config from YAML or JSON.
func loadStack(path string) (domain.StackConfig, error) {
	var s domain.StackConfig
	data, err := readInput(path, "stack-file")
	if err != nil {
		return s, err
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse stack file: %w", err)
	}
	return s, nil
}

func printRecommendation(raw json.RawMessage) error {
	var rec domain.StackRecommendation
	if err := json.Unmarshal(raw, &rec); err != nil {
		return printRaw(raw)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(stdout)
	tw.AppendHeader(table.Row{"Area", "Choice", "Reasons"})
	row := func(area string, r domain.Recommendation) {
		if r.Choice != "" {
			tw.AppendRow(table.Row{area, r.Choice, strings.Join(r.Reasons, "; ")})
		}
	}
	row("frontend", rec.Frontend)
	row("backend", rec.Backend)
	row("auth", rec.Auth)
	row("deployment", rec.Deployment)
	for _, r := range rec.Additional {
		row("additional", r)
	}
	tw.Render()
	return nil
}

func printRaw(raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		_, werr := stdout.Write(raw)
		return werr
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(stdout)
	return err
}

func printJSON(val any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(val)
}
