package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/permitpack/api"
	"github.com/hazyhaar/permitpack/permit"
	"github.com/hazyhaar/permitpack/store"
)

const version = "1.0.0"

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newAssembleCmd(g *globalFlags) *cobra.Command {
	var req permit.Request
	var offline bool
	cmd := &cobra.Command{
		Use:   "assemble",
		Short: "Build a permit package and print the run report as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), g, cmd.ErrOrStderr(), appOptions{store: true, network: !offline, publish: true})
			if err != nil {
				return err
			}
			defer a.Close()

			rep, err := a.pipe.Run(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rep)
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.BOMPath, "bom", "", "BOM CSV file")
	f.StringVar(&req.BasePath, "base", "", "base permit PDF")
	f.StringVar(&req.OutputPath, "out", "", "output PDF (default <output_dir>/<run id>.pdf)")
	f.StringVar(&req.ProjectID, "project", "", "project id the run belongs to")
	f.IntVar(&req.MaxBasePages, "base-pages", 0, "front pages kept from the base document (default from config)")
	f.BoolVar(&offline, "offline", false, "skip network retrieval of missing sheets")
	cmd.MarkFlagRequired("bom")
	cmd.MarkFlagRequired("base")
	return cmd
}

func newLocateCmd(g *globalFlags) *cobra.Command {
	var bomPath string
	cmd := &cobra.Command{
		Use:   "locate",
		Short: "Resolve every BOM row against the spec-sheet cache and print the matches",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), g, cmd.ErrOrStderr(), appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			matches, err := a.pipe.LocateBOM(bomPath)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), matches)
		},
	}
	cmd.Flags().StringVar(&bomPath, "bom", "", "BOM CSV file")
	cmd.MarkFlagRequired("bom")
	return cmd
}

func newServeCmd(g *globalFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, g, cmd.ErrOrStderr(), appOptions{store: true, network: true, publish: true})
			if err != nil {
				return err
			}
			defer a.Close()
			if addr == "" {
				addr = a.cfg.HTTP.Addr
			}

			srv := &http.Server{
				Addr: addr,
				Handler: api.New(api.Config{
					Pipeline:     a.pipe,
					Metrics:      a.metrics,
					Username:     a.cfg.HTTP.Username,
					PasswordHash: a.cfg.HTTP.PasswordHash,
					Logger:       a.logger.With("component", "api"),
				}).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("permitpack: listening", "addr", addr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			a.logger.Info("permitpack: shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

func newMCPCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the permit tools over MCP on stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// stdout carries the protocol; logs go to stderr.
			a, err := newApp(cmd.Context(), g, cmd.ErrOrStderr(), appOptions{store: true, network: true, publish: true})
			if err != nil {
				return err
			}
			defer a.Close()

			srv := mcp.NewServer(&mcp.Implementation{Name: "permitpack", Version: version}, nil)
			a.pipe.RegisterMCP(srv)
			a.logger.Info("permitpack: mcp on stdio")
			return srv.Run(cmd.Context(), &mcp.StdioTransport{})
		},
	}
}

func newProjectCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage installation projects",
	}

	var p store.Project
	add := &cobra.Command{
		Use:   "add",
		Short: "Create or update a project",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), g, cmd.ErrOrStderr(), appOptions{store: true})
			if err != nil {
				return err
			}
			defer a.Close()

			if existing, err := a.store.GetProject(cmd.Context(), p.ID); err != nil {
				return err
			} else if existing != nil {
				p.CreatedAt = existing.CreatedAt
			}
			if err := a.store.UpsertProject(cmd.Context(), &p); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p)
		},
	}
	add.Flags().StringVar(&p.ID, "id", "", "project id")
	add.Flags().StringVar(&p.Name, "name", "", "project name")
	add.Flags().StringVar(&p.Address, "address", "", "site address")
	add.Flags().StringVar(&p.AHJ, "ahj", "", "authority having jurisdiction")
	add.MarkFlagRequired("id")
	add.MarkFlagRequired("name")

	list := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), g, cmd.ErrOrStderr(), appOptions{store: true})
			if err != nil {
				return err
			}
			defer a.Close()

			projects, err := a.store.ListProjects(cmd.Context())
			if err != nil {
				return err
			}
			if projects == nil {
				projects = []*store.Project{}
			}
			return printJSON(cmd.OutOrStdout(), projects)
		},
	}

	cmd.AddCommand(add, list)
	return cmd
}

func newRunsCmd(g *globalFlags) *cobra.Command {
	var projectID, runID string
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs, or show one with --id",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), g, cmd.ErrOrStderr(), appOptions{store: true})
			if err != nil {
				return err
			}
			defer a.Close()

			if runID != "" {
				run, err := a.store.GetRun(cmd.Context(), runID)
				if err != nil {
					return err
				}
				if run == nil {
					return fmt.Errorf("run %q not found", runID)
				}
				return printJSON(cmd.OutOrStdout(), run)
			}
			runs, err := a.store.ListRuns(cmd.Context(), projectID, limit)
			if err != nil {
				return err
			}
			if runs == nil {
				runs = []*store.Run{}
			}
			return printJSON(cmd.OutOrStdout(), runs)
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "only runs of this project")
	cmd.Flags().StringVar(&runID, "id", "", "show a single run with its components")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum runs listed")
	return cmd
}
