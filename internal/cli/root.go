// Package cli implements layoutctl, the command line client for the layout API.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/g960059/layoutsync/internal/api"
	"github.com/g960059/layoutsync/internal/appclient"
	"github.com/g960059/layoutsync/internal/config"
	"github.com/g960059/layoutsync/internal/coordinator"
	"github.com/g960059/layoutsync/internal/history"
	"github.com/g960059/layoutsync/internal/model"
	"github.com/g960059/layoutsync/internal/store"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

type globalOptions struct {
	configPath string
	baseURL    string
	cachePath  string
	timeout    time.Duration
	jsonOut    bool
	noCache    bool
}

type app struct {
	opts   globalOptions
	out    io.Writer
	errOut io.Writer
	logger *zap.SugaredLogger
	// target is the API base URL of the last client built.
	target string
}

type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return usagef("%s takes %d argument(s), got %d", cmd.CommandPath(), n, len(args))
		}
		return nil
	}
}

// Run executes layoutctl with args and returns the process exit code.
func Run(ctx context.Context, args []string, out, errOut io.Writer) int {
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	a := &app{out: out, errOut: errOut, logger: zap.NewNop().Sugar()}
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(errOut)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	_, _ = fmt.Fprintf(errOut, "error: %v\n", err)
	var reqErr *appclient.RequestError
	if errors.As(err, &reqErr) && reqErr.Retryable() {
		_, _ = fmt.Fprintf(errOut, "hint: %s may be temporarily unavailable, retry the command\n", a.target)
	}
	var ue *usageError
	if errors.As(err, &ue) || strings.HasPrefix(err.Error(), "unknown command") {
		return exitUsage
	}
	return exitFailure
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "layoutctl",
		Short:         "Inspect and edit the synchronized UI layout",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{msg: err.Error()}
	})
	pf := root.PersistentFlags()
	pf.StringVar(&a.opts.configPath, "config", "", "YAML config file")
	pf.StringVar(&a.opts.baseURL, "api", "", "layout API base URL (default from config or LAYOUT_API_BASE)")
	pf.StringVar(&a.opts.cachePath, "cache", "", "local layout cache file")
	pf.DurationVar(&a.opts.timeout, "timeout", 0, "per-request timeout")
	pf.BoolVar(&a.opts.jsonOut, "json", false, "output JSON")
	pf.BoolVar(&a.opts.noCache, "no-cache", false, "do not read or write the local layout cache")

	root.AddCommand(
		a.getCommand(),
		a.writeCommand("replace", "Replace the whole layout", false),
		a.writeCommand("patch", "Update the given panels and keep the rest", true),
		a.historyCommand(),
		a.navigateCommand("undo", history.Back),
		a.navigateCommand("redo", history.Forward),
		a.presetsCommand(),
	)
	return root
}

func (a *app) clientConfig() (config.ClientConfig, error) {
	cfg := config.DefaultConfig()
	var err error
	if a.opts.configPath != "" {
		if cfg, err = config.LoadFile(cfg, a.opts.configPath); err != nil {
			return config.ClientConfig{}, err
		}
	}
	if cfg, err = config.ApplyEnv(cfg, os.LookupEnv); err != nil {
		return config.ClientConfig{}, err
	}
	cc := cfg.Client
	if a.opts.baseURL != "" {
		cc.BaseURL = a.opts.baseURL
	}
	if a.opts.cachePath != "" {
		cc.CachePath = a.opts.cachePath
	}
	if a.opts.timeout > 0 {
		cc.RequestTimeout = a.opts.timeout
	}
	if strings.TrimSpace(cc.BaseURL) == "" {
		return config.ClientConfig{}, usagef("no API base URL configured")
	}
	return cc, nil
}

func (a *app) client() (*appclient.Client, config.ClientConfig, error) {
	cc, err := a.clientConfig()
	if err != nil {
		return nil, cc, err
	}
	c := appclient.New(cc.BaseURL)
	if cc.RequestTimeout > 0 {
		c = c.WithUnaryTimeout(cc.RequestTimeout)
	}
	a.target = c.BaseURL()
	return c, cc, nil
}

// session builds a coordinator over a store hydrated from the local cache and then
// from the server.
func (a *app) session(ctx context.Context) (*coordinator.Coordinator, *store.LayoutSlice, error) {
	c, cc, err := a.client()
	if err != nil {
		return nil, nil, err
	}
	var opts []store.SliceOption
	if !a.opts.noCache && cc.CachePath != "" {
		opts = append(opts, store.WithCache(store.NewFileCache(cc.CachePath)))
	}
	slice, err := store.NewLayoutSlice(store.New(), a.logger, opts...)
	if err != nil {
		return nil, nil, err
	}
	co := coordinator.New(c, slice, a.logger, coordinator.WithTimeout(cc.RequestTimeout))
	if err := co.Preload(ctx); err != nil {
		return nil, nil, err
	}
	return co, slice, nil
}

func (a *app) getCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Print the current layout",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, _, err := a.client()
			if err != nil {
				return err
			}
			layout, err := c.GetLayout(cmd.Context())
			if err != nil {
				return err
			}
			return a.printLayout(layout)
		},
	}
}

func (a *app) writeCommand(use, short string, patch bool) *cobra.Command {
	var (
		panelSpecs []string
		file       string
	)
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Long: short + `.

Panels come from --file (a {"panels": {...}} document, "-" for stdin) or from
repeated --panel flags of the form id:key=value,... with keys visible, collapsed,
x, y, w and h.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			panels, err := readPanels(cmd.InOrStdin(), file, panelSpecs)
			if err != nil {
				return err
			}
			co, slice, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			var m *coordinator.MutationContext
			if patch {
				m, err = co.PatchPanels(cmd.Context(), panels)
			} else {
				m, err = co.ReplaceLayout(cmd.Context(), panels)
			}
			if err != nil {
				return err
			}
			if m.Stale {
				_, _ = fmt.Fprintln(a.errOut, "warning: server returned an older layout; keeping local state")
			}
			return a.printLayout(slice.Snapshot())
		},
	}
	cmd.Flags().StringArrayVar(&panelSpecs, "panel", nil, "panel layout as id:key=value,...")
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON file with a panels object")
	return cmd
}

func (a *app) historyCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent layout snapshots, oldest first",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 0 || limit > model.MaxHistoryFetchLimit {
				return usagef("--limit must be between 1 and %d", model.MaxHistoryFetchLimit)
			}
			c, _, err := a.client()
			if err != nil {
				return err
			}
			snaps, err := c.History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if a.opts.jsonOut {
				return a.writeJSON(api.HistoryResponse{Snapshots: api.FromLayouts(snaps)})
			}
			for i, s := range snaps {
				_, _ = fmt.Fprintf(a.out, "%d\t%s\t%d panels\n", i, formatTS(s.LastUpdatedUTC), len(s.Panels))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "number of snapshots (1-100, default 20)")
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop history and keep only the current layout",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			co, slice, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			if _, err := co.ClearHistory(cmd.Context()); err != nil {
				return err
			}
			return a.printLayout(slice.Snapshot())
		},
	})
	return cmd
}

func (a *app) navigateCommand(use string, dir history.Direction) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: fmt.Sprintf("Move %s one step in layout history", dir),
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			co, slice, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			m, err := co.Navigate(cmd.Context(), dir)
			if err != nil {
				return err
			}
			if m == nil {
				_, _ = fmt.Fprintf(a.errOut, "nothing to %s\n", use)
				return nil
			}
			return a.printLayout(slice.Snapshot())
		},
	}
}

func (a *app) presetsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "presets",
		Aliases: []string{"preset"},
		Short:   "Manage saved layout presets",
		Args:    exactArgs(0),
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List presets, most recently updated first",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, _, err := a.client()
			if err != nil {
				return err
			}
			presets, err := c.ListPresets(cmd.Context())
			if err != nil {
				return err
			}
			if a.opts.jsonOut {
				return a.writeJSON(api.PresetsResponse{Layouts: api.FromPresets(presets)})
			}
			for _, p := range model.SortPresets(presets) {
				_, _ = fmt.Fprintf(a.out, "%s\t%s\t%s\t%d panels\n", p.ID, p.Name, api.FormatTimestamp(p.UpdatedUTC), len(p.Snapshot.Panels))
			}
			return nil
		},
	}
	create := &cobra.Command{
		Use:   "create NAME",
		Short: "Save the current layout as a preset",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := model.ValidatePresetName(args[0])
			if err != nil {
				return usagef("%v", err)
			}
			co, _, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			p, err := co.CreatePreset(cmd.Context(), name)
			if err != nil {
				return err
			}
			return a.printPreset("created", p)
		},
	}
	rename := &cobra.Command{
		Use:   "rename ID NAME",
		Short: "Rename a preset",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := model.ValidatePresetName(args[1])
			if err != nil {
				return usagef("%v", err)
			}
			c, _, err := a.client()
			if err != nil {
				return err
			}
			p, err := c.RenamePreset(cmd.Context(), args[0], name)
			if err != nil {
				return err
			}
			return a.printPreset("renamed", p)
		},
	}
	del := &cobra.Command{
		Use:     "delete ID",
		Aliases: []string{"rm"},
		Short:   "Delete a preset",
		Args:    exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := a.client()
			if err != nil {
				return err
			}
			p, err := c.DeletePreset(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printPreset("deleted", p)
		},
	}
	apply := &cobra.Command{
		Use:   "apply ID",
		Short: "Replace the current layout with a preset",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			co, slice, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			if _, err := co.ApplyPreset(cmd.Context(), args[0]); err != nil {
				return err
			}
			return a.printLayout(slice.Snapshot())
		},
	}
	cmd.AddCommand(list, create, rename, del, apply)
	return cmd
}

func (a *app) printLayout(layout model.LayoutState) error {
	if a.opts.jsonOut {
		return a.writeJSON(api.FromLayout(layout))
	}
	_, _ = fmt.Fprintf(a.out, "lastUpdatedUtc\t%s\n", formatTS(layout.LastUpdatedUTC))
	ids := make([]string, 0, len(layout.Panels))
	for id := range layout.Panels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		p := layout.Panels[id]
		_, _ = fmt.Fprintf(a.out, "%s\tvisible=%t\tcollapsed=%t\tx=%g\ty=%g\tw=%g\th=%g\n", id, p.Visible, p.Collapsed, p.X, p.Y, p.W, p.H)
	}
	return nil
}

func (a *app) printPreset(verb string, p model.Preset) error {
	if a.opts.jsonOut {
		return a.writeJSON(api.PresetResponse{Preset: api.FromPreset(p)})
	}
	_, _ = fmt.Fprintf(a.out, "%s preset %s (%s)\n", verb, p.Name, p.ID)
	return nil
}

func (a *app) writeJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, _ = a.out.Write(append(data, '\n'))
	return nil
}

func formatTS(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return api.FormatTimestamp(*t)
}

func readPanels(stdin io.Reader, file string, specs []string) (map[string]model.PanelLayout, error) {
	if file != "" && len(specs) > 0 {
		return nil, usagef("use either --file or --panel, not both")
	}
	if file != "" {
		var (
			data []byte
			err  error
		)
		if file == "-" {
			data, err = io.ReadAll(stdin)
		} else {
			data, err = os.ReadFile(file)
		}
		if err != nil {
			return nil, fmt.Errorf("read panels: %w", err)
		}
		payload, err := model.ParseLayoutPayload(data)
		if err != nil {
			return nil, usagef("%v", err)
		}
		return payload.Panels, nil
	}
	if len(specs) == 0 {
		return nil, usagef("at least one --panel or --file is required")
	}
	panels := make(map[string]model.PanelLayout, len(specs))
	for _, spec := range specs {
		id, layout, err := parsePanelSpec(spec)
		if err != nil {
			return nil, err
		}
		panels[id] = layout
	}
	return panels, nil
}

// parsePanelSpec reads id:key=value,... Unset keys default to a visible, expanded
// panel at the origin with zero size.
func parsePanelSpec(spec string) (string, model.PanelLayout, error) {
	id, rest, ok := strings.Cut(spec, ":")
	id = strings.TrimSpace(id)
	if !ok || id == "" {
		return "", model.PanelLayout{}, usagef("invalid --panel %q: want id:key=value,...", spec)
	}
	p := model.PanelLayout{Visible: true}
	for _, kv := range strings.Split(rest, ",") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return "", model.PanelLayout{}, usagef("invalid --panel %q: %q is not key=value", spec, kv)
		}
		var err error
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "visible":
			p.Visible, err = strconv.ParseBool(value)
		case "collapsed":
			p.Collapsed, err = strconv.ParseBool(value)
		case "x":
			p.X, err = strconv.ParseFloat(value, 64)
		case "y":
			p.Y, err = strconv.ParseFloat(value, 64)
		case "w":
			p.W, err = strconv.ParseFloat(value, 64)
		case "h":
			p.H, err = strconv.ParseFloat(value, 64)
		default:
			return "", model.PanelLayout{}, usagef("invalid --panel %q: unknown key %q", spec, key)
		}
		if err != nil {
			return "", model.PanelLayout{}, usagef("invalid --panel %q: %s: %v", spec, key, err)
		}
	}
	return id, p, nil
}
