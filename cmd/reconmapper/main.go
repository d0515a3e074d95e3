package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	reconerrors "github.com/PentesterFlow/ReconMapper/internal/errors"
	"github.com/PentesterFlow/ReconMapper/internal/explorer"
	"github.com/PentesterFlow/ReconMapper/internal/logger"
	"github.com/PentesterFlow/ReconMapper/internal/output"
	"github.com/PentesterFlow/ReconMapper/internal/reference"
	"github.com/PentesterFlow/ReconMapper/internal/shutdown"
	"github.com/PentesterFlow/ReconMapper/internal/state"
	"github.com/PentesterFlow/ReconMapper/pkg/recon"
)

var version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "reconmapper",
		Short: "ReconMapper - map the implicit API surface of a web application",
		Long: `ReconMapper crawls a web application, records every fetch/XHR exchange and
the DOM structure of each page, and turns the captures into API reference
documentation (JSON and Markdown).`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	addGlobalFlags(rootCmd)

	crawlCmd := &cobra.Command{
		Use:   "crawl [target]",
		Short: "Discover same-host pages breadth-first",
		Args:  cobra.ExactArgs(1),
		RunE:  runCrawl,
	}
	addCrawlFlags(crawlCmd)
	crawlCmd.Flags().StringP("output", "o", "", "Output file (default: stdout)")

	exploreCmd := &cobra.Command{
		Use:   "explore [target]",
		Short: "Crawl, then capture network traffic and page structure of every page",
		Args:  cobra.ExactArgs(1),
		RunE:  runExplore,
	}
	addCrawlFlags(exploreCmd)
	addExploreFlags(exploreCmd)
	exploreCmd.Flags().StringP("output", "o", "", "Capture file (default: stdout)")

	referenceCmd := &cobra.Command{
		Use:   "reference [captures.json...]",
		Short: "Build API reference documentation from capture files or a stored run",
		RunE:  runReference,
	}
	addReferenceFlags(referenceCmd)
	referenceCmd.Flags().String("api-segment", "", "Path segment that marks API calls (default /api/)")
	referenceCmd.Flags().String("store", "", "Read captures from this bbolt file")
	referenceCmd.Flags().String("run-id", "", "Stored run to use (default: latest)")
	referenceCmd.Flags().String("json", "api_reference.json", "Reference JSON output")
	referenceCmd.Flags().String("markdown", "API_REFERENCE.md", "Reference Markdown output")

	runCmd := &cobra.Command{
		Use:   "run [target]",
		Short: "Crawl, explore and write the API reference in one go",
		Args:  cobra.ExactArgs(1),
		RunE:  runAll,
	}
	addCrawlFlags(runCmd)
	addExploreFlags(runCmd)
	addReferenceFlags(runCmd)
	runCmd.Flags().String("captures", "", "Capture file")
	runCmd.Flags().String("json", "api_reference.json", "Reference JSON output")
	runCmd.Flags().String("markdown", "API_REFERENCE.md", "Reference Markdown output")
	runCmd.Flags().String("urls", "", "Write discovered URLs, one per line")
	runCmd.Flags().String("summary", "", "Run summary JSON output")

	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "List runs kept in a capture store",
		RunE:  runRuns,
	}
	runsCmd.Flags().String("store", "", "bbolt capture store")
	runsCmd.MarkFlagRequired("store")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "reconmapper", version)
		},
	}

	rootCmd.AddCommand(crawlCmd, exploreCmd, referenceCmd, runCmd, runsCmd, versionCmd)
	return rootCmd
}

// newLogger builds the process logger. Without -v only warnings are shown.
func newLogger(s *settings) *logger.Logger {
	cfg := logger.DefaultConfig()
	cfg.Level = logger.WarnLevel
	if s.boolean("verbose") {
		cfg.Level = logger.InfoLevel
	}
	if s.boolean("debug") {
		cfg.Level = logger.DebugLevel
	}
	cfg.File = s.str("log-file")
	l := logger.New(cfg)
	logger.SetGlobal(l)
	return l
}

// session wires logging, signal handling and the capture store shared by
// the commands that drive a browser.
type session struct {
	settings *settings
	config   *recon.Config
	log      *logger.Logger
	shutdown *shutdown.Handler
	store    state.Store
}

func newSession(cmd *cobra.Command, target string) (*session, error) {
	s, err := newSettings(cmd)
	if err != nil {
		return nil, err
	}
	cfg, err := s.loadConfig(target)
	if err != nil {
		return nil, err
	}
	log := newLogger(s)

	h := shutdown.New(context.Background(), shutdown.Config{
		OnShutdownStart: func() {
			log.Warn("interrupt received, stopping")
		},
		OnShutdownDone: func(elapsed time.Duration, errs []error) {
			for _, err := range errs {
				log.WithError(err).Warn("cleanup failed")
			}
		},
	})
	h.Listen()

	sess := &session{settings: s, config: cfg, log: log, shutdown: h}
	if cfg.Store.Path != "" {
		store, err := state.NewBoltStore(cfg.Store.Path)
		if err != nil {
			h.Stop()
			return nil, reconerrors.NewStoreError("open", err)
		}
		sess.store = store
	}
	return sess, nil
}

func (s *session) options() []recon.Option {
	opts := []recon.Option{
		recon.WithLogger(s.log),
		recon.WithShutdown(s.shutdown),
	}
	if s.store != nil {
		opts = append(opts, recon.WithStore(s.store))
	}
	if s.config.Output.Format == "jsonl" {
		opts = append(opts, recon.WithStream(os.Stdout))
	} else if s.settings.boolean("progress") && !s.config.Verbose && !s.config.Debug {
		opts = append(opts, recon.WithProgress(os.Stderr))
	}
	return opts
}

func (s *session) close() {
	s.shutdown.Stop()
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.log.WithError(err).Warn("failed to close capture store")
		}
	}
}

func runCrawl(cmd *cobra.Command, args []string) error {
	sess, err := newSession(cmd, args[0])
	if err != nil {
		return err
	}
	defer sess.close()

	r, err := recon.New(sess.config, recon.WithLogger(sess.log), recon.WithShutdown(sess.shutdown))
	if err != nil {
		return err
	}
	defer r.Close()

	urls, err := r.Crawl(sess.shutdown.Context())
	if err != nil && sess.shutdown.Context().Err() == nil {
		return err
	}

	out, _ := cmd.Flags().GetString("output")
	return output.WriteJSONFile(out, output.CrawlResult{
		StartURL:   sess.config.Target,
		Discovered: urls,
	}, true)
}

func runExplore(cmd *cobra.Command, args []string) error {
	sess, err := newSession(cmd, args[0])
	if err != nil {
		return err
	}
	defer sess.close()

	r, err := recon.New(sess.config, sess.options()...)
	if err != nil {
		return err
	}
	defer r.Close()

	ctx := sess.shutdown.Context()
	urls, err := r.Crawl(ctx)
	if err != nil && ctx.Err() == nil {
		return err
	}
	set, err := r.Explore(ctx, urls)
	if set == nil {
		return err
	}
	if err != nil && ctx.Err() == nil {
		return err
	}

	if sess.config.Output.Format == "jsonl" {
		return nil
	}
	out, _ := cmd.Flags().GetString("output")
	return output.WriteJSONFile(out, set, sess.config.Output.Pretty)
}

func runAll(cmd *cobra.Command, args []string) error {
	sess, err := newSession(cmd, args[0])
	if err != nil {
		return err
	}
	defer sess.close()

	flags := cmd.Flags()
	out := &sess.config.Output
	for name, dst := range map[string]*string{
		"captures": &out.Captures,
		"json":     &out.Reference,
		"markdown": &out.Markdown,
		"urls":     &out.URLs,
		"summary":  &out.Summary,
	} {
		if flags.Changed(name) || *dst == "" {
			*dst, _ = flags.GetString(name)
		}
	}

	r, err := recon.New(sess.config, sess.options()...)
	if err != nil {
		return err
	}
	defer r.Close()

	res, err := r.Run(sess.shutdown.Context())
	if res != nil && res.Summary != nil {
		r.PrintSummary(os.Stderr)
		for _, a := range res.Summary.Artifacts {
			sess.log.WithField("path", a).Info("artifact written")
		}
	}
	if err != nil && sess.shutdown.Context().Err() == nil {
		return err
	}
	return nil
}

func runReference(cmd *cobra.Command, args []string) error {
	s, err := newSettings(cmd)
	if err != nil {
		return err
	}
	log := newLogger(s)

	cfg := recon.DefaultConfig()
	if path := s.str("config"); path != "" {
		if cfg, err = recon.LoadFromFile(path); err != nil {
			return err
		}
	}
	s.apply(cfg)

	reg := reference.New(cfg.Reference, reference.WithLogger(log))

	storePath := s.str("store")
	switch {
	case storePath != "":
		if err := loadStored(reg, storePath, s.str("run-id")); err != nil {
			return err
		}
	case len(args) > 0:
		for _, path := range args {
			if _, err := reg.LoadFile(path); err != nil {
				return err
			}
		}
	default:
		if _, err := reg.Load(cmd.InOrStdin()); err != nil {
			return err
		}
	}

	jsonPath, _ := cmd.Flags().GetString("json")
	if err := output.WriteJSONFile(jsonPath, reg.Generate(), true); err != nil {
		return err
	}
	mdPath, _ := cmd.Flags().GetString("markdown")
	if err := reg.WriteMarkdownFile(mdPath); err != nil {
		return err
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "%d endpoints from %d reports -> %s, %s\n",
		reg.Len(), reg.Reports(), jsonPath, mdPath)
	return nil
}

// loadStored ingests runID from the store at path, or its latest run.
func loadStored(reg *reference.Registry, path, runID string) error {
	store, err := state.NewBoltStore(path)
	if err != nil {
		return reconerrors.NewStoreError("open", err)
	}
	defer store.Close()

	if runID == "" {
		runs, err := store.Runs()
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			return fmt.Errorf("capture store %s has no runs", path)
		}
		runID = runs[len(runs)-1].ID
	}

	return store.Results(runID, func(raw json.RawMessage) error {
		var res explorer.PageResult
		if err := json.Unmarshal(raw, &res); err != nil {
			return err
		}
		reg.IngestResult(res)
		return nil
	})
}

func runRuns(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("store")
	store, err := state.NewBoltStore(path)
	if err != nil {
		return reconerrors.NewStoreError("open", err)
	}
	defer store.Close()

	runs, err := store.Runs()
	if err != nil {
		return err
	}
	printRuns(cmd.OutOrStdout(), runs)
	return nil
}

func printRuns(w io.Writer, runs []state.RunInfo) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "no runs")
		return
	}
	for _, run := range runs {
		status := "incomplete"
		if !run.CompletedAt.IsZero() {
			status = run.CompletedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s  %-40s  %4d results  %s\n", run.ID, run.StartURL, run.Results, status)
	}
}
