package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadscout/internal/config"
	"github.com/sells-group/leadscout/internal/model"
	"github.com/sells-group/leadscout/internal/pipeline"
)

var acquireCmd = &cobra.Command{
	Use:   "acquire",
	Short: "Run one lead acquisition pass",
	Long: `Searches every keyword on every platform, visits the matching posts, and writes
the leads found to the output directory.

The process exits non-zero only when the browser backend cannot start, the
configuration is invalid, or the results cannot be persisted. Timeouts, cooldown
skips and blocked pages are reported in the run summary instead.

Examples:
  leadscout acquire --platforms xhs,douyin --keywords "英国留学,美国研究生申请"
  leadscout acquire --enable-funnel --funnel-min-confidence 65 --knowledge-dir data/knowledge
  leadscout acquire --no-persist --no-db --global-timeout-sec 600`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyAcquireFlags(cmd, cfg)

		env, err := initEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Orchestrator().Run(ctx)
		if res != nil {
			printSummary(res)
		}
		if err != nil {
			zap.L().Error("acquire failed", zap.Error(err))
			return err
		}
		return nil
	},
}

func init() {
	acquireFlags(acquireCmd)
	rootCmd.AddCommand(acquireCmd)
}

func acquireFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("platforms", "xhs", "comma-separated platform names or aliases")
	f.String("keywords", strings.Join(config.DefaultKeywords, ","), "comma-separated search keywords")
	f.Int("max-posts-per-keyword", 6, "posts kept per keyword and sort mode")
	f.Int("max-comments-per-post", 24, "comments read per post")
	f.String("sort-mode", "both", "result ordering where supported: hot, latest or both")
	f.String("out-dir", "", "artifact output directory (default from config)")
	f.String("backend", "", "browser backend: openclaw or rod (default from config)")

	f.String("access-db", "", "access control SQLite file (default from config)")
	f.Int("video-cooldown-minutes", 240, "minimum minutes before a post is revisited")
	f.Int("user-cooldown-minutes", 120, "minimum minutes before an author is touched again")
	f.Int("access-max-entries", 120000, "access records kept after a sweep")
	f.Int("access-sweep-every", 400, "checks between access sweeps")
	f.Bool("disable-access-control", false, "visit and keep everything regardless of cooldowns")
	f.Bool("no-persist", false, "keep access records in memory for this run only")

	f.Bool("enable-funnel", false, "score leads through the intent funnel")
	f.Int("funnel-min-confidence", 58, "drop funnel-scored leads below this confidence")
	f.String("knowledge-dir", "", "directory of .md/.txt snippets for suggested replies")
	f.String("rules", "", "rule table YAML file (default: built-in tables)")
	f.String("vertical", "", "rule vertical to score with")

	f.Int("platform-timeout-sec", 420, "soft budget per platform in seconds (minimum 60)")
	f.Int("global-timeout-sec", 2400, "soft budget for the whole run in seconds (minimum 120)")
	f.Bool("no-db", false, "skip the downstream lead store")
}

// applyAcquireFlags overlays explicitly set flags onto c.
func applyAcquireFlags(cmd *cobra.Command, c *config.Config) {
	f := cmd.Flags()
	str := func(name string, dst *string) {
		if f.Changed(name) {
			*dst, _ = f.GetString(name)
		}
	}
	num := func(name string, dst *int) {
		if f.Changed(name) {
			*dst, _ = f.GetInt(name)
		}
	}
	flag := func(name string) bool {
		v, _ := f.GetBool(name)
		return f.Changed(name) && v
	}
	list := func(name string, dst *[]string) {
		if f.Changed(name) {
			v, _ := f.GetString(name)
			*dst = strings.Split(v, ",")
		}
	}

	list("platforms", &c.Acquire.Platforms)
	list("keywords", &c.Acquire.Keywords)
	num("max-posts-per-keyword", &c.Acquire.MaxPostsPerKeyword)
	num("max-comments-per-post", &c.Acquire.MaxCommentsPerPost)
	str("sort-mode", &c.Acquire.SortMode)
	str("out-dir", &c.Artifacts.OutDir)
	str("backend", &c.Driver.Backend)

	str("access-db", &c.Access.DBPath)
	num("video-cooldown-minutes", &c.Access.VideoCooldownMinutes)
	num("user-cooldown-minutes", &c.Access.UserCooldownMinutes)
	num("access-max-entries", &c.Access.MaxEntries)
	num("access-sweep-every", &c.Access.SweepEvery)
	if flag("disable-access-control") {
		c.Access.Enabled = false
	}
	if flag("no-persist") {
		c.Access.Persist = false
	}

	if flag("enable-funnel") {
		c.Funnel.Enabled = true
	}
	num("funnel-min-confidence", &c.Funnel.MinConfidence)
	str("knowledge-dir", &c.Funnel.KnowledgeDir)
	str("rules", &c.Funnel.RulesPath)
	str("vertical", &c.Funnel.Vertical)

	num("platform-timeout-sec", &c.Acquire.PlatformTimeoutSecs)
	num("global-timeout-sec", &c.Acquire.GlobalTimeoutSecs)
	if flag("no-db") {
		c.Store.Enabled = false
	}
}

// runReport is what acquire prints on stdout.
type runReport struct {
	Summary model.RunSummary `json:"summary"`
	Files   any              `json:"files"`
}

func printSummary(res *pipeline.Result) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	_ = enc.Encode(runReport{Summary: res.Summary, Files: res.Paths})
}
