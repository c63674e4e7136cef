package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadscout/internal/extract"
	"github.com/sells-group/leadscout/internal/funnel"
	"github.com/sells-group/leadscout/internal/model"
	"github.com/sells-group/leadscout/internal/rules"
)

var funnelCmd = &cobra.Command{
	Use:   "funnel",
	Short: "Inspect lead scoring rules",
	Long:  "Commands for trying the rule scorer and the intent funnel against sample comments.",
}

var funnelScoreCmd = &cobra.Command{
	Use:   "score [text]",
	Short: "Score a comment the way acquire would",
	Long: `Scores the given comment text (or stdin when no argument is given) with the
rule scorer and the intent funnel, and prints both results as JSON.

Examples:
  leadscout funnel score "预算30万，想申请英国硕士，求推荐"
  echo "有没有靠谱的中介" | leadscout funnel score --vertical study_abroad --keyword 留学中介`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := scoreInput(args, cmd.InOrStdin())
		if err != nil {
			return err
		}
		f := cmd.Flags()
		if f.Changed("vertical") {
			cfg.Funnel.Vertical, _ = f.GetString("vertical")
		}
		if f.Changed("rules") {
			cfg.Funnel.RulesPath, _ = f.GetString("rules")
		}
		if f.Changed("knowledge-dir") {
			cfg.Funnel.KnowledgeDir, _ = f.GetString("knowledge-dir")
		}
		keyword, _ := f.GetString("keyword")
		platformName, _ := f.GetString("platform")
		author, _ := f.GetString("author")

		v, err := initVertical(cfg)
		if err != nil {
			return err
		}
		corpus, err := funnel.LoadCorpus(cfg.Funnel.KnowledgeDir)
		if err != nil {
			return eris.Wrap(err, "funnel score: load corpus")
		}
		report := scoreText(v, funnel.New(v, corpus, cfg.Funnel.TopK), platformName, keyword, author, text)

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

var funnelVerticalsCmd = &cobra.Command{
	Use:   "verticals",
	Short: "List the rule verticals available",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if rp, _ := cmd.Flags().GetString("rules"); rp != "" {
			cfg.Funnel.RulesPath = rp
		}
		set, err := initRuleSet(cfg)
		if err != nil {
			return err
		}
		for _, name := range set.Names() {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

func init() {
	f := funnelScoreCmd.Flags()
	f.String("vertical", "", "rule vertical (default from config)")
	f.String("rules", "", "rule table YAML file")
	f.String("knowledge-dir", "", "knowledge snippets directory")
	f.String("keyword", "", "search keyword the comment was found under")
	f.String("platform", "xhs", "platform the comment came from")
	f.String("author", "", "comment author")

	funnelVerticalsCmd.Flags().String("rules", "", "rule table YAML file")

	funnelCmd.AddCommand(funnelScoreCmd)
	funnelCmd.AddCommand(funnelVerticalsCmd)
	rootCmd.AddCommand(funnelCmd)
}

// scoreReport is printed by funnel score.
type scoreReport struct {
	Vertical        string        `json:"vertical"`
	RuleScore       int           `json:"rule_score"`
	RuleConfidence  int           `json:"rule_confidence"`
	BuyerSignal     bool          `json:"buyer_signal"`
	Agency          bool          `json:"agency"`
	Funnel          funnel.Result `json:"funnel"`
	BlendConfidence int           `json:"blend_confidence"`
	Stage           model.Stage   `json:"stage"`
}

func scoreText(v *rules.Vertical, eng *funnel.Engine, platformName, keyword, author, text string) scoreReport {
	ex := extract.New(v)
	score := ex.Score(text)
	ruleConf := extract.ConfidenceFromScore(score)
	res := eng.Evaluate(platformName, keyword, author, text, "")
	return scoreReport{
		Vertical:        v.Name,
		RuleScore:       score,
		RuleConfidence:  ruleConf,
		BuyerSignal:     ex.BuyerSignal(text),
		Agency:          ex.IsAgency(author, text),
		Funnel:          res,
		BlendConfidence: funnel.Blend(ruleConf, res.Confidence),
		Stage:           res.Stage,
	}
}

func scoreInput(args []string, stdin io.Reader) (string, error) {
	if len(args) == 1 {
		return strings.TrimSpace(args[0]), nil
	}
	if stdin == nil {
		stdin = os.Stdin
	}
	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", eris.Wrap(err, "funnel score: read stdin")
	}
	text := strings.TrimSpace(string(b))
	if text == "" {
		return "", eris.New("funnel score: no text given")
	}
	return text, nil
}
