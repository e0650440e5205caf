package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"

	scanannotator "github.com/menta2k/scan-annotator"
	"github.com/menta2k/scan-annotator/internal/config"
	"github.com/menta2k/scan-annotator/internal/logger"
	"github.com/menta2k/scan-annotator/internal/utils"
	"github.com/menta2k/scan-annotator/pkg/detection"
	"github.com/menta2k/scan-annotator/pkg/processing"
	"github.com/menta2k/scan-annotator/pkg/types"
)

const usage = `usage: %s <command> [flags]

commands:
  analyze  -in scan.png [-embed] [-view mask|box|original] [-out composite.png] [-report dir] [-json]
  render   -in scan.png -result result.json [-view mask] -out composite.png
  history  list | show <id> | clear
  export   -id <history id> [-dir reports]
  config   init [-path config.yaml]
  version

every command accepts -config <file> (json or yaml) and -env <file>
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, usage, filepath.Base(os.Args[0]))
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "analyze":
		err = runAnalyze(ctx, args)
	case "render":
		err = runRender(ctx, args)
	case "history":
		err = runHistory(ctx, args)
	case "export":
		err = runExport(ctx, args)
	case "config":
		err = runConfig(args)
	case "version":
		fmt.Println(scanannotator.Version)
	default:
		fmt.Fprintf(os.Stderr, usage, filepath.Base(os.Args[0]))
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, scanannotator.UserMessage(err))
		logger.ErrorWithTraceID(logger.Get(), logger.Fields{"command": cmd, "error": err.Error()}, "command failed")
		os.Exit(1)
	}
}

// common holds the flags shared by every command
type common struct {
	configPath string
	envFile    string
}

func (c *common) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "config file (json or yaml), defaults to "+config.GetConfigPath())
	fs.StringVar(&c.envFile, "env", ".env", "dotenv file with overrides")
}

// load reads the config, applies the environment and initialises the logger
func (c *common) load() (*config.Config, *logrus.Logger, error) {
	path := c.configPath
	if path == "" && utils.FileExists(config.GetConfigPath()) {
		path = config.GetConfigPath()
	}

	cfg := config.Default()
	if path != "" {
		loaded, err := config.LoadFromFile(path)
		if err != nil {
			return nil, nil, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(c.envFile); err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	log := logger.New(logger.Options{Level: cfg.Log.Level, File: cfg.Log.File, NoColors: cfg.Log.NoColors})
	return cfg, log, nil
}

func (c *common) annotator(ctx context.Context) (*scanannotator.Annotator, error) {
	cfg, log, err := c.load()
	if err != nil {
		return nil, err
	}
	return scanannotator.New(ctx, cfg, log)
}

func runAnalyze(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	var c common
	c.register(fs)
	in := fs.String("in", "", "input image path, URL or data URI (png/jpg/webp)")
	viewName := fs.String("view", "", "view mode for -out: original|box|mask (default: initial mode)")
	out := fs.String("out", "", "write the composite to this file (png|jpg|webp by extension)")
	reportDir := fs.String("report", "", "export a PDF report into this directory")
	quality := fs.Int("quality", 92, "composite quality for jpg/webp")
	asJSON := fs.Bool("json", false, "print the raw result as JSON")
	embed := fs.Bool("embed", false, "store the image itself in history instead of its path")
	fs.Parse(args)

	if err := checkInput("analyze", *in); err != nil {
		return err
	}

	a, err := c.annotator(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	ref := *in
	if *embed {
		if ref, err = a.EmbedImage(ref); err != nil {
			return err
		}
	}

	start := time.Now()
	result, err := a.AnalyzeFile(ctx, ref)
	if result == nil {
		return err
	}
	if err != nil {
		// applied, but degraded
		fmt.Fprintln(os.Stderr, "warning:", scanannotator.UserMessage(err))
	}
	logger.Info(logger.Fields{"duration": time.Since(start).String()}, "analysis finished")

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else {
		printResult(result)
	}

	s := a.Session()
	if *viewName != "" {
		mode, err := types.ParseViewMode(*viewName)
		if err != nil {
			return err
		}
		ok, err := s.SelectMode(ctx, mode)
		if err != nil {
			fmt.Fprintln(os.Stderr, "warning:", scanannotator.UserMessage(err))
		}
		if !ok {
			fmt.Fprintf(os.Stderr, "view %q is not available for this result, keeping %s\n", mode.Label(), s.Mode().Label())
		}
	}

	if *out != "" {
		if err := a.SaveComposite(*out, utils.GetFileExtension(*out), *quality, false); err != nil {
			return err
		}
		fmt.Printf("Composite (%s): %s\n", s.Mode().Label(), *out)
	}

	if *reportDir != "" {
		path, err := s.Export(ctx, *reportDir)
		if err != nil {
			return err
		}
		fmt.Printf("Report: %s\n", path)
	}
	return nil
}

func runRender(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("render", flag.ExitOnError)
	var c common
	c.register(fs)
	in := fs.String("in", "", "input image path, URL or data URI")
	resultPath := fs.String("result", "", "analysis result JSON file")
	viewName := fs.String("view", "mask", "view mode: original|box|mask")
	out := fs.String("out", "", "output PNG path")
	fs.Parse(args)

	if *resultPath == "" || *out == "" {
		return fmt.Errorf("render: -in, -result and -out are required")
	}
	if err := checkInput("render", *in); err != nil {
		return err
	}

	mode, err := types.ParseViewMode(*viewName)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(*resultPath)
	if err != nil {
		return err
	}
	result, err := detection.ParseResult(string(data))
	if err != nil {
		return err
	}
	warnings, err := detection.Validate(result)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		fmt.Fprintln(os.Stderr, "warning:", w)
	}

	a, err := c.annotator(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	encoded, stats, err := a.Render(ctx, *in, result, mode)
	if encoded == nil {
		return err
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "warning:", scanannotator.UserMessage(err))
	}
	if err := utils.WriteFileAtomic(*out, 0644, func(w io.Writer) error {
		_, err := w.Write(encoded)
		return err
	}); err != nil {
		return err
	}

	fmt.Printf("Composite: %s\n", *out)
	if stats != nil {
		fmt.Printf("Mask coverage: %.2f%% centred at (%.2f, %.2f), spread %.2f x %.2f\n",
			stats.Coverage*100, stats.CentroidX, stats.CentroidY, stats.SpreadX, stats.SpreadY)
	}
	return nil
}

func runHistory(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	var c common
	c.register(fs)
	fs.Parse(args)

	sub := fs.Arg(0)
	if sub == "" {
		sub = "list"
	}

	a, err := c.annotator(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	s := a.Session()

	switch sub {
	case "list":
		items := s.History()
		if len(items) == 0 {
			fmt.Println("No history yet.")
			return nil
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tDATE\tVERDICT\tCONFIDENCE\tIMAGE")
		for _, item := range items {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
				item.ID,
				time.UnixMilli(item.Timestamp).Format("2006-01-02 15:04:05"),
				item.Result.Verdict(),
				item.Result.ConfidencePercent(),
				shorten(item.ImageRef, 48))
		}
		return tw.Flush()
	case "show":
		id := fs.Arg(1)
		if id == "" {
			return fmt.Errorf("history show: missing id")
		}
		item, err := s.SelectHistory(ctx, id)
		if item.ID == "" {
			return err
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, "warning:", scanannotator.UserMessage(err))
		}
		fmt.Printf("ID:    %s\nDate:  %s\nImage: %s\n", item.ID,
			time.UnixMilli(item.Timestamp).Format(time.RFC1123), shorten(item.ImageRef, 80))
		printResult(&item.Result)
		return nil
	case "clear":
		if err := s.ClearHistory(ctx); err != nil {
			return err
		}
		fmt.Println("History cleared.")
		return nil
	default:
		return fmt.Errorf("history: unknown subcommand %q", sub)
	}
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	var c common
	c.register(fs)
	id := fs.String("id", "", "history item id (default: most recent)")
	dir := fs.String("dir", "", "output directory (default: report.output_dir)")
	fs.Parse(args)

	a, err := c.annotator(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	s := a.Session()

	if *id == "" {
		items := s.History()
		if len(items) == 0 {
			return fmt.Errorf("export: history is empty")
		}
		*id = items[0].ID
	}
	if _, err := s.SelectHistory(ctx, *id); err != nil {
		return err
	}

	outDir := *dir
	if outDir == "" {
		outDir = a.Config().Report.OutputDir
	}
	path, err := s.Export(ctx, outDir)
	if err != nil {
		return err
	}
	fmt.Printf("Report: %s\n", path)
	return nil
}

func runConfig(args []string) error {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	path := fs.String("path", config.GetConfigPath(), "where to write the config (json or yaml)")
	if len(args) == 0 || args[0] != "init" {
		return fmt.Errorf("config: expected the init subcommand")
	}
	fs.Parse(args[1:])

	if utils.FileExists(*path) {
		return fmt.Errorf("config: %s already exists", *path)
	}
	if err := config.Default().SaveToFile(*path); err != nil {
		return err
	}
	fmt.Printf("Config written to %s\n", *path)
	return nil
}

// checkInput rejects a missing -in and local files that are not images
func checkInput(cmd, in string) error {
	if in == "" {
		return fmt.Errorf("%s: -in is required", cmd)
	}
	if processing.IsFileRef(in) && !utils.IsImageFile(in) {
		return fmt.Errorf("%s: %s is not a supported image (png, jpg, gif, webp)", cmd, in)
	}
	return nil
}

func printResult(r *types.AnalysisResult) {
	fmt.Printf("Verdict:    %s\n", r.Verdict())
	fmt.Printf("Confidence: %s\n", r.ConfidencePercent())
	if r.TumorDetected {
		fmt.Printf("Location:   %s\n", r.Location)
	}
	fmt.Printf("Analysis:\n  %s\n", strings.ReplaceAll(strings.TrimSpace(r.Analysis), "\n", "\n  "))
}

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
