package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/stashsift/stashsift/internal/analysis"
	"github.com/stashsift/stashsift/internal/config"
	"github.com/stashsift/stashsift/internal/entity"
	"github.com/stashsift/stashsift/internal/ingest"
	"github.com/stashsift/stashsift/internal/logging"
	"github.com/stashsift/stashsift/internal/mcp"
	"github.com/stashsift/stashsift/internal/query"
	"github.com/stashsift/stashsift/internal/rank"
	"github.com/stashsift/stashsift/internal/store"
	"github.com/stashsift/stashsift/internal/view"
)

const version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	var err error
	switch os.Args[1] {
	case "import":
		err = runImport(os.Args[2:])
	case "query":
		err = runQuery(os.Args[2:])
	case "rebuild":
		err = runRebuild(os.Args[2:])
	case "stats":
		err = runStats(os.Args[2:])
	case "mcp":
		err = runMCP(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Printf("stashsift %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// commonFlags are recognized by every subcommand.
type commonFlags struct {
	configPath string
	dbPath     string
	synonyms   string
	debug      bool
	rest       []string
}

func parseCommon(args []string) (commonFlags, error) {
	var f commonFlags
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--config":
			i++
			if i >= len(args) {
				return f, fmt.Errorf("--config requires a path")
			}
			f.configPath = args[i]
		case arg == "--db":
			i++
			if i >= len(args) {
				return f, fmt.Errorf("--db requires a path")
			}
			f.dbPath = args[i]
		case arg == "--synonyms":
			i++
			if i >= len(args) {
				return f, fmt.Errorf("--synonyms requires a path")
			}
			f.synonyms = args[i]
		case arg == "--debug":
			f.debug = true
		default:
			f.rest = append(f.rest, arg)
		}
	}
	return f, nil
}

// stack is the wired application: every subcommand builds one and closes it.
type stack struct {
	logger   *zap.Logger
	store    store.Store
	views    *view.Manager
	engine   *rank.Engine
	importer *ingest.Engine
	parser   *query.Parser
}

func (s *stack) Close() {
	s.store.Close()
	s.logger.Sync()
}

func buildStack(f commonFlags) (*stack, error) {
	resolved, err := config.ResolveConfig(config.ResolveOptions{
		ConfigPath: f.configPath,
		CLIDBPath:  f.dbPath,
		CLISynonym: f.synonyms,
		CLIDebug:   f.debug,
	})
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(resolved.Debug)
	if err != nil {
		return nil, err
	}

	st, err := store.NewStore(store.Config{DBPath: resolved.DBPath.Value})
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	table := entity.DefaultSynonymTable()
	if resolved.SynonymPath.Value != "" {
		table, err = entity.LoadSynonymTable(resolved.SynonymPath.Value)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("loading synonym table: %w", err)
		}
	}

	fuzzy, err := resolved.FuzzyFoldValue()
	if err != nil {
		st.Close()
		return nil, err
	}
	views, err := view.NewManager(st, entity.NewNormalizer(table), view.Config{
		Agg: entity.AggregateOptions{FuzzyThreshold: fuzzy},
	}, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	halfLifeDays, err := resolved.HalfLifeDaysValue()
	if err != nil {
		st.Close()
		return nil, err
	}
	limit, err := resolved.DefaultLimitValue()
	if err != nil {
		st.Close()
		return nil, err
	}
	engine, err := rank.NewEngine(views, rank.EngineConfig{
		Score: rank.ScoreConfig{
			Weights:  resolved.Weights,
			HalfLife: time.Duration(halfLifeDays * 24 * float64(time.Hour)),
		},
		Resolve: rank.ResolveConfig{DefaultLimit: limit},
	}, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	chain, err := analysis.NewChain(
		[]analysis.Extractor{analysis.NewHeuristicExtractor()}, nil, logger)
	if err != nil {
		st.Close()
		return nil, err
	}
	importer, err := ingest.NewEngine(st, chain, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	return &stack{
		logger:   logger,
		store:    st,
		views:    views,
		engine:   engine,
		importer: importer,
		parser:   query.NewParser(),
	}, nil
}

func runImport(args []string) error {
	f, err := parseCommon(args)
	if err != nil {
		return err
	}

	var paths []string
	opts := ingest.Options{}
	for _, arg := range f.rest {
		switch {
		case arg == "--recursive" || arg == "-r":
			opts.Recursive = true
		case arg == "--dry-run" || arg == "-n":
			opts.DryRun = true
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			paths = append(paths, arg)
		}
	}
	if len(paths) == 0 {
		return fmt.Errorf("usage: stashsift import <path> [--recursive] [--dry-run]")
	}

	s, err := buildStack(f)
	if err != nil {
		return err
	}
	defer s.Close()

	if opts.DryRun {
		fmt.Println("Dry run mode — no changes will be written")
		fmt.Println()
	}

	ctx := context.Background()
	total := &ingest.Result{}
	for _, path := range paths {
		fmt.Printf("Importing %s...\n", path)
		result, err := s.importer.ImportPath(ctx, path, opts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  Error: %v\n", err)
			continue
		}
		total.Add(result)
	}

	fmt.Println()
	fmt.Printf("Files: %d scanned, %d imported, %d skipped\n",
		total.FilesScanned, total.FilesImported, total.FilesSkipped)
	fmt.Printf("Items: %d imported\n", total.ItemsImported)
	fmt.Printf("Entities: %d stored, %d skipped as malformed\n",
		total.EntitiesStored, total.EntitiesSkipped)
	for _, e := range total.Errors {
		fmt.Fprintf(os.Stderr, "  %s: %s\n", e.File, e.Message)
	}
	return nil
}

func runQuery(args []string) error {
	f, err := parseCommon(args)
	if err != nil {
		return err
	}

	jsonOut := false
	var words []string
	for _, arg := range f.rest {
		switch {
		case arg == "--json":
			jsonOut = true
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			words = append(words, arg)
		}
	}
	question := strings.TrimSpace(strings.Join(words, " "))
	if question == "" {
		return fmt.Errorf("usage: stashsift query <question> [--json]")
	}

	s, err := buildStack(f)
	if err != nil {
		return err
	}
	defer s.Close()

	intent := s.parser.Parse(question)
	outcome, err := s.engine.Answer(context.Background(), intent.Constraints)
	if err != nil {
		return err
	}

	if jsonOut {
		data, err := json.MarshalIndent(outcome, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	printOutcome(outcome)
	return nil
}

func printOutcome(out *rank.Outcome) {
	if len(out.Results) == 0 {
		fmt.Println("No matches.")
		for _, s := range out.Suggestions {
			fmt.Printf("  - %s\n", s)
		}
		return
	}

	if out.InsufficientCount {
		fmt.Printf("Only %d of the requested results matched.\n\n", len(out.Results))
	}
	for i, r := range out.Results {
		fmt.Printf("%d. %s  (%s, relevance %.3f, %d mention(s))\n",
			i+1, r.Entity.DisplayName, r.Entity.Category, r.Scores.Relevance, r.Entity.MentionCount)
		if r.Evidence != nil {
			if r.Evidence.Quote != "" {
				fmt.Printf("   %q\n", r.Evidence.Quote)
			}
			if r.Evidence.GeoContext != "" {
				fmt.Printf("   near: %s\n", r.Evidence.GeoContext)
			}
			fmt.Printf("   best source: %s (confidence %.2f)\n",
				r.Evidence.BestItemID, r.Evidence.BestConfidence)
		}
	}
}

func runRebuild(args []string) error {
	f, err := parseCommon(args)
	if err != nil {
		return err
	}
	s, err := buildStack(f)
	if err != nil {
		return err
	}
	defer s.Close()

	snap, err := s.views.Rebuild(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("Rebuilt view %d: %d aggregated entities\n", snap.Version, len(snap.Entities))
	return nil
}

func runStats(args []string) error {
	f, err := parseCommon(args)
	if err != nil {
		return err
	}
	s, err := buildStack(f)
	if err != nil {
		return err
	}
	defer s.Close()

	stats, err := s.store.Stats(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("Items:        %d\n", stats.ItemCount)
	fmt.Printf("Entities:     %d\n", stats.EntityCount)
	fmt.Printf("Cached views: %d\n", stats.ViewCount)
	fmt.Printf("DB size:      %d bytes\n", stats.DBSizeBytes)
	return nil
}

func runMCP(args []string) error {
	f, err := parseCommon(args)
	if err != nil {
		return err
	}
	s, err := buildStack(f)
	if err != nil {
		return err
	}
	defer s.Close()

	srv := mcp.NewServer(mcp.ServerConfig{
		Store:    s.store,
		Views:    s.views,
		Engine:   s.engine,
		Importer: s.importer,
		Version:  version,
	})
	return server.ServeStdio(srv)
}

func printUsage() {
	fmt.Printf(`stashsift %s — ask questions about your saved social content

Usage:
  stashsift <command> [arguments]

Commands:
  import <path>       Import a saved-content export (JSON or YAML)
  query <question>    Ask a question, e.g. "top 3 restaurants in paris last month"
  rebuild             Force a rebuild of the aggregated-entity view
  stats               Show storage statistics
  mcp                 Serve the MCP stdio interface
  version             Print version

Import Flags:
  -r, --recursive     Recursively import from directories
  -n, --dry-run       Show what would be imported without writing

Query Flags:
  --json              Print the full outcome as JSON

Common Flags:
  --config <path>     Config file (default ~/.stashsift/config.yaml)
  --db <path>         Database path
  --synonyms <path>   Synonym table YAML
  --debug             Verbose logging
  -h, --help          Show this help message
  -v, --version       Print version
`, version)
}
