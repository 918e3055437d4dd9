package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"gopkg.in/yaml.v3"

	"github.com/KevoDB/twcs/pkg/common/log"
	"github.com/KevoDB/twcs/pkg/compaction"
	"github.com/KevoDB/twcs/pkg/config"
	enginecompaction "github.com/KevoDB/twcs/pkg/engine/compaction"
	"github.com/KevoDB/twcs/pkg/sstable"
	"github.com/KevoDB/twcs/pkg/stats"
	"github.com/KevoDB/twcs/pkg/telemetry"
)

// Command completer for readline
var completer = readline.NewPrefixCompleter(
	readline.PcItem(".help"),
	readline.PcItem(".config"),
	readline.PcItem(".save"),
	readline.PcItem(".load"),
	readline.PcItem(".stats"),
	readline.PcItem(".exit"),
	readline.PcItem("ADD"),
	readline.PcItem("REMOVE"),
	readline.PcItem("LIST"),
	readline.PcItem("PICK"),
	readline.PcItem("COMPACT",
		readline.PcItem("ALL"),
	),
	readline.PcItem("ESTIMATE"),
	readline.PcItem("ADVANCE"),
)

const helpText = `
twcs - Time window compaction simulator.

Usage:
  twcs [options] [sstable_dir]  - Start with an optional sstable directory

Options:
  -config string          - YAML strategy configuration file
  -log-level string       - Log level (debug, info, warn, error, off)
  -telemetry              - Export compaction metrics and traces
  -telemetry-config string
                          - YAML telemetry configuration file (implies -telemetry)

Commands:
  .help                   - Show this help message
  .config                 - Show the strategy configuration
  .save                   - Write the manifest to the sstable directory
  .load                   - Reload tables and configuration from the manifest
  .stats [prefix]         - Show compaction statistics, optionally only those starting with prefix
  .exit                   - Exit the program

  ADD gen size age [first last] [EXPIRED]
                          - Register a flushed table whose newest write is age ago
                          - EXPIRED marks every cell in the table as deleted at write time
  REMOVE gen              - Unregister a table
  LIST                    - List live tables grouped by window
  PICK                    - Show the tables the next compaction would choose
  COMPACT                 - Run compactions until there is no more work
  COMPACT ALL             - Compact every live table into one
  ESTIMATE                - Show the estimated number of pending compactions
  ADVANCE duration        - Move the simulated clock forward (e.g. 90m, 24h)
`

// Options holds the command line configuration
type Options struct {
	ConfigFile          string
	LogLevel            string
	Telemetry           bool
	TelemetryConfigFile string
	Dir                 string
}

// simClock is a wall clock that can be moved forward from the prompt
type simClock struct {
	mu     sync.Mutex
	offset time.Duration
}

func (c *simClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().Add(c.offset)
}

func (c *simClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.offset += d
	c.mu.Unlock()
}

// session is the state shared by the interactive commands
type session struct {
	opts      Options
	cfg       *config.Config
	manager   *enginecompaction.Manager
	collector *stats.AtomicCollector
	tel       telemetry.Telemetry
	logger    *log.StandardLogger
	clock     *simClock
}

func main() {
	opts := parseFlags()

	logger := log.GetDefaultLogger()
	level, err := log.ParseLevel(opts.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	logger.SetLevel(level)

	cfg := config.NewDefaultConfig()
	if opts.ConfigFile != "" {
		cfg, err = config.LoadFile(opts.ConfigFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading configuration: %s\n", err)
			os.Exit(1)
		}
		if opts.LogLevel == "" && cfg.LogLevel != "" {
			if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
				logger.SetLevel(level)
			}
		}
	}
	cfg.LoadFromEnv()

	if opts.Dir == "" {
		opts.Dir, err = os.MkdirTemp("", "twcs")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating sstable directory: %s\n", err)
			os.Exit(1)
		}
	}

	tel := telemetry.NewNoop()
	if opts.Telemetry {
		telCfg := telemetry.DefaultConfig()
		if opts.TelemetryConfigFile != "" {
			telCfg, err = telemetry.LoadConfigFile(opts.TelemetryConfigFile)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error loading telemetry configuration: %s\n", err)
				os.Exit(1)
			}
		}
		telCfg.LoadFromEnv()
		tel, err = telemetry.New(telCfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error initializing telemetry: %s\n", err)
			os.Exit(1)
		}
	}

	s := &session{
		opts:      opts,
		cfg:       cfg,
		collector: stats.NewAtomicCollector(),
		tel:       tel,
		logger:    logger,
		clock:     &simClock{},
	}

	if err := s.open(); err != nil {
		fmt.Fprintf(os.Stderr, "Error opening %s: %s\n", opts.Dir, err)
		os.Exit(1)
	}

	setupGracefulShutdown(s)
	runInteractive(s)
	s.close()
}

// parseFlags parses command line flags and returns the Options
func parseFlags() Options {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "twcs - Time window compaction simulator\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: twcs [options] [sstable_dir]\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Without a directory a temporary one is used.\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(flag.CommandLine.Output(), "\nFor the list of commands, start twcs and type .help\n")
	}

	configFile := flag.String("config", "", "YAML strategy configuration file")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error, off)")
	tel := flag.Bool("telemetry", false, "Export compaction metrics and traces")
	telConfig := flag.String("telemetry-config", "", "YAML telemetry configuration file")

	flag.Parse()

	var dir string
	if flag.NArg() > 0 {
		dir = flag.Arg(0)
	}

	return Options{
		ConfigFile:          *configFile,
		LogLevel:            *logLevel,
		Telemetry:           *tel || *telConfig != "",
		TelemetryConfigFile: *telConfig,
		Dir:                 dir,
	}
}

// open (re)creates the compaction manager from the manifest in the sstable
// directory, falling back to the session config
func (s *session) open() error {
	manager, err := enginecompaction.Open(s.cfg, s.opts.Dir, s.collector,
		enginecompaction.WithTelemetry(s.tel),
		enginecompaction.WithLogger(s.logger),
		enginecompaction.WithClock(s.clock.Now),
	)
	if err != nil {
		return err
	}
	if err := manager.Start(); err != nil {
		return err
	}

	s.manager = manager
	s.cfg = manager.Config()
	return nil
}

func (s *session) close() {
	if s.manager != nil {
		if err := s.manager.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error stopping compaction: %s\n", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.tel.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error shutting down telemetry: %s\n", err)
	}
}

// setupGracefulShutdown configures graceful shutdown on signals
func setupGracefulShutdown(s *session) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		fmt.Printf("\nReceived signal %v, shutting down...\n", sig)
		s.close()
		fmt.Println("Shutdown complete")
		os.Exit(0)
	}()
}

// runInteractive starts the interactive CLI mode
func runInteractive(s *session) {
	fmt.Println("twcs version 0.1.0")
	fmt.Printf("SSTable directory: %s\n", s.opts.Dir)
	fmt.Println("Enter .help for usage hints.")

	historyFile := filepath.Join(os.TempDir(), ".twcs_history")
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "twcs> ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing readline: %s\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	for {
		line, readErr := rl.Readline()
		if readErr != nil {
			if readErr == readline.ErrInterrupt {
				if len(line) == 0 {
					break
				}
				continue
			} else if readErr == io.EOF {
				fmt.Println("Goodbye!")
				break
			}
			fmt.Fprintf(os.Stderr, "Error reading input: %s\n", readErr)
			continue
		}

		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToUpper(parts[0])

		if strings.HasPrefix(cmd, ".") {
			switch strings.ToLower(cmd) {
			case ".help":
				fmt.Print(helpText)
			case ".config":
				s.printConfig()
			case ".save":
				if err := s.manager.Save(); err != nil {
					fmt.Fprintf(os.Stderr, "Error saving manifest: %s\n", err)
					continue
				}
				fmt.Printf("Saved %d tables to %s\n", len(s.manager.LiveTables()), filepath.Join(s.opts.Dir, config.DefaultManifestFileName))
			case ".load":
				if err := s.manager.Stop(); err != nil {
					fmt.Fprintf(os.Stderr, "Error stopping compaction: %s\n", err)
					continue
				}
				if err := s.open(); err != nil {
					fmt.Fprintf(os.Stderr, "Error loading manifest: %s\n", err)
					continue
				}
				fmt.Printf("Loaded %d tables\n", len(s.manager.LiveTables()))
			case ".stats":
				if len(parts) > 1 {
					printMap("Operations", s.collector.GetStatsFiltered(parts[1]))
					continue
				}
				s.printStats()
			case ".exit":
				fmt.Println("Goodbye!")
				return
			default:
				fmt.Printf("Unknown command: %s\n", parts[0])
			}
			continue
		}

		switch cmd {
		case "ADD":
			s.addTable(parts[1:])

		case "REMOVE":
			if len(parts) != 2 {
				fmt.Println("Error: REMOVE requires a generation")
				continue
			}
			gen, err := strconv.ParseUint(parts[1], 10, 64)
			if err != nil {
				fmt.Printf("Error: invalid generation %q\n", parts[1])
				continue
			}
			table := s.findTable(gen)
			if table == nil {
				fmt.Printf("Table %d not found\n", gen)
				continue
			}
			if busy := s.manager.RemoveTables(table); len(busy) > 0 {
				fmt.Printf("Table %d is being compacted\n", gen)
				continue
			}
			fmt.Printf("Removed table %d\n", gen)

		case "LIST":
			s.listTables()

		case "PICK":
			picked := s.manager.Strategy().NextCandidates(s.gcBefore())
			if len(picked) == 0 {
				fmt.Println("Nothing to compact")
				continue
			}
			fmt.Printf("Next compaction: %s\n", formatTables(picked))

		case "COMPACT":
			var err error
			if len(parts) > 1 && strings.ToUpper(parts[1]) == "ALL" {
				err = s.manager.CompactAll(context.Background())
			} else {
				err = s.manager.TriggerCompaction(context.Background())
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error compacting: %s\n", err)
				continue
			}
			fmt.Printf("%d live tables\n", len(s.manager.LiveTables()))

		case "ESTIMATE":
			fmt.Printf("Estimated remaining tasks: %d\n", s.manager.EstimatedRemainingTasks())

		case "ADVANCE":
			if len(parts) != 2 {
				fmt.Println("Error: ADVANCE requires a duration")
				continue
			}
			d, err := time.ParseDuration(parts[1])
			if err != nil || d < 0 {
				fmt.Printf("Error: invalid duration %q\n", parts[1])
				continue
			}
			s.clock.Advance(d)
			fmt.Printf("Clock is now %s\n", s.clock.Now().UTC().Format(time.RFC3339))

		default:
			fmt.Printf("Unknown command: %s\n", parts[0])
		}
	}
}

func (s *session) gcBefore() int64 {
	return s.clock.Now().Add(-s.cfg.GCGrace).Unix()
}

// addTable parses "gen size age [first last] [EXPIRED]" and registers the table
func (s *session) addTable(args []string) {
	expired := false
	if n := len(args); n > 0 && strings.ToUpper(args[n-1]) == "EXPIRED" {
		expired = true
		args = args[:n-1]
	}
	if len(args) != 3 && len(args) != 5 {
		fmt.Println("Error: usage ADD gen size age [first last] [EXPIRED]")
		return
	}

	gen, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fmt.Printf("Error: invalid generation %q\n", args[0])
		return
	}
	if s.findTable(gen) != nil {
		fmt.Printf("Error: table %d already exists\n", gen)
		return
	}
	size, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || size < 0 {
		fmt.Printf("Error: invalid size %q\n", args[1])
		return
	}
	age, err := time.ParseDuration(args[2])
	if err != nil || age < 0 {
		fmt.Printf("Error: invalid age %q\n", args[2])
		return
	}

	first, last := fmt.Sprintf("key%06d", gen), fmt.Sprintf("key%06d~", gen)
	if len(args) == 5 {
		first, last = args[3], args[4]
	}

	written := s.clock.Now().Add(-age)
	meta := sstable.Metadata{
		Path:                 filepath.Join(s.opts.Dir, fmt.Sprintf("%06d.sst", gen)),
		Generation:           gen,
		Size:                 size,
		FirstKey:             first,
		LastKey:              last,
		MinTimestamp:         atResolution(written, s.cfg.TimestampResolution),
		MaxTimestamp:         atResolution(written, s.cfg.TimestampResolution),
		MaxLocalDeletionTime: sstable.NoDeletionTime,
		CreatedAt:            s.clock.Now(),
	}
	if expired {
		meta.MaxLocalDeletionTime = written.Unix()
	}

	s.manager.AddTables(sstable.NewTableInfo(meta))
	fmt.Printf("Added table %d in window %s\n", gen, s.windowOf(meta.MaxTimestamp))
}

// atResolution converts t to a cell timestamp at the table resolution
func atResolution(t time.Time, resolution config.TimeUnit) int64 {
	switch resolution {
	case config.Seconds:
		return t.Unix()
	case config.Milliseconds:
		return t.UnixMilli()
	case config.Nanoseconds:
		return t.UnixNano()
	default:
		return t.UnixMicro()
	}
}

func (s *session) windowOf(ts int64) string {
	millis := compaction.ToMillis(ts, s.cfg.TimestampResolution)
	lower, _ := compaction.WindowBounds(s.cfg.WindowUnit, s.cfg.WindowSize, millis)
	return time.UnixMilli(lower).UTC().Format(time.RFC3339)
}

func (s *session) findTable(gen uint64) compaction.Table {
	for _, t := range s.manager.LiveTables() {
		if info, ok := t.(*sstable.TableInfo); ok && info.Generation() == gen {
			return t
		}
	}
	return nil
}

func (s *session) listTables() {
	live := s.manager.LiveTables()
	if len(live) == 0 {
		fmt.Println("No live tables")
		return
	}

	buckets := compaction.GroupByWindow(live, s.cfg.WindowUnit, s.cfg.WindowSize, s.cfg.TimestampResolution)
	current := compaction.CurrentWindowKey(s.cfg.WindowUnit, s.cfg.WindowSize, s.clock.Now())
	for _, key := range buckets.Keys() {
		marker := ""
		if key >= current {
			marker = " (current)"
		}
		fmt.Printf("%s%s\n", time.UnixMilli(key).UTC().Format(time.RFC3339), marker)
		for _, t := range buckets[key] {
			fmt.Printf("  %-12s %10d bytes  [%s, %s]\n", t, t.Size(), t.FirstKey(), t.LastKey())
		}
	}
}

func formatTables(tables []compaction.Table) string {
	names := make([]string, 0, len(tables))
	for _, t := range tables {
		names = append(names, fmt.Sprint(t))
	}
	return strings.Join(names, ", ")
}

func (s *session) printConfig() {
	data, err := yaml.Marshal(s.cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding configuration: %s\n", err)
		return
	}
	fmt.Print(string(data))
}

func (s *session) printStats() {
	printMap("Operations", s.collector.GetStats())
	fmt.Println()
	printMap("Compaction", s.manager.GetCompactionStats())
}

func printMap(title string, m map[string]interface{}) {
	fmt.Printf("%s:\n", title)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  • %s: %v\n", k, m[k])
	}
}
