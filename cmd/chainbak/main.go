package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/chainbak/chainbak/cmd"
	"github.com/chainbak/chainbak/pkg/buildinfo"
	"github.com/chainbak/chainbak/pkg/plog"
)

// action defines which command to execute.
type action int

const (
	actionRunBackup action = iota // The default action is to run one backup.
	actionShowVersion
	actionInitConfig
	actionRunPrune
	actionRunSchedule
)

// init is called before main. We use it to set up a custom, more descriptive
// help message for the command-line flags.
func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s (version %s):\n", buildinfo.Name, buildinfo.Version)
		fmt.Fprintf(flag.CommandLine.Output(), "Schedules full and incremental backups through an external engine and prunes expired chains.\n\n")
		flag.PrintDefaults()
	}
}

// parseFlagConfig defines and parses command-line flags, and constructs a
// map containing only the values the user explicitly provided.
func parseFlagConfig() (action, map[string]interface{}, error) {
	// --- Flag Design Philosophy ---
	// Flags are exposed for options that are useful to override for a single
	// run (e.g., -dry-run, -log-level=debug, -keep-full during a migration).
	//
	// Strategic options that define the long-term behavior of a chain should
	// be set consistently in the config file inside the backup root, so every
	// run against that root behaves the same no matter who triggers it.

	rootFlag := flag.String("root", "", "Backup root directory holding the chain and its config file.")
	engineFlag := flag.String("engine", "", "Backup engine binary to invoke, e.g. 'xtrabackup'.")
	defaultsFileFlag := flag.String("defaults-file", "", "Defaults file passed through to the engine verbatim.")
	fullLifetimeFlag := flag.Int("full-lifetime", 0, "Seconds a full backup stays the base for incrementals before a new full is forced.")
	keepFullFlag := flag.Int("keep-full", 0, "Number of full generations to retain; 0 disables pruning.")
	logLevelFlag := flag.String("log-level", "info", "Set the logging level: 'debug', 'notice', 'info', 'warn', 'error'.")
	dryRunFlag := flag.Bool("dry-run", false, "Show what would be done without invoking the engine or deleting anything.")
	scheduleFlag := flag.String("schedule", "", "Run continuously on a cron schedule, e.g. '0 3 * * *'.")
	pruneFlag := flag.Bool("prune", false, "Apply the retention policy without taking a backup, then exit.")
	initFlag := flag.Bool("init", false, "Generate a default config file in the backup root and exit.")
	versionFlag := flag.Bool("version", false, "Print the application version and exit.")

	flag.Parse()

	// Track which flags were explicitly set by the user, so defaults never
	// override values from the config file.
	usedFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { usedFlags[f.Name] = true })

	flagMap := make(map[string]interface{})

	addIfUsed := func(name string, value interface{}) {
		if usedFlags[name] {
			flagMap[name] = value
		}
	}

	addIfUsed("root", *rootFlag)
	addIfUsed("engine", *engineFlag)
	addIfUsed("defaults-file", *defaultsFileFlag)
	addIfUsed("full-lifetime", *fullLifetimeFlag)
	addIfUsed("keep-full", *keepFullFlag)
	addIfUsed("log-level", *logLevelFlag)
	addIfUsed("dry-run", *dryRunFlag)
	addIfUsed("schedule", *scheduleFlag)

	// Determine which action to take based on flags.
	if *versionFlag {
		return actionShowVersion, flagMap, nil
	}
	if *initFlag {
		return actionInitConfig, flagMap, nil
	}
	if *pruneFlag {
		return actionRunPrune, flagMap, nil
	}
	if usedFlags["schedule"] {
		return actionRunSchedule, flagMap, nil
	}
	return actionRunBackup, flagMap, nil
}

// run encapsulates the main application logic and returns an error if
// something goes wrong, allowing main to handle exit codes.
func run(ctx context.Context) error {
	plog.Info("Starting "+buildinfo.Name, "version", buildinfo.Version, "pid", os.Getpid())

	action, flagMap, err := parseFlagConfig()
	if err != nil {
		return err
	}

	switch action {
	case actionShowVersion:
		fmt.Printf("%s version %s\n", buildinfo.Name, buildinfo.Version)
		return nil
	case actionInitConfig:
		return cmd.RunInit(ctx, flagMap)
	case actionRunPrune:
		return cmd.RunPrune(ctx, flagMap)
	case actionRunSchedule:
		return cmd.RunSchedule(ctx, flagMap)
	case actionRunBackup:
		return cmd.RunBackup(ctx, flagMap)
	default:
		return fmt.Errorf("internal error: unknown action %d", action)
	}
}

func main() {
	// Set up a context that is canceled when an interrupt signal is received.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		<-sigChan
		cancel()
	}()

	if err := run(ctx); err != nil {
		plog.Error(buildinfo.Name+" exited with error", "error", err)
		os.Exit(1)
	}
}
