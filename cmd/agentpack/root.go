package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/liqiongyu/agentpack/internal/config"
	"github.com/liqiongyu/agentpack/internal/engine"
	"github.com/liqiongyu/agentpack/internal/envelope"
	"github.com/liqiongyu/agentpack/internal/logging"
)

var (
	// Global flags
	repoFlag    string
	machineFlag string
	profileFlag string
	targetFlag  string
	jsonFlag    bool
	yesFlag     bool
	verboseFlag bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "agentpack",
	Short: "Deterministic deployer for agent instruction assets",
	Long: `agentpack projects a versioned config repo (modules + overlays) into
the filesystem layouts of coding agents: codex, claude_code, cursor,
vscode.

Core Commands:
  plan         Show what a deploy would change
  deploy       Apply the plan (atomic writes + snapshot)
  status       Report drift between desired and observed state
  preview      Render desired state without touching disk
  rollback     Revert managed files to a prior snapshot
  lock         Pin module sources into agentpack.lock.json
  overlay      Manage per-module overlays (rebase, edit)
  evolve       Capture on-disk edits back into overlays

Every command supports --json for a stable result envelope.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&repoFlag, "repo", "", "Config repo directory (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&machineFlag, "machine", "", "Override the machine id for machine-scoped overlays")
	rootCmd.PersistentFlags().StringVar(&profileFlag, "profile", "default", "Module selection profile")
	rootCmd.PersistentFlags().StringVar(&targetFlag, "target", "all", "Restrict to one target (codex, claude_code, cursor, vscode) or all")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "Emit a JSON result envelope")
	rootCmd.PersistentFlags().BoolVarP(&yesFlag, "yes", "y", false, "Confirm mutating operations")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose logging")
}

// newLogger builds the CLI logger honoring --verbose.
func newLogger() *zap.Logger {
	log, err := logging.New(verboseFlag)
	if err != nil {
		return zap.NewNop()
	}
	return log
}

// loadEngine resolves the engine for the current invocation: flags win
// over user config (env > project > home > defaults).
func loadEngine(log *zap.Logger) (*engine.Engine, error) {
	cfg, err := config.Load(repoFlag)
	if err != nil {
		return nil, err
	}
	if cfg.Verbose {
		verboseFlag = true
	}
	if cfg.Output == "json" {
		jsonFlag = true
	}

	machine := machineFlag
	if machine == "" {
		machine = cfg.Machine
	}
	return engine.Load(engine.Options{
		RepoDir: repoFlag,
		Home:    cfg.Home,
		Machine: machine,
		Logger:  log,
	})
}

// errExit signals a non-zero exit after the envelope has been printed.
var errExit = fmt.Errorf("command failed")

// runEnvelope executes fn and renders the result. With --json the envelope
// is printed for success and failure alike; without it, fn's data is
// summarized by the caller-provided human printer (optional).
func runEnvelope(command string, human func(data map[string]any), fn func(eng *engine.Engine) (map[string]any, []string, error)) error {
	log := newLogger()
	defer log.Sync()
	log.Debug("command start", zap.String("command", command))

	env := envelope.New(command)

	eng, err := loadEngine(log)
	if err != nil {
		env.Fail(err)
	} else {
		defer eng.Close()
		data, warnings, ferr := fn(eng)
		env.Warn(warnings...)
		if ferr != nil {
			env.Fail(ferr)
		} else {
			env.Succeed(data)
		}
	}

	if env.OK {
		log.Debug("command ok",
			zap.String("command", command),
			zap.Int("warnings", len(env.Warnings)))
	} else {
		log.Warn("command failed",
			zap.String("command", command),
			zap.String("code", env.Errors[0].Code))
	}

	if jsonFlag {
		out, merr := env.MarshalPretty()
		if merr != nil {
			fmt.Fprintln(os.Stderr, merr)
			return errExit
		}
		fmt.Print(string(out))
	} else {
		for _, w := range env.Warnings {
			fmt.Fprintf(os.Stderr, "warning: %s\n", w)
		}
		if !env.OK {
			e := env.Errors[0]
			fmt.Fprintf(os.Stderr, "error: %s: %s\n", e.Code, e.Message)
		} else if human != nil {
			human(env.Data)
		}
	}

	if !env.OK {
		return errExit
	}
	return nil
}

// toJSONMap converts a struct into the envelope's generic data shape.
func toJSONMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("serialize data: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("reshape data: %w", err)
	}
	return out, nil
}
