package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/liqiongyu/agentpack/internal/apperr"
	"github.com/liqiongyu/agentpack/internal/confirm"
	"github.com/liqiongyu/agentpack/internal/drift"
	"github.com/liqiongyu/agentpack/internal/engine"
	"github.com/liqiongyu/agentpack/internal/envelope"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the tool surface over stdio (newline-delimited JSON)",
	Long: `Read tool requests from stdin, one JSON object per line, and write one
response per request. Read-only tools: plan, diff, preview, status,
doctor. Destructive tools (deploy_apply, rollback, evolve_propose,
evolve_restore) are gated by a confirm token issued with the matching
read-only result; the token is honored only while the plan bytes are
unchanged.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		srv := newToolServer()
		return srv.run(os.Stdin, os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// toolRequest is one incoming call.
type toolRequest struct {
	ID   any      `json:"id"`
	Tool string   `json:"tool"`
	Args toolArgs `json:"args"`
}

// toolArgs is the common argument bag shared by every tool.
type toolArgs struct {
	Repo         string   `json:"repo,omitempty"`
	Profile      string   `json:"profile,omitempty"`
	Target       string   `json:"target,omitempty"`
	Machine      string   `json:"machine,omitempty"`
	Adopt        bool     `json:"adopt,omitempty"`
	To           string   `json:"to,omitempty"`
	Only         []string `json:"only,omitempty"`
	ConfirmToken string   `json:"confirm_token,omitempty"`
}

func (a toolArgs) binding() confirm.Binding {
	return confirm.Binding{Repo: a.Repo, Profile: a.Profile, Target: a.Target, Machine: a.Machine}
}

func (a toolArgs) profile() string {
	if a.Profile == "" {
		return "default"
	}
	return a.Profile
}

func (a toolArgs) target() string {
	if a.Target == "" {
		return "all"
	}
	return a.Target
}

// toolResponse is one outgoing result. The envelope rides in result;
// is_error mirrors !envelope.ok.
type toolResponse struct {
	ID      any                `json:"id"`
	IsError bool               `json:"is_error"`
	Result  *envelope.Envelope `json:"result"`
}

// toolServer owns the confirm-token store. The store is the only state
// shared across requests.
type toolServer struct {
	tokens *confirm.Store
	log    *zap.Logger

	outMu sync.Mutex
}

func newToolServer() *toolServer {
	return &toolServer{tokens: confirm.NewStore(), log: newLogger()}
}

// run reads requests until EOF. Each request is handled on its own
// goroutine so a slow pipeline never blocks the read loop.
func (s *toolServer) run(in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var wg sync.WaitGroup
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req toolRequest
		if err := json.Unmarshal(line, &req); err != nil {
			s.write(out, toolResponse{
				IsError: true,
				Result:  envelope.New("serve").Fail(apperr.Newf(apperr.CodeConfigInvalid, "malformed request: %v", err)),
			})
			continue
		}

		wg.Add(1)
		go func(req toolRequest) {
			defer wg.Done()
			env := s.dispatch(req)
			s.write(out, toolResponse{ID: req.ID, IsError: !env.OK, Result: env})
		}(req)
	}
	wg.Wait()
	return scanner.Err()
}

func (s *toolServer) write(out io.Writer, resp toolResponse) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	raw, err := json.Marshal(resp)
	if err != nil {
		raw, _ = json.Marshal(toolResponse{
			ID:      resp.ID,
			IsError: true,
			Result:  envelope.New("serve").Fail(apperr.Newf(apperr.CodeUnexpected, "serialize response: %v", err)),
		})
	}
	fmt.Fprintf(out, "%s\n", raw)
}

// loadFor builds an engine for one request's args.
func (s *toolServer) loadFor(args toolArgs) (*engine.Engine, error) {
	repo := args.Repo
	if repo == "" {
		repo = repoFlag
	}
	machine := args.Machine
	if machine == "" {
		machine = machineFlag
	}
	return engine.Load(engine.Options{RepoDir: repo, Machine: machine, Logger: s.log})
}

func (s *toolServer) dispatch(req toolRequest) *envelope.Envelope {
	s.log.Debug("tool call",
		zap.String("tool", req.Tool),
		zap.Bool("has_confirm_token", req.Args.ConfirmToken != ""))
	env := envelope.New(req.Tool)

	eng, err := s.loadFor(req.Args)
	if err != nil {
		return env.Fail(err)
	}
	defer eng.Close()

	switch req.Tool {
	case "plan", "diff", "preview":
		data, warnings, err := s.planData(eng, req.Args)
		if err != nil {
			return env.Warn(warnings...).Fail(err)
		}
		return env.Warn(warnings...).Succeed(data)

	case "status":
		data, warnings, err := s.statusData(eng, req.Args)
		if err != nil {
			return env.Warn(warnings...).Fail(err)
		}
		return env.Warn(warnings...).Succeed(data)

	case "doctor":
		report := eng.Doctor()
		data, derr := toJSONMap(report)
		if derr != nil {
			return env.Fail(derr)
		}
		return env.Warn(report.Warnings...).Succeed(data)

	case "deploy_apply":
		return s.destructive(env, req.Args, func() (map[string]any, []string, error) {
			return s.planData(eng, req.Args)
		}, func() (map[string]any, error) {
			ctx, err := eng.ReadOnlyContext(req.Args.profile(), req.Args.target())
			if err != nil {
				return nil, err
			}
			res, err := eng.DeployApply(ctx, req.Args.Adopt, true)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"applied":     res.Outcome == engine.OutcomeApplied,
				"outcome":     string(res.Outcome),
				"snapshot_id": res.SnapshotID,
			}, nil
		})

	case "rollback":
		return s.destructive(env, req.Args, func() (map[string]any, []string, error) {
			_, plan, err := eng.BuildRollbackPlan(req.Args.To)
			if err != nil {
				return nil, nil, err
			}
			data, derr := toJSONMap(struct {
				To      string `json:"to"`
				Changes any    `json:"changes"`
				Summary any    `json:"summary"`
			}{To: req.Args.To, Changes: plan.Changes, Summary: plan.Summary})
			return data, nil, derr
		}, func() (map[string]any, error) {
			res, err := eng.Rollback(req.Args.To, true)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"snapshot_id":    res.Snapshot.ID,
				"rolled_back_to": req.Args.To,
			}, nil
		})

	case "evolve_propose":
		return s.destructive(env, req.Args, func() (map[string]any, []string, error) {
			res, err := eng.EvolvePropose(req.Args.profile(), req.Args.target(), engine.EvolveProposeOptions{DryRun: true})
			if err != nil {
				return nil, nil, err
			}
			data, derr := toJSONMap(res)
			return data, nil, derr
		}, func() (map[string]any, error) {
			res, err := eng.EvolvePropose(req.Args.profile(), req.Args.target(), engine.EvolveProposeOptions{})
			if err != nil {
				return nil, err
			}
			return toJSONMap(res)
		})

	case "evolve_restore":
		return s.destructive(env, req.Args, func() (map[string]any, []string, error) {
			res, err := eng.EvolveRestore(req.Args.profile(), req.Args.target(), true, false)
			if err != nil {
				return nil, nil, err
			}
			data, derr := toJSONMap(res)
			return data, nil, derr
		}, func() (map[string]any, error) {
			res, err := eng.EvolveRestore(req.Args.profile(), req.Args.target(), false, true)
			if err != nil {
				return nil, err
			}
			return toJSONMap(res)
		})

	default:
		return env.Fail(apperr.Newf(apperr.CodeConfigInvalid, "unknown tool: %s", req.Tool).
			WithDetail("tool", req.Tool))
	}
}

// planData computes the read-only plan result shared by plan/diff/preview
// and the deploy confirm flow.
func (s *toolServer) planData(eng *engine.Engine, args toolArgs) (map[string]any, []string, error) {
	ctx, err := eng.ReadOnlyContext(args.profile(), args.target())
	if err != nil {
		return nil, nil, err
	}
	data, derr := toJSONMap(struct {
		Profile string   `json:"profile"`
		Targets []string `json:"targets"`
		Changes any      `json:"changes"`
		Summary any      `json:"summary"`
	}{Profile: args.profile(), Targets: ctx.Targets, Changes: ctx.Plan.Changes, Summary: ctx.Plan.Summary})
	return data, ctx.Warnings, derr
}

func (s *toolServer) statusData(eng *engine.Engine, args toolArgs) (map[string]any, []string, error) {
	ctx, err := eng.ReadOnlyContext(args.profile(), args.target())
	if err != nil {
		return nil, nil, err
	}
	report, err := drift.Analyze(ctx.Desired, ctx.Roots, ctx.Managed, drift.Options{Only: args.Only})
	if err != nil {
		return nil, ctx.Warnings, err
	}
	data, derr := toJSONMap(report)
	return data, ctx.Warnings, derr
}

// destructive implements the two-phase confirm flow: without a token the
// dry result plus a fresh confirm_token comes back; with a token the call
// executes only while the recomputed plan hash still matches the bound one.
func (s *toolServer) destructive(env *envelope.Envelope, args toolArgs, dry func() (map[string]any, []string, error), exec func() (map[string]any, error)) *envelope.Envelope {
	binding := args.binding()

	dryData, warnings, err := dry()
	if err != nil {
		return env.Warn(warnings...).Fail(err)
	}
	planHash, err := confirm.PlanHash(binding, dryData)
	if err != nil {
		return env.Fail(err)
	}

	if args.ConfirmToken == "" {
		token, expiresAt, err := s.tokens.Issue(binding, planHash)
		if err != nil {
			return env.Fail(err)
		}
		dryData["needs_confirmation"] = true
		dryData["confirm_token"] = token
		dryData["confirm_token_expires_at"] = expiresAt.UTC().Format("2006-01-02T15:04:05Z07:00")
		return env.Warn(warnings...).Succeed(dryData)
	}

	boundHash, err := s.tokens.Validate(args.ConfirmToken, binding)
	if err != nil {
		return env.Warn(warnings...).Fail(err)
	}
	if boundHash != planHash {
		return env.Warn(warnings...).Fail(apperr.New(apperr.CodeConfirmTokenMismatch,
			"plan changed since the confirm_token was issued; request a new token"))
	}

	result, err := exec()
	if err != nil {
		return env.Warn(warnings...).Fail(err)
	}
	s.tokens.Consume(args.ConfirmToken)
	return env.Warn(warnings...).Succeed(result)
}
