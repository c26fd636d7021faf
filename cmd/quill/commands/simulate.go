package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dyluth/quill/internal/coordinator"
	"github.com/dyluth/quill/internal/duration"
	"github.com/dyluth/quill/internal/inspect"
	"github.com/dyluth/quill/internal/lifecycle"
	"github.com/dyluth/quill/internal/participant"
	"github.com/dyluth/quill/internal/printer"
	"github.com/dyluth/quill/internal/watch"
	"github.com/dyluth/quill/pkg/session"
	"github.com/spf13/cobra"
)

var (
	simPlayers int
	simAI      int
	simMode    string
	simPrompt  string
	simTimeout time.Duration
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run simulated participants through a full session",
	Long: `Run simulated participants through a full session.

Joins --players real participants into a forming session, adds --ai
simulated participants, promotes the session and has every real
participant submit each phase concurrently until the session completes.

Examples:
  quill simulate --players 4 --ai 2`,
	Args: cobra.NoArgs,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().IntVar(&simPlayers, "players", 3, "Number of real participants")
	simulateCmd.Flags().IntVar(&simAI, "ai", 0, "Number of simulated (AI) participants")
	simulateCmd.Flags().StringVar(&simMode, "mode", "simulation", "Session mode to join")
	simulateCmd.Flags().StringVar(&simPrompt, "prompt", "sim-prompt", "Prompt id the session is promoted with")
	simulateCmd.Flags().DurationVar(&simTimeout, "timeout", time.Minute, "Give up after this long")
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	if simPlayers < 1 {
		return printer.Error("invalid --players", "At least one real participant is required.", nil)
	}
	if simAI < 0 {
		return printer.Error("invalid --ai", "The number of AI participants cannot be negative.", nil)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), simTimeout)
	defer cancel()

	rt, err := loadRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	dispatcher, err := newDispatcher(rt)
	if err != nil {
		return fmt.Errorf("failed to create grading dispatcher: %w", err)
	}
	defer dispatcher.Close()

	engine := participant.NewEngine(rt.store, rt.config.Policy(), dispatcher, rt.settings(), logger)
	_, err = runSimulation(ctx, engine, rt.config.Policy(), simulation{
		Players: simPlayers,
		AI:      simAI,
		Mode:    simMode,
		Prompt:  simPrompt,
	}, os.Stdout)
	return err
}

// simulation describes one simulated session.
type simulation struct {
	Players int
	AI      int
	Mode    string
	Prompt  string
}

var simDivisions = []string{"I", "II", "III", "IV"}

// simRank spreads simulated participants across tiers and divisions.
func simRank(i int) string {
	tier := duration.Tiers[(i/len(simDivisions))%len(duration.Tiers)]
	return fmt.Sprintf("%s %s", tier, simDivisions[i%len(simDivisions)])
}

// runSimulation drives a session from forming to completed and writes the
// final session to w.
func runSimulation(ctx context.Context, engine *participant.Engine, policy *duration.Policy, sim simulation, w io.Writer) (*session.Session, error) {
	if policy == nil {
		policy = duration.DefaultPolicy()
	}

	clients := make([]*participant.Client, 0, sim.Players)
	defer func() {
		for _, c := range clients {
			c.Leave(context.WithoutCancel(ctx))
		}
	}()

	ranks := make([]string, 0, sim.Players)
	for i := 0; i < sim.Players; i++ {
		p := session.Participant{
			UserID:      fmt.Sprintf("sim-%d", i+1),
			DisplayName: fmt.Sprintf("Writer %d", i+1),
			Rank:        simRank(i * 3),
		}
		c, err := engine.Join(ctx, p, sim.Mode)
		if err != nil {
			return nil, printer.ErrorWithContext("join failed", err.Error(), map[string]string{"User": p.UserID}, nil)
		}
		if len(clients) > 0 && c.SessionID() != clients[0].SessionID() {
			c.Leave(ctx)
			return nil, printer.Error(
				"participants landed in different sessions",
				fmt.Sprintf("%s joined %s, expected %s", p.UserID, c.SessionID(), clients[0].SessionID()),
				[]string{"Use a --mode no other client is matching in"},
			)
		}
		clients = append(clients, c)
		ranks = append(ranks, p.Rank)
	}
	sessionID := clients[0].SessionID()
	printer.Step("%d participants joined session %s\n", len(clients), sessionID)

	for i := 0; i < sim.AI; i++ {
		ai := session.Participant{UserID: fmt.Sprintf("ai-%d", i+1), DisplayName: fmt.Sprintf("Bot %d", i+1), Rank: simRank(i)}
		if err := engine.Lifecycle.AddParticipant(ctx, sessionID, ai, true); err != nil {
			return nil, fmt.Errorf("failed to add AI participant: %w", err)
		}
	}

	median := policy.MedianRank(ranks)
	err := engine.Lifecycle.Promote(ctx, sessionID, lifecycle.PromoteRequest{
		Trait:              "simulated",
		PromptID:           sim.Prompt,
		PromptType:         "essay",
		RepresentativeRank: median,
	})
	if err != nil {
		return nil, printer.ErrorWithContext("promote failed", err.Error(), map[string]string{"Session": sessionID}, nil)
	}
	printer.Phase(sessionID, session.PhaseDraft, policy.PhaseDuration(median, session.PhaseDraft))

	for _, phase := range []session.Phase{session.PhaseDraft, session.PhaseFeedback, session.PhaseRevision} {
		transitions, err := submitAll(ctx, clients, phase)
		if err != nil {
			return nil, err
		}
		if transitions != 1 {
			return nil, fmt.Errorf("phase %d closed %d times, expected exactly once", phase, transitions)
		}
		if phase < session.PhaseRevision {
			next := phase + 1
			printer.Phase(sessionID, next, policy.SessionDuration(ranks, next))
		}
	}

	final, err := watch.PollForState(ctx, engine.Store, sessionID, session.StateCompleted, 10*time.Second)
	if err != nil {
		return nil, err
	}
	printer.Success("session %s completed\n\n", sessionID)
	inspect.FormatSessionDetail(w, final, engine.Now().UnixMilli())
	return final, nil
}

// submitAll submits phase for every client concurrently and returns how many
// of the submissions closed the phase.
func submitAll(ctx context.Context, clients []*participant.Client, phase session.Phase) (int, error) {
	var (
		mu          sync.Mutex
		wg          sync.WaitGroup
		transitions int
		firstErr    error
	)

	for _, c := range clients {
		wg.Add(1)
		go func(c *participant.Client) {
			defer wg.Done()

			result, err := submitWithRetry(ctx, c, phase, simPayload(c.UserID(), phase))

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("%s failed to submit phase %d: %w", c.UserID(), phase, err)
				}
				return
			}
			if result.Transitioned {
				transitions++
			}
		}(c)
	}
	wg.Wait()

	return transitions, firstErr
}

// submitWithRetry retries submissions that ran out of transaction attempts.
// Submissions are idempotent, so a retry never double counts.
func submitWithRetry(ctx context.Context, c *participant.Client, phase session.Phase, payload map[string]any) (*coordinator.Result, error) {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		var result *coordinator.Result
		result, err = c.Submit(ctx, phase, payload)
		if !errors.Is(err, session.ErrTxConflict) {
			return result, err
		}
	}
	return nil, err
}

func simPayload(userID string, phase session.Phase) map[string]any {
	content := strings.TrimSpace(strings.Repeat(fmt.Sprintf("%s writes a %s. ", userID, phase), 3))
	return map[string]any{
		"content":    content,
		"word_count": len(strings.Fields(content)),
	}
}
