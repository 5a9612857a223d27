// Package cli implements an interactive CLI gateway for Fokal.
package cli

import (
	"bufio"
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/fokalhq/fokal/internal/agent"
	"github.com/fokalhq/fokal/internal/gateway/httpapi"
	"github.com/fokalhq/fokal/internal/proposal"
)

const cliUserID = "cli-user"

// Gateway is the interactive command-line interface.
type Gateway struct {
	runner   agent.Runner
	approver httpapi.Approver
	tenantID string
	studio   string
	logger   *slog.Logger
	done     chan struct{} // closed by Stop to signal shutdown
	simulate bool
}

// NewGateway creates a CLI gateway for one studio tenant.
func NewGateway(runner agent.Runner, approver httpapi.Approver, tenantID, studio string, logger *slog.Logger) *Gateway {
	return &Gateway{
		runner:   runner,
		approver: approver,
		tenantID: tenantID,
		studio:   studio,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// WithSimulate makes every request a dry run.
func (g *Gateway) WithSimulate(enabled bool) *Gateway {
	g.simulate = enabled
	return g
}

// Name implements gateway.Gateway.
func (g *Gateway) Name() string { return "cli" }

// Start runs the interactive REPL. Blocks until ctx is cancelled,
// Stop is called, or the user types "exit".
func (g *Gateway) Start(ctx context.Context) error {
	scanner := bufio.NewScanner(os.Stdin)

	fmt.Println("Fokal — studio assistant")
	if g.simulate {
		fmt.Println("Simulate mode: nothing will be persisted.")
	}
	fmt.Println("Type your request (or \"exit\" to quit).")
	fmt.Println()

	for {
		fmt.Print("fokal> ")

		// Check for context cancellation or Stop signal between prompts.
		select {
		case <-ctx.Done():
			fmt.Println("\nShutting down.")
			return nil
		case <-g.done:
			fmt.Println("\nShutting down.")
			return nil
		default:
		}

		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			fmt.Println("Goodbye.")
			return nil
		}

		correlationID := newCorrelationID()

		input := &agent.Input{
			TenantID:      g.tenantID,
			UserID:        cliUserID,
			StudioName:    g.studio,
			Message:       line,
			CorrelationID: correlationID,
			Simulate:      g.simulate,
		}

		g.logger.DebugContext(ctx, "cli request",
			slog.String("tenant_id", g.tenantID),
			slog.String("correlation_id", correlationID),
		)

		outcome, err := g.runner.Process(ctx, input)
		if err != nil {
			g.logger.ErrorContext(ctx, "action processing failed",
				slog.String("correlation_id", correlationID),
				slog.String("error", err.Error()),
			)
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}

		fmt.Println()
		fmt.Println(outcome.Message)

		if outcome.Status == agent.StatusNeedsApproval {
			for _, p := range outcome.Proposals {
				g.handleProposal(ctx, scanner, p)
			}
		}

		fmt.Println()
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}

	return nil
}

// Stop signals the REPL to shut down.
func (g *Gateway) Stop(_ context.Context) error {
	select {
	case <-g.done:
		// Already closed.
	default:
		close(g.done)
	}
	return nil
}

// handleProposal prompts the CLI user to resolve one pending proposal.
func (g *Gateway) handleProposal(ctx context.Context, scanner *bufio.Scanner, p proposal.Proposal) {
	fmt.Printf("\nApproval required: %s (risk: %s)\n", p.Label, p.RiskLevel)
	fmt.Printf("  Tool:        %s\n", p.Tool)
	if p.Reason != "" {
		fmt.Printf("  Reason:      %s\n", p.Reason)
	}
	fmt.Printf("  Proposal ID: %s\n", p.ID)
	fmt.Print("Approve? [y/N]: ")

	if !scanner.Scan() {
		return
	}

	answer := strings.TrimSpace(strings.ToLower(scanner.Text()))
	approve := answer == "y" || answer == "yes"

	outcome, err := g.approver.ResumeWithProposal(ctx, p.ID, cliUserID, approve)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Resolving proposal failed: %v\n", err)
		return
	}
	fmt.Println(outcome.Message)
}

// newCorrelationID generates a short random hex ID for request tracing.
func newCorrelationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%x", b)
}
