package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"
)

// Exit codes for the act and approve commands.
const (
	ExitSuccess            = 0
	ExitFailure            = 1
	ExitApprovalOrDenied   = 2
	ExitGatewayUnavailable = 3
)

var (
	actMessage    string
	actGatewayURL string
	actAPIKey     string
	actUserID     string
	actSimulate   bool
	actTimeout    int
)

var actCmd = &cobra.Command{
	Use:   "act",
	Short: "Send a one-shot action request to the gateway",
	Long: `Send a natural-language request to the Fokal gateway for execution.
The request runs through policy resolution; guarded actions come back as
pending proposals instead of executing.

Examples:
  fokal act -m "create a lead for jane@example.com"
  fokal act -m "invoice the Meyer wedding for 1200 EUR" --simulate

Exit codes:
  0  success
  1  execution failure
  2  denied or approval required
  3  gateway unavailable`,
	RunE: runAct,
}

var (
	approveProposalID string
	approveDeny       bool
)

var approveCmd = &cobra.Command{
	Use:   "approve",
	Short: "Approve or deny a pending proposal",
	Long: `Resolve a pending proposal by ID. Approval executes the held action;
denial discards it. Either way the decision is recorded in the audit trail.

Examples:
  fokal approve --id 1f2e3d4c
  fokal approve --id 1f2e3d4c --deny`,
	RunE: runApprove,
}

func init() {
	actCmd.Flags().StringVarP(&actMessage, "message", "m", "", "message to send (required)")
	actCmd.Flags().StringVar(&actGatewayURL, "gateway-url", "http://localhost:8080", "gateway HTTP API URL")
	actCmd.Flags().StringVar(&actAPIKey, "api-key", "", "API key for gateway authentication (or FOKAL_API_KEY env)")
	actCmd.Flags().StringVar(&actUserID, "user", "", "acting user ID (defaults to the tenant)")
	actCmd.Flags().BoolVar(&actSimulate, "simulate", false, "dry run: no side effects are persisted")
	actCmd.Flags().IntVar(&actTimeout, "timeout", 300, "timeout in seconds")
	_ = actCmd.MarkFlagRequired("message")

	approveCmd.Flags().StringVar(&approveProposalID, "id", "", "proposal ID (required)")
	approveCmd.Flags().BoolVar(&approveDeny, "deny", false, "deny the proposal instead of approving")
	approveCmd.Flags().StringVar(&actGatewayURL, "gateway-url", "http://localhost:8080", "gateway HTTP API URL")
	approveCmd.Flags().StringVar(&actAPIKey, "api-key", "", "API key for gateway authentication (or FOKAL_API_KEY env)")
	approveCmd.Flags().IntVar(&actTimeout, "timeout", 60, "timeout in seconds")
	_ = approveCmd.MarkFlagRequired("id")
}

func runAct(_ *cobra.Command, _ []string) error {
	apiKey, gatewayURL := resolveClientConfig()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(actTimeout)*time.Second)
	defer cancel()

	reqBody, _ := json.Marshal(map[string]any{
		"message":  actMessage,
		"user_id":  actUserID,
		"simulate": actSimulate,
	})

	respCode, respBody := postJSON(ctx, gatewayURL+"/v1/actions", apiKey, reqBody)

	switch respCode {
	case http.StatusOK:
		var result struct {
			Message       string `json:"message"`
			CorrelationID string `json:"correlation_id"`
			TokensUsed    int    `json:"tokens_used"`
		}
		_ = json.Unmarshal(respBody, &result)
		fmt.Println(result.Message)
		fmt.Fprintf(os.Stderr, "\n[correlation_id=%s tokens=%d]\n", result.CorrelationID, result.TokensUsed)
		os.Exit(ExitSuccess)

	case http.StatusAccepted:
		var pending struct {
			Message   string `json:"message"`
			Proposals []struct {
				ID        string `json:"id"`
				Tool      string `json:"tool"`
				Label     string `json:"label"`
				RiskLevel string `json:"risk_level"`
				Reason    string `json:"reason"`
			} `json:"proposed_actions"`
		}
		_ = json.Unmarshal(respBody, &pending)
		fmt.Fprintf(os.Stderr, "Approval required: %s\n", pending.Message)
		for _, p := range pending.Proposals {
			fmt.Fprintf(os.Stderr, "  id: %s\n  tool: %s\n  risk: %s\n  reason: %s\n",
				p.ID, p.Tool, p.RiskLevel, p.Reason)
		}
		fmt.Fprintln(os.Stderr, "Resolve with: fokal approve --id <id>")
		os.Exit(ExitApprovalOrDenied)

	case http.StatusForbidden:
		var denied struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(respBody, &denied)
		fmt.Fprintf(os.Stderr, "Denied: %s\n", denied.Message)
		os.Exit(ExitApprovalOrDenied)

	default:
		exitForStatus(respCode, respBody)
	}

	return nil
}

func runApprove(_ *cobra.Command, _ []string) error {
	apiKey, gatewayURL := resolveClientConfig()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(actTimeout)*time.Second)
	defer cancel()

	decision := "approve"
	if approveDeny {
		decision = "deny"
	}
	reqBody, _ := json.Marshal(map[string]any{
		"proposal_id": approveProposalID,
		"decision":    decision,
	})

	respCode, respBody := postJSON(ctx, gatewayURL+"/v1/approve", apiKey, reqBody)

	switch respCode {
	case http.StatusOK:
		var result struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(respBody, &result)
		fmt.Println(result.Message)
		os.Exit(ExitSuccess)

	case http.StatusNotFound:
		fmt.Fprintf(os.Stderr, "Error: proposal %s not found\n", approveProposalID)
		os.Exit(ExitFailure)

	case http.StatusGone:
		fmt.Fprintf(os.Stderr, "Error: proposal %s has expired\n", approveProposalID)
		os.Exit(ExitFailure)

	case http.StatusConflict:
		fmt.Fprintf(os.Stderr, "Error: proposal %s was already resolved\n", approveProposalID)
		os.Exit(ExitFailure)

	default:
		exitForStatus(respCode, respBody)
	}

	return nil
}

// resolveClientConfig resolves the API key and gateway URL from flags or env.
func resolveClientConfig() (apiKey, gatewayURL string) {
	apiKey = goutils.Env("FOKAL_API_KEY", actAPIKey)
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required (use --api-key or set FOKAL_API_KEY)")
		os.Exit(ExitApprovalOrDenied)
	}
	gatewayURL = goutils.Env("FOKAL_GATEWAY_URL", actGatewayURL)
	return apiKey, gatewayURL
}

// postJSON sends one authenticated request and returns status and body.
// Transport failures exit the process with ExitGatewayUnavailable.
func postJSON(ctx context.Context, url, apiKey string, body []byte) (int, []byte) {
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitFailure)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach gateway: %v\n", err)
		os.Exit(ExitGatewayUnavailable)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, respBody
}

// exitForStatus handles the shared non-success cases.
func exitForStatus(code int, body []byte) {
	switch code {
	case http.StatusUnauthorized:
		fmt.Fprintln(os.Stderr, "Error: unauthorized (check API key)")
		os.Exit(ExitApprovalOrDenied)
	case http.StatusTooManyRequests:
		fmt.Fprintln(os.Stderr, "Error: rate limited, try again later")
		os.Exit(ExitApprovalOrDenied)
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		fmt.Fprintf(os.Stderr, "Error: gateway unavailable (%d)\n", code)
		os.Exit(ExitGatewayUnavailable)
	default:
		fmt.Fprintf(os.Stderr, "Error: gateway returned %d: %s\n", code, string(body))
		os.Exit(ExitFailure)
	}
}
