// Package analysis provides the concrete adapters around the external
// settlement-proposal oracle: an HTTP client speaking its JSON contract and
// a bounded worker pool for running calls off the request path.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"caseflow/dispute"
)

// ErrOracleFailure covers every way the oracle can let us down: timeout,
// unreachable endpoint, or a malformed or wrongly sized proposal set. The
// state machine absorbs it through the fallback set; it never reaches end
// users as an error.
var ErrOracleFailure = errors.New("analysis: oracle failure")

// HTTPOracle calls a JSON proposal-generation endpoint. One POST per
// trigger; any non-200 response, transport error, or malformed body counts
// as an oracle failure.
type HTTPOracle struct {
	endpoint string
	client   *http.Client
}

// NewHTTPOracle wires an oracle client against endpoint. The http.Client
// timeout is a transport-level backstop; the state machine still bounds each
// attempt with a context deadline.
func NewHTTPOracle(endpoint string, timeout time.Duration) *HTTPOracle {
	return &HTTPOracle{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type oracleRequest struct {
	DisputeID  string   `json:"dispute_id"`
	Facts      string   `json:"facts"`
	Transcript []string `json:"transcript"`
	Reanalysis bool     `json:"reanalysis"`
}

type oracleProposal struct {
	Title               string `json:"title"`
	Description         string `json:"description"`
	PlaintiffRationale  string `json:"plaintiff_rationale"`
	RespondentRationale string `json:"respondent_rationale"`
}

type oracleResponse struct {
	Proposals []oracleProposal `json:"proposals"`
}

// GenerateProposals implements dispute.Oracle.
func (o *HTTPOracle) GenerateProposals(ctx context.Context, req dispute.OracleRequest) ([]dispute.Proposal, error) {
	body, err := json.Marshal(oracleRequest{
		DisputeID:  req.DisputeID,
		Facts:      req.Facts,
		Transcript: req.Transcript,
		Reanalysis: req.Reanalysis,
	})
	if err != nil {
		return nil, fmt.Errorf("analysis: marshal oracle request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("analysis: build oracle request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOracleFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrOracleFailure, resp.StatusCode)
	}

	var decoded oracleResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrOracleFailure, err)
	}
	if len(decoded.Proposals) != dispute.ProposalsPerRound {
		return nil, fmt.Errorf("%w: expected %d proposals, got %d", ErrOracleFailure, dispute.ProposalsPerRound, len(decoded.Proposals))
	}

	out := make([]dispute.Proposal, 0, len(decoded.Proposals))
	for _, p := range decoded.Proposals {
		if p.Title == "" || p.Description == "" {
			return nil, fmt.Errorf("%w: proposal missing title or description", ErrOracleFailure)
		}
		out = append(out, dispute.Proposal{
			Title:               p.Title,
			Description:         p.Description,
			PlaintiffRationale:  p.PlaintiffRationale,
			RespondentRationale: p.RespondentRationale,
		})
	}
	return out, nil
}
