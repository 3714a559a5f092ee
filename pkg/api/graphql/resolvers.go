package graphql

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/graphql-go/graphql"
	"go.uber.org/zap"

	"github.com/product-labo/Meta-sub005/pkg/chain"
	"github.com/product-labo/Meta-sub005/pkg/orchestrator"
)

// Error codes reported in the "code" extension of GraphQL errors
const (
	CodeNotFound          = "not_found"
	CodeUnknownChain      = "unknown_chain"
	CodeJobInProgress     = "job_in_progress"
	CodeInvalidTransition = "invalid_transition"
	CodeInvalidAddress    = "invalid_address"
	CodeInvalidRange      = "invalid_block_range"
	CodeNothingToIndex    = "nothing_to_index"
	CodeInvalidRequest    = "invalid_request"
	CodeQueueFull         = "queue_full"
	CodeUnavailable       = "unavailable"
	CodeChainUnavailable  = "chain_unavailable"
	CodeInternal          = "internal_error"
)

var errUnknownChain = errors.New("unknown chain")

// Error is a resolver error carrying a machine-readable code
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

// Extensions implements gqlerrors.ExtendedError
func (e *Error) Extensions() map[string]interface{} {
	return map[string]interface{}{"code": e.Code}
}

// resolveJob resolves a job by id; an unknown id resolves to null
func (s *Schema) resolveJob(p graphql.ResolveParams) (interface{}, error) {
	id, _ := p.Args["id"].(string)
	status, err := s.jobs.GetJobStatus(p.Context, id)
	if errors.Is(err, orchestrator.ErrJobNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, s.toError(err)
	}
	return jobToMap(status), nil
}

// resolveWalletJob resolves the current job of a wallet
func (s *Schema) resolveWalletJob(p graphql.ResolveParams) (interface{}, error) {
	walletID, _ := p.Args["walletId"].(string)
	status, err := s.jobs.GetJobStatusByWallet(p.Context, walletID)
	if errors.Is(err, orchestrator.ErrJobNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, s.toError(err)
	}
	return jobToMap(status), nil
}

// resolveQueuedJobs resolves the queued jobs in dequeue order
func (s *Schema) resolveQueuedJobs(p graphql.ResolveParams) (interface{}, error) {
	jobs, err := s.jobs.GetQueuedJobs(p.Context)
	if err != nil {
		return nil, s.toError(err)
	}
	out := make([]interface{}, 0, len(jobs))
	for _, js := range jobs {
		out = append(out, jobToMap(js))
	}
	return out, nil
}

func (s *Schema) resolveQueueJob(p graphql.ResolveParams) (interface{}, error) {
	input, _ := p.Args["input"].(map[string]interface{})
	target, err := s.resolveTarget(p.Context, input)
	if err != nil {
		return nil, s.toError(err)
	}

	jobID, err := s.jobs.QueueIndexingJob(p.Context, orchestrator.QueueRequest{
		WalletID:   stringArg(input, "walletId"),
		ProjectID:  stringArg(input, "projectId"),
		Address:    stringArg(input, "address"),
		Chain:      target.chain,
		ChainType:  target.chainType,
		StartBlock: target.startBlock,
		EndBlock:   target.endBlock,
		Priority:   intArg(input, "priority"),
	})
	if err != nil {
		return nil, s.toError(err)
	}
	return queueResult(jobID), nil
}

func (s *Schema) resolveRefreshWallet(p graphql.ResolveParams) (interface{}, error) {
	walletID, _ := p.Args["walletId"].(string)
	input, _ := p.Args["input"].(map[string]interface{})
	target, err := s.resolveTarget(p.Context, input)
	if err != nil {
		return nil, s.toError(err)
	}

	jobID, err := s.jobs.RefreshWallet(p.Context, orchestrator.RefreshRequest{
		WalletID:   walletID,
		ProjectID:  stringArg(input, "projectId"),
		Address:    stringArg(input, "address"),
		Chain:      target.chain,
		ChainType:  target.chainType,
		StartBlock: target.startBlock,
		EndBlock:   target.endBlock,
		Priority:   intArg(input, "priority"),
	})
	if err != nil {
		return nil, s.toError(err)
	}
	return queueResult(jobID), nil
}

func (s *Schema) resolveCancelJob(p graphql.ResolveParams) (interface{}, error) {
	id, _ := p.Args["id"].(string)
	if err := s.jobs.CancelJob(p.Context, id); err != nil {
		return nil, s.toError(err)
	}
	status, err := s.jobs.GetJobStatus(p.Context, id)
	if err != nil {
		return nil, s.toError(err)
	}
	return jobToMap(status), nil
}

func queueResult(jobID string) map[string]interface{} {
	return map[string]interface{}{
		"jobId":  jobID,
		"status": string(orchestrator.StatusQueued),
	}
}

// target is the chain and block range of a job input
type target struct {
	chain      string
	chainType  chain.Type
	startBlock uint64
	endBlock   uint64
}

// resolveTarget fills the chain type and end block from the configured
// chains when the input leaves them out.
func (s *Schema) resolveTarget(ctx context.Context, input map[string]interface{}) (target, error) {
	t := target{
		chain:     stringArg(input, "chain"),
		chainType: chain.Type(stringArg(input, "chainType")),
	}
	if t.chain == "" {
		return t, fmt.Errorf("%w: chain is required", orchestrator.ErrInvalidRequest)
	}

	start, _, err := blockArg(input, "startBlock")
	if err != nil {
		return t, err
	}
	t.startBlock = start

	if s.heads != nil {
		configured, ok := s.heads.ChainType(t.chain)
		if !ok {
			return t, fmt.Errorf("%w: %s", errUnknownChain, t.chain)
		}
		if t.chainType == "" {
			t.chainType = configured
		} else if t.chainType != configured {
			return t, fmt.Errorf("%w: chain %s is %s, not %s", orchestrator.ErrInvalidRequest, t.chain, configured, t.chainType)
		}
	}

	end, ok, err := blockArg(input, "endBlock")
	if err != nil {
		return t, err
	}
	if ok {
		t.endBlock = end
		return t, nil
	}
	if s.heads == nil {
		return t, fmt.Errorf("%w: endBlock is required", orchestrator.ErrInvalidRequest)
	}
	head, err := s.heads.LatestBlock(ctx, t.chain)
	if err != nil {
		s.logger.Warn("chain head unavailable", zap.String("chain", t.chain), zap.Error(err))
		return t, &Error{Code: CodeChainUnavailable, Message: fmt.Sprintf("failed to read head of %s: %v", t.chain, err)}
	}
	t.endBlock = head
	return t, nil
}

// toError maps service errors to coded GraphQL errors
func (s *Schema) toError(err error) error {
	var coded *Error
	if errors.As(err, &coded) {
		return coded
	}

	code := CodeInternal
	switch {
	case errors.Is(err, orchestrator.ErrJobNotFound):
		code = CodeNotFound
	case errors.Is(err, errUnknownChain):
		code = CodeUnknownChain
	case errors.Is(err, orchestrator.ErrJobInProgress):
		code = CodeJobInProgress
	case errors.Is(err, orchestrator.ErrInvalidTransition):
		code = CodeInvalidTransition
	case errors.Is(err, orchestrator.ErrInvalidAddress):
		code = CodeInvalidAddress
	case errors.Is(err, orchestrator.ErrInvalidBlockRange):
		code = CodeInvalidRange
	case errors.Is(err, orchestrator.ErrNothingToIndex):
		code = CodeNothingToIndex
	case errors.Is(err, orchestrator.ErrInvalidRequest):
		code = CodeInvalidRequest
	case errors.Is(err, orchestrator.ErrQueueFull):
		code = CodeQueueFull
	case errors.Is(err, orchestrator.ErrClosed):
		code = CodeUnavailable
	}

	if code == CodeInternal {
		s.logger.Error("graphql resolver failed", zap.Error(err))
		return &Error{Code: code, Message: "internal server error"}
	}
	return &Error{Code: code, Message: err.Error()}
}

func stringArg(args map[string]interface{}, name string) string {
	v, _ := args[name].(string)
	return v
}

func intArg(args map[string]interface{}, name string) int {
	v, _ := args[name].(int)
	return v
}

// blockArg parses a decimal block number; ok is false when the field is absent
func blockArg(args map[string]interface{}, name string) (uint64, bool, error) {
	raw, ok := args[name].(string)
	if !ok || raw == "" {
		return 0, false, nil
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %s %q is not a block number", orchestrator.ErrInvalidRequest, name, raw)
	}
	return n, true, nil
}
