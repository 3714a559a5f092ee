package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimiddleware "github.com/product-labo/Meta-sub005/pkg/api/middleware"
	"github.com/product-labo/Meta-sub005/pkg/chain"
	"github.com/product-labo/Meta-sub005/pkg/orchestrator"
)

const maxBodyBytes = 1 << 20

// JobService is the part of the orchestrator exposed over HTTP
type JobService interface {
	QueueIndexingJob(ctx context.Context, req orchestrator.QueueRequest) (string, error)
	RefreshWallet(ctx context.Context, req orchestrator.RefreshRequest) (string, error)
	GetJobStatus(ctx context.Context, jobID string) (*orchestrator.JobStatus, error)
	GetJobStatusByWallet(ctx context.Context, walletID string) (*orchestrator.JobStatus, error)
	GetQueuedJobs(ctx context.Context) ([]*orchestrator.JobStatus, error)
	CancelJob(ctx context.Context, jobID string) error
}

// ChainHeads resolves configured chains and their latest block
type ChainHeads interface {
	ChainType(chainName string) (chain.Type, bool)
	LatestBlock(ctx context.Context, chainName string) (uint64, error)
}

var errUnknownChain = errors.New("unknown chain")

// QueueJobRequest is the body of POST /jobs. EndBlock defaults to the chain head.
type QueueJobRequest struct {
	WalletID   string     `json:"walletId"`
	ProjectID  string     `json:"projectId"`
	Address    string     `json:"address"`
	Chain      string     `json:"chain"`
	ChainType  chain.Type `json:"chainType,omitempty"`
	StartBlock uint64     `json:"startBlock"`
	EndBlock   *uint64    `json:"endBlock,omitempty"`
	Priority   int        `json:"priority"`
}

// RefreshWalletRequest is the body of POST /wallets/{walletId}/refresh
type RefreshWalletRequest struct {
	ProjectID  string     `json:"projectId"`
	Address    string     `json:"address"`
	Chain      string     `json:"chain"`
	ChainType  chain.Type `json:"chainType,omitempty"`
	StartBlock uint64     `json:"startBlock"`
	EndBlock   *uint64    `json:"endBlock,omitempty"`
	Priority   int        `json:"priority"`
}

// QueueJobResponse is returned when a job is accepted
type QueueJobResponse struct {
	JobID  string              `json:"jobId"`
	Status orchestrator.Status `json:"status"`
}

// JobListResponse lists jobs
type JobListResponse struct {
	Jobs  []*orchestrator.JobStatus `json:"jobs"`
	Count int                       `json:"count"`
}

// jobHandler serves the job API
type jobHandler struct {
	jobs   JobService
	heads  ChainHeads
	logger *zap.Logger
}

func (h *jobHandler) routes(r chi.Router) {
	r.Post("/jobs", h.queueJob)
	r.Get("/jobs", h.queuedJobs)
	r.Get("/jobs/{jobId}", h.jobStatus)
	r.Delete("/jobs/{jobId}", h.cancelJob)
	r.Post("/jobs/{jobId}/cancel", h.cancelJob)
	r.Get("/wallets/{walletId}/job", h.walletJob)
	r.Post("/wallets/{walletId}/refresh", h.refreshWallet)
}

func (h *jobHandler) queueJob(w http.ResponseWriter, r *http.Request) {
	var req QueueJobRequest
	if !decodeBody(w, r, &req) {
		return
	}

	chainType, endBlock, err := h.resolveChain(r.Context(), req.Chain, req.ChainType, req.EndBlock)
	if err != nil {
		h.writeError(w, err)
		return
	}

	jobID, err := h.jobs.QueueIndexingJob(r.Context(), orchestrator.QueueRequest{
		WalletID:   req.WalletID,
		ProjectID:  req.ProjectID,
		Address:    req.Address,
		Chain:      req.Chain,
		ChainType:  chainType,
		StartBlock: req.StartBlock,
		EndBlock:   endBlock,
		Priority:   req.Priority,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, QueueJobResponse{JobID: jobID, Status: orchestrator.StatusQueued})
}

func (h *jobHandler) refreshWallet(w http.ResponseWriter, r *http.Request) {
	var req RefreshWalletRequest
	if !decodeBody(w, r, &req) {
		return
	}

	chainType, endBlock, err := h.resolveChain(r.Context(), req.Chain, req.ChainType, req.EndBlock)
	if err != nil {
		h.writeError(w, err)
		return
	}

	jobID, err := h.jobs.RefreshWallet(r.Context(), orchestrator.RefreshRequest{
		WalletID:   chi.URLParam(r, "walletId"),
		ProjectID:  req.ProjectID,
		Address:    req.Address,
		Chain:      req.Chain,
		ChainType:  chainType,
		StartBlock: req.StartBlock,
		EndBlock:   endBlock,
		Priority:   req.Priority,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, QueueJobResponse{JobID: jobID, Status: orchestrator.StatusQueued})
}

// resolveChain fills the chain type and end block from the configured chains
// when the request leaves them out.
func (h *jobHandler) resolveChain(ctx context.Context, chainName string, chainType chain.Type, endBlock *uint64) (chain.Type, uint64, error) {
	if chainName == "" {
		return "", 0, fmt.Errorf("%w: chain is required", orchestrator.ErrInvalidRequest)
	}

	if h.heads != nil {
		configured, ok := h.heads.ChainType(chainName)
		if !ok {
			return "", 0, fmt.Errorf("%w: %s", errUnknownChain, chainName)
		}
		if chainType == "" {
			chainType = configured
		} else if chainType != configured {
			return "", 0, fmt.Errorf("%w: chain %s is %s, not %s", orchestrator.ErrInvalidRequest, chainName, configured, chainType)
		}
	}

	if endBlock != nil {
		return chainType, *endBlock, nil
	}
	if h.heads == nil {
		return "", 0, fmt.Errorf("%w: endBlock is required", orchestrator.ErrInvalidRequest)
	}
	head, err := h.heads.LatestBlock(ctx, chainName)
	if err != nil {
		return "", 0, &headError{chain: chainName, err: err}
	}
	return chainType, head, nil
}

type headError struct {
	chain string
	err   error
}

func (e *headError) Error() string {
	return fmt.Sprintf("failed to read head of %s: %v", e.chain, e.err)
}

func (e *headError) Unwrap() error { return e.err }

func (h *jobHandler) jobStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.jobs.GetJobStatus(r.Context(), chi.URLParam(r, "jobId"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *jobHandler) walletJob(w http.ResponseWriter, r *http.Request) {
	status, err := h.jobs.GetJobStatusByWallet(r.Context(), chi.URLParam(r, "walletId"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *jobHandler) queuedJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobs.GetQueuedJobs(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*orchestrator.JobStatus{}
	}
	writeJSON(w, http.StatusOK, JobListResponse{Jobs: jobs, Count: len(jobs)})
}

func (h *jobHandler) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if err := h.jobs.CancelJob(r.Context(), jobID); err != nil {
		h.writeError(w, err)
		return
	}
	status, err := h.jobs.GetJobStatus(r.Context(), jobID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// writeError maps orchestrator errors to HTTP responses
func (h *jobHandler) writeError(w http.ResponseWriter, err error) {
	var he *headError
	switch {
	case errors.Is(err, orchestrator.ErrJobNotFound):
		apimiddleware.WriteError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, errUnknownChain):
		apimiddleware.WriteError(w, http.StatusNotFound, "unknown_chain", err.Error())
	case errors.Is(err, orchestrator.ErrJobInProgress):
		apimiddleware.WriteError(w, http.StatusConflict, "job_in_progress", err.Error())
	case errors.Is(err, orchestrator.ErrInvalidTransition):
		apimiddleware.WriteError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, orchestrator.ErrInvalidAddress):
		apimiddleware.WriteError(w, http.StatusBadRequest, "invalid_address", err.Error())
	case errors.Is(err, orchestrator.ErrInvalidBlockRange):
		apimiddleware.WriteError(w, http.StatusBadRequest, "invalid_block_range", err.Error())
	case errors.Is(err, orchestrator.ErrNothingToIndex):
		apimiddleware.WriteError(w, http.StatusBadRequest, "nothing_to_index", err.Error())
	case errors.Is(err, orchestrator.ErrInvalidRequest):
		apimiddleware.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, orchestrator.ErrQueueFull):
		apimiddleware.WriteError(w, http.StatusServiceUnavailable, "queue_full", err.Error())
	case errors.Is(err, orchestrator.ErrClosed):
		apimiddleware.WriteError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
	case errors.As(err, &he):
		h.logger.Warn("chain head unavailable", zap.String("chain", he.chain), zap.Error(he.err))
		apimiddleware.WriteError(w, http.StatusBadGateway, "chain_unavailable", err.Error())
	default:
		h.logger.Error("job api request failed", zap.Error(err))
		apimiddleware.WriteError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		apimiddleware.WriteError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
