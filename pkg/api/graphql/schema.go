package graphql

import (
	"context"

	"github.com/graphql-go/graphql"
	"go.uber.org/zap"

	"github.com/product-labo/Meta-sub005/pkg/chain"
	"github.com/product-labo/Meta-sub005/pkg/orchestrator"
)

// JobService is the part of the orchestrator exposed over GraphQL
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

// Schema holds the GraphQL schema
type Schema struct {
	schema graphql.Schema
	jobs   JobService
	heads  ChainHeads
	logger *zap.Logger
}

// SchemaBuilder helps construct a GraphQL schema using the Builder pattern
type SchemaBuilder struct {
	schema    *Schema
	queries   graphql.Fields
	mutations graphql.Fields
}

// NewSchemaBuilder creates a new schema builder
func NewSchemaBuilder(jobs JobService, heads ChainHeads, logger *zap.Logger) *SchemaBuilder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SchemaBuilder{
		schema: &Schema{
			jobs:   jobs,
			heads:  heads,
			logger: logger,
		},
		queries:   make(graphql.Fields),
		mutations: make(graphql.Fields),
	}
}

// WithJobQueries adds job status queries
func (b *SchemaBuilder) WithJobQueries() *SchemaBuilder {
	s := b.schema

	b.queries["job"] = &graphql.Field{
		Type:        jobType,
		Description: "Get a job by id",
		Args: graphql.FieldConfigArgument{
			"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
		},
		Resolve: s.resolveJob,
	}
	b.queries["walletJob"] = &graphql.Field{
		Type:        jobType,
		Description: "Get the active job of a wallet, else its most recent one",
		Args: graphql.FieldConfigArgument{
			"walletId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
		},
		Resolve: s.resolveWalletJob,
	}
	b.queries["queuedJobs"] = &graphql.Field{
		Type:        graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(jobType))),
		Description: "Queued jobs by priority, then age",
		Resolve:     s.resolveQueuedJobs,
	}
	return b
}

// WithJobMutations adds job queueing and cancellation
func (b *SchemaBuilder) WithJobMutations() *SchemaBuilder {
	s := b.schema

	b.mutations["queueIndexingJob"] = &graphql.Field{
		Type:        graphql.NewNonNull(queueResultType),
		Description: "Queue a wallet indexing job",
		Args: graphql.FieldConfigArgument{
			"input": &graphql.ArgumentConfig{Type: graphql.NewNonNull(queueJobInput)},
		},
		Resolve: s.resolveQueueJob,
	}
	b.mutations["refreshWallet"] = &graphql.Field{
		Type:        graphql.NewNonNull(queueResultType),
		Description: "Queue a job from the wallet's last indexed block",
		Args: graphql.FieldConfigArgument{
			"walletId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
			"input":    &graphql.ArgumentConfig{Type: graphql.NewNonNull(refreshJobInput)},
		},
		Resolve: s.resolveRefreshWallet,
	}
	b.mutations["cancelJob"] = &graphql.Field{
		Type:        jobType,
		Description: "Cancel a queued or running job",
		Args: graphql.FieldConfigArgument{
			"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
		},
		Resolve: s.resolveCancelJob,
	}
	return b
}

// Build constructs the final GraphQL schema
func (b *SchemaBuilder) Build() (*Schema, error) {
	cfg := graphql.SchemaConfig{
		Query: graphql.NewObject(graphql.ObjectConfig{
			Name:   "Query",
			Fields: b.queries,
		}),
	}
	if len(b.mutations) > 0 {
		cfg.Mutation = graphql.NewObject(graphql.ObjectConfig{
			Name:   "Mutation",
			Fields: b.mutations,
		})
	}

	schema, err := graphql.NewSchema(cfg)
	if err != nil {
		return nil, err
	}
	b.schema.schema = schema
	return b.schema, nil
}

// NewSchema creates the job schema with queries and mutations
func NewSchema(jobs JobService, heads ChainHeads, logger *zap.Logger) (*Schema, error) {
	return NewSchemaBuilder(jobs, heads, logger).
		WithJobQueries().
		WithJobMutations().
		Build()
}

// Schema returns the GraphQL schema
func (s *Schema) Schema() graphql.Schema {
	return s.schema
}
