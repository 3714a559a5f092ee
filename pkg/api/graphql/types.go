package graphql

import (
	"strconv"
	"time"

	"github.com/graphql-go/graphql"

	"github.com/product-labo/Meta-sub005/pkg/orchestrator"
)

// Block numbers and counters are unsigned 64-bit values, carried as decimal strings
var bigIntType = graphql.String

var (
	jobType          *graphql.Object
	queueResultType  *graphql.Object
	queueJobInput    *graphql.InputObject
	refreshJobInput  *graphql.InputObject
	jobStatusEnum    *graphql.Enum
	chainTypeEnumMap = graphql.EnumValueConfigMap{
		"evm":      &graphql.EnumValueConfig{Value: "evm"},
		"starknet": &graphql.EnumValueConfig{Value: "starknet"},
	}
)

func init() {
	jobStatusEnum = graphql.NewEnum(graphql.EnumConfig{
		Name:        "JobStatus",
		Description: "Lifecycle state of an indexing job",
		Values: graphql.EnumValueConfigMap{
			"queued":    &graphql.EnumValueConfig{Value: string(orchestrator.StatusQueued)},
			"running":   &graphql.EnumValueConfig{Value: string(orchestrator.StatusRunning)},
			"completed": &graphql.EnumValueConfig{Value: string(orchestrator.StatusCompleted)},
			"failed":    &graphql.EnumValueConfig{Value: string(orchestrator.StatusFailed)},
		},
	})

	chainTypeEnum := graphql.NewEnum(graphql.EnumConfig{
		Name:   "ChainType",
		Values: chainTypeEnumMap,
	})

	jobType = graphql.NewObject(graphql.ObjectConfig{
		Name:        "IndexingJob",
		Description: "A wallet indexing job with its computed progress",
		Fields: graphql.Fields{
			"id":                &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"walletId":          &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"projectId":         &graphql.Field{Type: graphql.String},
			"address":           &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"chain":             &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"chainType":         &graphql.Field{Type: chainTypeEnum},
			"status":            &graphql.Field{Type: graphql.NewNonNull(jobStatusEnum)},
			"startBlock":        &graphql.Field{Type: graphql.NewNonNull(bigIntType)},
			"endBlock":          &graphql.Field{Type: graphql.NewNonNull(bigIntType)},
			"currentBlock":      &graphql.Field{Type: graphql.NewNonNull(bigIntType)},
			"priority":          &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
			"transactionsFound": &graphql.Field{Type: graphql.NewNonNull(bigIntType)},
			"eventsFound":       &graphql.Field{Type: graphql.NewNonNull(bigIntType)},
			"blocksPerSecond":   &graphql.Field{Type: graphql.NewNonNull(graphql.Float)},
			"percentage":        &graphql.Field{Type: graphql.NewNonNull(graphql.Float)},
			"errorMessage":      &graphql.Field{Type: graphql.String},
			"createdAt":         &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"startedAt":         &graphql.Field{Type: graphql.String},
			"completedAt":       &graphql.Field{Type: graphql.String},
		},
	})

	queueResultType = graphql.NewObject(graphql.ObjectConfig{
		Name: "QueueJobResult",
		Fields: graphql.Fields{
			"jobId":  &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"status": &graphql.Field{Type: graphql.NewNonNull(jobStatusEnum)},
		},
	})

	queueJobInput = graphql.NewInputObject(graphql.InputObjectConfig{
		Name: "QueueJobInput",
		Fields: graphql.InputObjectConfigFieldMap{
			"walletId":   &graphql.InputObjectFieldConfig{Type: graphql.NewNonNull(graphql.String)},
			"projectId":  &graphql.InputObjectFieldConfig{Type: graphql.String},
			"address":    &graphql.InputObjectFieldConfig{Type: graphql.NewNonNull(graphql.String)},
			"chain":      &graphql.InputObjectFieldConfig{Type: graphql.NewNonNull(graphql.String)},
			"chainType":  &graphql.InputObjectFieldConfig{Type: chainTypeEnum},
			"startBlock": &graphql.InputObjectFieldConfig{Type: bigIntType, DefaultValue: "0"},
			"endBlock": &graphql.InputObjectFieldConfig{
				Type:        bigIntType,
				Description: "Last block to index (default: chain head)",
			},
			"priority": &graphql.InputObjectFieldConfig{Type: graphql.Int, DefaultValue: 0},
		},
	})

	refreshJobInput = graphql.NewInputObject(graphql.InputObjectConfig{
		Name: "RefreshWalletInput",
		Fields: graphql.InputObjectConfigFieldMap{
			"projectId": &graphql.InputObjectFieldConfig{Type: graphql.String},
			"address":   &graphql.InputObjectFieldConfig{Type: graphql.NewNonNull(graphql.String)},
			"chain":     &graphql.InputObjectFieldConfig{Type: graphql.NewNonNull(graphql.String)},
			"chainType": &graphql.InputObjectFieldConfig{Type: chainTypeEnum},
			"startBlock": &graphql.InputObjectFieldConfig{
				Type:         bigIntType,
				DefaultValue: "0",
				Description:  "First block when the wallet was never indexed",
			},
			"endBlock": &graphql.InputObjectFieldConfig{
				Type:        bigIntType,
				Description: "Last block to index (default: chain head)",
			},
			"priority": &graphql.InputObjectFieldConfig{Type: graphql.Int, DefaultValue: 0},
		},
	})
}

// jobToMap converts a job status to its GraphQL representation
func jobToMap(js *orchestrator.JobStatus) map[string]interface{} {
	if js == nil || js.IndexingJob == nil {
		return nil
	}
	m := map[string]interface{}{
		"id":                js.ID,
		"walletId":          js.WalletID,
		"projectId":         js.ProjectID,
		"address":           js.Address,
		"chain":             js.Chain,
		"chainType":         string(js.ChainType),
		"status":            string(js.Status),
		"startBlock":        strconv.FormatUint(js.StartBlock, 10),
		"endBlock":          strconv.FormatUint(js.EndBlock, 10),
		"currentBlock":      strconv.FormatUint(js.CurrentBlock, 10),
		"priority":          js.Priority,
		"transactionsFound": strconv.FormatUint(js.TransactionsFound, 10),
		"eventsFound":       strconv.FormatUint(js.EventsFound, 10),
		"blocksPerSecond":   js.BlocksPerSecond,
		"percentage":        js.Percentage,
		"createdAt":         formatTime(&js.CreatedAt),
		"startedAt":         formatTime(js.StartedAt),
		"completedAt":       formatTime(js.CompletedAt),
	}
	if js.ErrorMessage != "" {
		m["errorMessage"] = js.ErrorMessage
	}
	return m
}

func formatTime(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
