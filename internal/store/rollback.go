package store

import (
	"context"
	"errors"

	"github.com/adverant/nexus-memory/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RollbackResult reports one compensating delete.
type RollbackResult struct {
	Success        bool  `json:"success"`
	RecordsDeleted int64 `json:"records_deleted"`
}

// RollbackVerification reports which stores still hold traces of a record
// after compensation.
type RollbackVerification struct {
	RelationalClean bool `json:"relational_clean"`
	VectorClean     bool `json:"vector_clean"`
	GraphClean      bool `json:"graph_clean"`
}

func (v RollbackVerification) Clean() bool {
	return v.RelationalClean && v.VectorClean && v.GraphClean
}

// Rollbacker issues the compensating deletes for a failed storage saga.
// Deletes are tenant-scoped and idempotent: a record that was never written
// (or already removed) counts as success.
type Rollbacker struct {
	relational domain.RelationalStore
	vector     domain.VectorStore
	graph      domain.GraphStore
	logger     *zap.Logger
}

func NewRollbacker(relational domain.RelationalStore, vector domain.VectorStore, graph domain.GraphStore, logger *zap.Logger) *Rollbacker {
	return &Rollbacker{relational: relational, vector: vector, graph: graph, logger: logger}
}

func (r *Rollbacker) DeleteRelational(ctx context.Context, id uuid.UUID, tenant domain.TenantContext) (*RollbackResult, error) {
	n, err := r.relational.DeleteContent(ctx, id, tenant)
	if err != nil {
		return &RollbackResult{}, err
	}
	return &RollbackResult{Success: true, RecordsDeleted: n}, nil
}

func (r *Rollbacker) DeleteRelationalBatch(ctx context.Context, ids []uuid.UUID, tenant domain.TenantContext) (*RollbackResult, error) {
	n, err := r.relational.DeleteContentBatch(ctx, ids, tenant)
	if err != nil {
		return &RollbackResult{}, err
	}
	return &RollbackResult{Success: true, RecordsDeleted: n}, nil
}

func (r *Rollbacker) DeleteVector(ctx context.Context, collection string, ids []uuid.UUID) (*RollbackResult, error) {
	if err := r.vector.DeletePoints(ctx, collection, ids); err != nil {
		return &RollbackResult{}, err
	}
	return &RollbackResult{Success: true, RecordsDeleted: int64(len(ids))}, nil
}

func (r *Rollbacker) DeleteGraph(ctx context.Context, id uuid.UUID, tenant domain.TenantContext) (*RollbackResult, error) {
	n, err := r.graph.DeleteNode(ctx, id, tenant)
	if err != nil {
		return &RollbackResult{}, err
	}
	return &RollbackResult{Success: true, RecordsDeleted: n}, nil
}

// VerifyRollback checks all three stores for leftover traces of the record.
// A store that cannot be reached counts as dirty; the caller decides whether
// to flag manual intervention.
func (r *Rollbacker) VerifyRollback(ctx context.Context, id uuid.UUID, collection string, tenant domain.TenantContext) RollbackVerification {
	v := RollbackVerification{}

	if _, err := r.relational.GetContent(ctx, id, tenant); errors.Is(err, domain.ErrNotFound) {
		v.RelationalClean = true
	} else if err != nil {
		r.logger.Warn("rollback verification: relational check failed", zap.String("id", id.String()), zap.Error(err))
	}

	if has, err := r.vector.HasPoint(ctx, collection, id); err == nil && !has {
		v.VectorClean = true
	} else if err != nil {
		r.logger.Warn("rollback verification: vector check failed", zap.String("id", id.String()), zap.Error(err))
	}

	if has, err := r.graph.HasNode(ctx, id, tenant); err == nil && !has {
		v.GraphClean = true
	} else if err != nil {
		r.logger.Warn("rollback verification: graph check failed", zap.String("id", id.String()), zap.Error(err))
	}

	return v
}
