// Package query runs read-only statements against the loaded table.
package query

import (
	"context"

	"github.com/JayJamieson/csv-sql/pkg/models"
	"github.com/JayJamieson/csv-sql/pkg/sqlguard"
)

// Store is the part of db.TabularStore the executor needs.
type Store interface {
	Query(ctx context.Context, statement string) (models.QueryResult, error)
}

type Executor struct {
	store Store
}

func NewExecutor(store Store) *Executor {
	return &Executor{store: store}
}

// Execute checks statement against the read-only policy and runs it. A
// statement that fails the check never reaches the store. Rows are returned in
// full, in engine order.
func (e *Executor) Execute(ctx context.Context, statement string) (models.QueryResult, error) {
	checked, err := sqlguard.Check(statement)
	if err != nil {
		return models.QueryResult{}, &models.ExecutionError{
			Msg:      "statement rejected: " + err.Error(),
			Rejected: true,
			Err:      err,
		}
	}

	result, err := e.store.Query(ctx, checked)
	if err != nil {
		return models.QueryResult{}, &models.ExecutionError{Msg: err.Error(), Err: err}
	}
	return result, nil
}
