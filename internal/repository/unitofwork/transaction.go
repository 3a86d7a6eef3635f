package unitofwork

import (
	"context"
	"errors"
	"fmt"
)

// WithinTransaction runs fn inside a fresh unit of work. fn's error, or a
// panic, rolls the transaction back; otherwise it commits.
func WithinTransaction(ctx context.Context, factory RepositoryFactory, fn func(uow UnitOfWork) error) (err error) {
	uow := factory.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = uow.Rollback()
			panic(p)
		}
	}()

	if err := fn(uow); err != nil {
		if rbErr := uow.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	return uow.Commit()
}
