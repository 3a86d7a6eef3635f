package unitofwork

import (
	"context"

	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/repository/contract"
)

type UnitOfWork interface {
	Begin(ctx context.Context) error
	Commit() error
	Rollback() error

	MemoryRecordRepository() contract.MemoryRecordRepository
}
