package repository

import "github.com/jackc/pgx/v5/pgxpool"

// Store bundles the PostgreSQL repositories behind the academic storage contract.
type Store struct {
	*StudentRepository
	*SemesterRepository
	*LegacyRepository
}

// NewStore builds a Store sharing one connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		StudentRepository:  NewStudentRepository(pool),
		SemesterRepository: NewSemesterRepository(pool),
		LegacyRepository:   NewLegacyRepository(pool),
	}
}
