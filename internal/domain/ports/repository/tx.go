package repository

import "context"

// Tx is a backend specific transaction handle (pgx.Tx, *sql.Tx).
// Repositories accept nil and then run outside a transaction.
type Tx interface{}

var NoTX Tx

type TxOptions struct {
	ReadOnly     bool
	Serializable bool
}

// TransactionManager runs fn inside one transaction and commits when fn
// returns nil. The tx passed to fn must be handed to every repository call.
type TransactionManager interface {
	WithTx(ctx context.Context, opts TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
