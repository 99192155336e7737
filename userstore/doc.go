// Package userstore defines the credential record and the persistence
// contract used by the auth flows.
//
// Two adapters are provided: [github.com/MrEthical07/credflow/userstore/memory]
// for tests and single-process demos, and
// [github.com/MrEthical07/credflow/userstore/postgres] backed by pgx.
package userstore
