//go:build !wasm
// +build !wasm

// Package gorm provides GORM-based implementations of the account store
// interfaces. It works with any database GORM supports; Postgres is used in
// production and SQLite in tests.
//
// # Database Schema
//
//   - accounts: local user accounts
//   - profiles: one profile per activated account
//   - session_tokens: persistent session scheme tokens, one per account
//   - social_accounts: links between provider identities and accounts
//
// Migrate applies the embedded goose migrations on Postgres. AutoMigrate
// builds the same tables from the models and is what the tests use.
//
// # Usage
//
//	db, _ := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
//	if err := gormstore.Migrate(ctx, db, logger); err != nil { ... }
//	stores := gormstore.NewStores(db)
package gorm
