//go:build !wasm
// +build !wasm

// Package gorm provides a GORM-based authcore.Adapter.
// It supports any database that GORM supports (PostgreSQL, MySQL, SQLite, etc.)
// and is suitable for production deployments requiring relational database storage.
//
// # Database Schema
//
// Migrate creates one table per model of the merged authcore schema,
// honouring renamed tables and columns and application fields:
//   - user: user accounts
//   - session: database backed sessions
//   - account: credential and social provider accounts
//   - verification: single use verification values
//   - rateLimit: rate limit windows when stored in the database
//
// # Usage
//
//	db, _ := gorm.Open(postgres.Open(dsn), &gorm.Config{})
//	auth, _ := authcore.New(opts)
//	_ = gormstore.Migrate(db, auth.Schema())
//	opts.Database = gormstore.NewAdapter(db)
package gorm
