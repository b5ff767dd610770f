//go:build !wasm
// +build !wasm

// Package gae provides a Google Cloud Datastore implementation of
// authcore.Adapter. It is designed for deployment on Google Cloud Platform
// and supports multi-tenancy through Datastore namespaces.
//
// # Datastore Kinds
//
// Each authcore table becomes a kind of the same name (user, session,
// account, verification, rateLimit) and each record an entity keyed by its
// id. Equality filters are pushed down to Datastore; the remaining
// operators, sorting and paging are applied in process so that no
// composite indexes are needed.
//
// # Namespacing
//
// Pass a namespace when creating the adapter to isolate data between tenants:
//
//	db := gae.NewAdapter(client, "tenant-123")
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	opts.Database = gae.NewAdapter(client, "") // default namespace
package gae
