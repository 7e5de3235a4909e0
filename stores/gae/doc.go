//go:build !wasm
// +build !wasm

// Package gae provides Google Cloud Datastore implementations of the account
// stores. It supports multi-tenancy through Datastore namespaces.
//
// # Datastore Kinds
//
//   - Account: accounts keyed by account id
//   - Username, Email: uniqueness markers pointing at an account
//   - Profile: profiles keyed by a numeric id
//   - AccountProfile: marker binding an account to its single profile
//   - SessionToken: session tokens keyed by account id
//   - SocialAccount: provider links keyed by "<provider>:<uid>"
//
// Every multi-entity write runs in a transaction, so activation,
// provisioning and the uniqueness checks are all-or-nothing.
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	stores := gae.NewStores(client, "")  // default namespace
package gae
