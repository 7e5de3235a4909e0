// Package accounts provides account registration, sign-in and the password
// lifecycle for Go HTTP services.
//
// Accounts are created inactive and become active through an emailed
// activation link, which also creates the account's profile. Signed in
// callers hold either an opaque session token or a JWT access/refresh pair,
// depending on the configured AUTH_SCHEME.
//
// # Architecture
//
// Account: a local identity with a username, an email and a bcrypt password
// hash. Usernames and emails are unique.
//
// Profile: the user facing record created on activation. An account has at
// most one.
//
// SocialAccount: a link from an identity at an external provider (Google,
// GitHub) to a local account. A provider identity whose email already
// belongs to a local account is never attached to it automatically; the
// caller gets ErrEmailCollision and may link it after signing in.
//
// Action tokens: activation and reset links carry an HMAC over the account's
// state, so changing the password, signing in or activating consumes them
// without any server side bookkeeping.
//
// # Basic Usage
//
//	cfg, err := accounts.LoadConfig()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	stores := gorm.NewStores(db) // or fs.New(dir), gae.NewStores(client, "")
//	sender := &accounts.ConsoleEmailSender{Logger: logger}
//
//	auth := accounts.NewLocalAuth(cfg, stores, sender, accounts.WithLogger(logger))
//	social := accounts.NewSocialAuth(stores, nil, google, github)
//	profiles := accounts.NewProfileService(stores, cfg.ProfileOwnerOnly)
//
//	server := accounts.NewServer(auth, social, profiles, accounts.WithServerLogger(logger))
//	http.ListenAndServe(":8000", server.Handler())
//
// # Errors
//
// Operations return *AuthError values. Kind classifies the failure for the
// HTTP layer; Code and Message are stable and safe to show to clients.
// Compare with errors.Is against the exported sentinels.
//
// # Store Implementations
//
//   - stores/gorm: PostgreSQL or SQLite through GORM, migrated with goose
//   - stores/gae: Google Cloud Datastore
//   - stores/fs: JSON files, for development and single process deployments
package accounts
