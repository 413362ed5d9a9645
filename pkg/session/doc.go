// Package session manages delegated-authorization sessions with
// sliding expiry and bounded conversation history.
//
// Invariants:
// - One live session per identity; creating a new one replaces the old.
// - Permissions are snapshotted at creation and never change afterwards.
// - Reads refresh the activity timestamp; expired sessions read as absent.
//
// Usage:
//
//	store := session.NewMemoryStore(session.Config{}, resolver, issuer)
//	sess, _ := store.GetOrCreate(ctx, "user:42")
//	ok := store.ValidateAction(ctx, sess.ID, permission.TriggerBuild)
//	_ = ok
package session
