// Package session keeps the backend auth token across runs.
//
// The token is sealed with AES-GCM under a key derived by HKDF-SHA256 from a
// per-install secret, then written to auth.json with 0600 permissions. Manager
// ties the stored state to an analysis.Client so login, logout and account
// deletion keep the client and the file in step.
package session
