// Package session ties one user's index lifecycle together: the guardian
// registration, the encrypted archive, the coordinator, and the real-time
// collector. A Manager opens at most one Session per process because the
// real-time and batch folders are shared by name across users.
package session
