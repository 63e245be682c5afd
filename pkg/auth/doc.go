// Package auth evaluates whether a user may exercise a named permission
// against a server or app. Evaluation is fail-closed and never returns
// an error; admins bypass the registry entirely.
package auth
