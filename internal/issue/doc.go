// SPDX-License-Identifier: MPL-2.0

// Package issue provides structured, user-facing error types for lakeprov.
// Errors carry the failed operation, the resource involved, and actionable
// suggestions so the CLI can render helpful messages in both terse and
// verbose modes.
package issue
