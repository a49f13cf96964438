// SPDX-License-Identifier: MPL-2.0

// Package cueutil provides shared helpers for parsing and validating CUE
// files against embedded schemas. Both the global config and the lakefile
// loader use the same compile/unify/validate/decode flow, so it lives here.
package cueutil
