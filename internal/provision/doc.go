// SPDX-License-Identifier: MPL-2.0

// Package provision implements the environment provisioning pipeline: it
// turns a lakefile, a dependency manifest, and a project source tree into a
// built, tagged notebook image.
//
// The pipeline applies six strictly ordered steps — select base image, set
// working directory, copy the dependency manifest, install dependencies,
// copy the project tree, extend the interpreter search path — by staging a
// filtered build context, rendering a container recipe, and building it
// through a container engine. Any step failing aborts the whole run: the
// staged context is removed and no image tag is recorded.
//
// Provisioned images are cached by a content hash over every input (base
// image reference, manifest contents, filtered project tree, rendered
// recipe), so re-provisioning with identical inputs reuses the cached image
// without rebuilding.
package provision
