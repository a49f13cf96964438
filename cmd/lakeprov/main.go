// SPDX-License-Identifier: MPL-2.0

// lakeprov provisions datalake notebook images: it layers a Python project
// and its pip dependencies onto a Jupyter/PySpark base image, extends the
// module search path, and caches the result by content hash.
package main

func main() {
	Execute()
}
