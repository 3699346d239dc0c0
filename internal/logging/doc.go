// Package logging configures structured JSON logging for chatindex and
// reads those logs back for the `logs` command.
//
// Logs go to a size-rotated file under the user's state directory and,
// optionally, to stderr as well.
package logging
