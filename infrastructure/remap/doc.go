// Package remap implements a small event-remapping language on top of
// expr-lang/expr.
//
// A program is a sequence of statements separated by newlines or semicolons:
//
//	.message = upper(.message)
//	%source = "ingest"
//	n = len(.tags)
//	.count = n * 2
//
// Paths starting with "." address the event and paths starting with "%"
// address its metadata. Any other assignment target is a local variable.
// Everything to the right of "=" is an expr expression, extended with
// get_secret, assert, to_string, parse_json, encode_json and current_time.
// Text after "#" outside brackets and strings is a comment.
package remap
