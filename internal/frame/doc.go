// Package frame parses and formats the text frames exchanged with bots.
//
// # Wire Format
//
// A frame is a single line of text. The first whitespace-delimited token is
// the verb; everything after it is the payload:
//
//	login 1234 5678 s3cret
//	update index.js Y29uc29sZS5sb2coImhpIik=
//	log listening on :3000
//
// How the payload is tokenized depends on the verb. Commands such as login
// split it on whitespace (see Frame.Fields), while update and log treat it as
// an opaque string (see Frame.Payload) so file contents and log text survive
// intact.
//
// The same format is used for messages on the control bus:
//
//	manager stop
//	reload 42
//	update 42 7
package frame
