// Package control listens on the bus for operator commands.
//
// Two topics are subscribed: the broadcast topic (default "bots") and the
// administrative topic (default "xandium-manager"). Both accept
//
//	<verb> <internalWorkerId> [arg]
//
// where verb is stop, start, regenerate, kill, reload, restart or
// "update <codeId>". Commands for unknown bots are dropped. The
// administrative topic additionally accepts
//
//	manager stop
//
// which ends the process through the configured shutdown function. The same
// message on the broadcast topic is ignored.
package control
