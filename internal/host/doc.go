// Package host defines the boundary between the bridge and the application
// it is attached to, plus a console implementation for running standalone.
//
// The host owns a single designated goroutine. Anything that touches host
// state, such as [Host.Broadcast], is queued onto it with [Host.Execute].
// Chat listeners are invoked on that goroutine as well.
//
// The [Console] host reads lines from an io.Reader:
//
//	hello everyone         -> chat event from the console identity
//	/bridge feature list   -> bridge command
//
// and prints broadcasts to its writer.
package host
