// Package feature manages the bridge's two toggleable channels.
//
// [Sender] forwards host chat to the remote endpoint through an
// outbound worker pool. [Receiver] runs the inbound HTTP listener. The
// [Manager] starts and stops them, converges them to the config file on
// reload, and rebuilds them from scratch on hot reload.
package feature
