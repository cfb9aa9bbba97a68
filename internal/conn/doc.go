// Package conn holds TCP connection plumbing shared by listeners and dialers:
// keepalive-applying listeners and inactivity timeouts.
package conn
