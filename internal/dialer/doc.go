package dialer

// Package dialer provides the outbound dialers used by socksbridge.
//
// A listener reaches its targets either directly or through a SOCKS5
// gateway. Both implement the small Dialer interface (DialContext) so the
// tunnel and forward relays do not care which one they hold.
