package socks5

// Package socks5 provides the SOCKS5 handshakes socksbridge needs to reach an
// upstream gateway.
//
// It wraps the low-level protocol types in github.com/txthinking/socks5. The
// client side (method negotiation, RFC 1929 username/password
// sub-negotiation, CONNECT) is used by the dialer; the server side exists so
// tests can stand up a local gateway speaking the same wire format.
