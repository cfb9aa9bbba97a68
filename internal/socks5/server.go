package socks5

import (
	"fmt"
	"io"
	"slices"

	txsocks5 "github.com/txthinking/socks5"
)

// ServerNegotiate runs the gateway side of method selection. A non-empty
// auth.Username requires username/password sub-negotiation; otherwise only
// the no-auth method is accepted.
func ServerNegotiate(conn io.ReadWriter, auth Auth) error {
	neg, err := txsocks5.NewNegotiationRequestFrom(conn)
	if err != nil {
		return fmt.Errorf("negotiation request: %w", err)
	}

	method := txsocks5.MethodNone
	if auth.Username != "" {
		method = txsocks5.MethodUsernamePassword
	}
	if !slices.Contains(neg.Methods, method) {
		writeNoAcceptableMethods(conn)
		return fmt.Errorf("client did not offer method %#x", method)
	}
	if _, err := txsocks5.NewNegotiationReply(method).WriteTo(conn); err != nil {
		return fmt.Errorf("negotiation reply: %w", err)
	}

	if method == txsocks5.MethodNone {
		return nil
	}
	return serverCheckUserPass(conn, auth)
}

func serverCheckUserPass(conn io.ReadWriter, auth Auth) error {
	urq, err := txsocks5.NewUserPassNegotiationRequestFrom(conn)
	if err != nil {
		return fmt.Errorf("read userpass: %w", err)
	}

	status := txsocks5.UserPassStatusSuccess
	if string(urq.Uname) != auth.Username || string(urq.Passwd) != auth.Password {
		status = txsocks5.UserPassStatusFailure
	}
	if _, err := txsocks5.NewUserPassNegotiationReply(status).WriteTo(conn); err != nil {
		return fmt.Errorf("write userpass: %w", err)
	}
	if status != txsocks5.UserPassStatusSuccess {
		return ErrAuthFailed
	}
	return nil
}

// ServerReadRequest reads the client's command request.
func ServerReadRequest(conn io.Reader) (*txsocks5.Request, error) {
	req, err := txsocks5.NewRequestFrom(conn)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	return req, nil
}
