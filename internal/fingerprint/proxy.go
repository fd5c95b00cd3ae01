package fingerprint

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ErrMalformedIdentity is returned by ParseProxyIdentity
var ErrMalformedIdentity = errors.New("malformed proxy identity")

// ProxyIdentity is the exit-network identity of one session
type ProxyIdentity struct {
	Scheme          string
	Host            string
	Port            int
	CustomerID      string
	Country         string
	SessionID       int
	ValidityMinutes int
	Secret          string
}

// Username is the credential name the proxy gateway expects
func (p ProxyIdentity) Username() string {
	return fmt.Sprintf("customer-%s-cc-%s-sessid-%d-sesstime-%d",
		p.CustomerID, p.Country, p.SessionID, p.ValidityMinutes)
}

// Endpoint returns "host:port"
func (p ProxyIdentity) Endpoint() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// URL returns the proxy server address without credentials, as browsers
// expect it on the command line.
func (p ProxyIdentity) URL() string {
	return p.Scheme + "://" + p.Endpoint()
}

// String composes the full identity string:
// scheme://customer-<id>-cc-<country>-sessid-<n>-sesstime-<m>:<secret>@<host>:<port>
func (p ProxyIdentity) String() string {
	return p.Scheme + "://" + p.Username() + ":" + p.Secret + "@" + p.Endpoint()
}

// Redacted is String with the secret masked, for logs
func (p ProxyIdentity) Redacted() string {
	return p.Scheme + "://" + p.Username() + ":***@" + p.Endpoint()
}

// ParseProxyIdentity is the inverse of ProxyIdentity.String.
func ParseProxyIdentity(s string) (ProxyIdentity, error) {
	var p ProxyIdentity

	scheme, rest, ok := strings.Cut(s, "://")
	if !ok || scheme == "" {
		return p, fmt.Errorf("%w: missing scheme", ErrMalformedIdentity)
	}
	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return p, fmt.Errorf("%w: missing credentials", ErrMalformedIdentity)
	}
	userinfo, hostport := rest[:at], rest[at+1:]

	username, secret, ok := strings.Cut(userinfo, ":")
	if !ok {
		return p, fmt.Errorf("%w: missing secret", ErrMalformedIdentity)
	}

	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return p, fmt.Errorf("%w: %v", ErrMalformedIdentity, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return p, fmt.Errorf("%w: port %q", ErrMalformedIdentity, portStr)
	}

	body, ok := strings.CutPrefix(username, "customer-")
	if !ok {
		return p, fmt.Errorf("%w: username %q", ErrMalformedIdentity, username)
	}
	body, validity, ok := cutLast(body, "-sesstime-")
	if !ok {
		return p, fmt.Errorf("%w: missing sesstime", ErrMalformedIdentity)
	}
	body, sessID, ok := cutLast(body, "-sessid-")
	if !ok {
		return p, fmt.Errorf("%w: missing sessid", ErrMalformedIdentity)
	}
	customer, country, ok := cutLast(body, "-cc-")
	if !ok {
		return p, fmt.Errorf("%w: missing country", ErrMalformedIdentity)
	}

	id, err := strconv.Atoi(sessID)
	if err != nil {
		return p, fmt.Errorf("%w: session id %q", ErrMalformedIdentity, sessID)
	}
	minutes, err := strconv.Atoi(validity)
	if err != nil {
		return p, fmt.Errorf("%w: sesstime %q", ErrMalformedIdentity, validity)
	}

	return ProxyIdentity{
		Scheme:          scheme,
		Host:            host,
		Port:            port,
		CustomerID:      customer,
		Country:         country,
		SessionID:       id,
		ValidityMinutes: minutes,
		Secret:          secret,
	}, nil
}

func cutLast(s, sep string) (before, after string, found bool) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+len(sep):], true
}
