package gateconfig

import (
	"net"
	"net/url"

	"github.com/pkg/errors"
	"golang.org/x/net/proxy"
)

// Dialer is the piece of net.Dialer the protocol clients consume.
type Dialer interface {
	Dial(network, addr string) (net.Conn, error)
}

// ResolveAddr turns a configured endpoint string into a dialer and
// target. Plain "host:port" dials directly;
// "socks5://proxyhost:port/host:port" goes through the proxy.
func ResolveAddr(addr string) (d Dialer, network, host string, err error) {
	d = &net.Dialer{}
	network = "tcp"

	u, e := url.ParseRequestURI(addr)
	if e != nil {
		host = addr
		return
	}
	network, host = u.Scheme, u.Host

	if network == "socks" || network == "socks5" {
		d, err = proxy.SOCKS5("tcp", host, nil, nil)
		if err != nil {
			err = errors.Wrap(err, "socks5 setup")
			return
		}
		nh := u.Path
		if len(nh) > 0 && nh[0] == '/' {
			nh = nh[1:]
		}
		network, host = "tcp", nh
	}
	if host == "" {
		err = errors.Errorf("no host in addr %q", addr)
	}
	return
}
