package httpbkt

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"net/textproto"
	"net/url"
	"sort"

	"github.com/pkg/errors"

	"github.com/bobg/bkt"
)

// Client issues HTTP/1.1 GET requests
// and returns the responses as buckets.
// The zero Client is ready to use.
type Client struct {
	Dialer    net.Dialer
	TLSConfig *tls.Config

	// UserAgent is sent in the User-Agent header if not empty.
	UserAgent string

	// BufferSize is the read size for the connection bucket.
	// Zero means 16384.
	BufferSize int
}

// Get requests url and returns the response with its headers read.
// The options apply to the response.
// The caller must close the response.
// The connection is not reused.
func (c *Client) Get(ctx context.Context, rawurl string, header textproto.MIMEHeader, opts ...ResponseOption) (*Response, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", rawurl)
	}

	var (
		host = u.Host
		conn net.Conn
	)
	switch u.Scheme {
	case "http":
		if u.Port() == "" {
			host = net.JoinHostPort(u.Hostname(), "80")
		}
		conn, err = c.Dialer.DialContext(ctx, "tcp", host)

	case "https":
		if u.Port() == "" {
			host = net.JoinHostPort(u.Hostname(), "443")
		}
		conf := c.TLSConfig
		if conf == nil {
			conf = &tls.Config{}
		} else {
			conf = conf.Clone()
		}
		if conf.ServerName == "" {
			conf.ServerName = u.Hostname()
		}
		d := tls.Dialer{NetDialer: &c.Dialer, Config: conf}
		conn, err = d.DialContext(ctx, "tcp", host)

	default:
		return nil, errors.Wrapf(bkt.ErrInvalidArgument, "unsupported URL scheme %q", u.Scheme)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to %s", host)
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err = conn.SetDeadline(deadline); err != nil {
			conn.Close()
			return nil, errors.Wrap(err, "setting deadline")
		}
	}

	if err = c.writeRequest(conn, u, header); err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "sending request to %s", host)
	}

	resp := NewResponse(bkt.NewStream(conn, c.BufferSize), opts...)
	if err = resp.ReadHeaders(); err != nil {
		resp.Close()
		return nil, errors.Wrapf(err, "reading response from %s", host)
	}
	return resp, nil
}

func (c *Client) writeRequest(conn net.Conn, u *url.URL, header textproto.MIMEHeader) error {
	w := bufio.NewWriter(conn)
	tw := textproto.NewWriter(w)

	if err := tw.PrintfLine("GET %s HTTP/1.1", u.RequestURI()); err != nil {
		return err
	}
	if err := tw.PrintfLine("Host: %s", u.Host); err != nil {
		return err
	}

	h := textproto.MIMEHeader{
		"Connection":      {"close"},
		"Accept-Encoding": {"gzip, deflate, zstd"},
	}
	if c.UserAgent != "" {
		h.Set("User-Agent", c.UserAgent)
	}
	for k, vals := range header {
		h[textproto.CanonicalMIMEHeaderKey(k)] = vals
	}

	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range h[k] {
			if err := tw.PrintfLine("%s: %s", k, v); err != nil {
				return err
			}
		}
	}
	if err := tw.PrintfLine(""); err != nil {
		return err
	}
	return w.Flush()
}
