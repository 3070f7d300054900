package httpbkt

import (
	"bytes"
	"io"
	"net/textproto"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/bobg/bkt"
	"github.com/bobg/bkt/decompress"
)

var _ bkt.Bucket = &Response{}

// Response is an HTTP/1.1 response read from a connection bucket.
// Reading it yields the body,
// with transfer and content codings removed.
type Response struct {
	// Version is the protocol version from the status line, e.g. "HTTP/1.1".
	Version string

	// StatusCode is the numeric status, e.g. 200.
	StatusCode int

	// Status is the reason phrase, e.g. "OK".
	Status string

	Header textproto.MIMEHeader

	conn     bkt.Bucket
	eolState bkt.EolState
	body     bkt.Bucket
	err      error // sticky failure of ReadHeaders
	closed   bool
	noDecode bool
}

// ResponseOption configures NewResponse.
type ResponseOption func(*Response)

// WithoutContentDecoding leaves the Content-Encoding of the body in place.
func WithoutContentDecoding() ResponseOption {
	return func(r *Response) { r.noDecode = true }
}

// NewResponse produces a response reading from conn.
// Nothing is read until ReadHeaders or Read is called.
// The response owns conn.
func NewResponse(conn bkt.Bucket, opts ...ResponseOption) *Response {
	r := &Response{conn: conn}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReadHeaders reads the status line and headers, if that has not happened yet.
// Once it fails it keeps failing with the same error.
func (r *Response) ReadHeaders() error {
	switch {
	case r.closed:
		return errors.Wrap(os.ErrClosed, r.Name())
	case r.err != nil:
		return r.err
	case r.body != nil:
		return nil
	}
	body, err := r.readHeaders()
	if err != nil {
		r.err = err
		return err
	}
	r.body = body
	return nil
}

func (r *Response) readHeaders() (bkt.Bucket, error) {
	line, err := r.readLine()
	if err != nil {
		return nil, errors.Wrap(err, "reading status line")
	}
	if err = r.parseStatus(line); err != nil {
		return nil, err
	}

	r.Header = make(textproto.MIMEHeader)
	var lastKey string
	for {
		line, err = r.readLine()
		if err != nil {
			return nil, errors.Wrap(err, "reading headers")
		}
		if len(line) == 0 {
			break
		}
		if line[0] == ' ' || line[0] == '\t' {
			// Continuation of the previous header's value.
			vals := r.Header[lastKey]
			if len(vals) == 0 {
				return nil, bkt.Formatf("http header", "continuation line before any header")
			}
			vals[len(vals)-1] += " " + strings.TrimSpace(string(line))
			continue
		}
		i := bytes.IndexByte(line, ':')
		if i <= 0 {
			return nil, bkt.Formatf("http header", "no colon in %q", line)
		}
		lastKey = textproto.CanonicalMIMEHeaderKey(string(bytes.TrimSpace(line[:i])))
		r.Header.Add(lastKey, strings.TrimSpace(string(line[i+1:])))
	}

	return r.openBody()
}

// readLine reads one CRLF-terminated line without its CRLF.
func (r *Response) readLine() ([]byte, error) {
	line, eol, err := bkt.ReadUntilEolFull(r.conn, bkt.EolCRLF, &r.eolState)
	if err == io.EOF {
		return nil, io.ErrUnexpectedEOF
	}
	if err != nil {
		return nil, err
	}
	if eol != bkt.EolCRLF {
		return nil, io.ErrUnexpectedEOF
	}
	return bkt.TrimEol(line, eol), nil
}

func (r *Response) parseStatus(line []byte) error {
	parts := strings.SplitN(string(line), " ", 3)
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "HTTP/") {
		return bkt.Formatf("http status", "bad status line %q", line)
	}
	if len(parts[1]) != 3 {
		return bkt.Formatf("http status", "bad status code %q", parts[1])
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil || code < 100 {
		return bkt.Formatf("http status", "bad status code %q", parts[1])
	}
	r.Version = parts[0]
	r.StatusCode = code
	if len(parts) == 3 {
		r.Status = parts[2]
	}
	return nil
}

func (r *Response) openBody() (bkt.Bucket, error) {
	var body bkt.Bucket

	switch {
	case r.StatusCode < 200 || r.StatusCode == 204 || r.StatusCode == 304:
		return bkt.NewMemory(nil), nil

	case isChunked(r.Header.Get("Transfer-Encoding")):
		body = NewDechunk(bkt.NoClose(r.conn))

	case r.Header.Get("Content-Length") != "":
		s := r.Header.Get("Content-Length")
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil || n < 0 {
			return nil, bkt.Formatf("http header", "bad Content-Length %q", s)
		}
		body = bkt.Take(bkt.NoClose(r.conn), n)

	default:
		body = bkt.NoClose(r.conn)
	}

	if r.noDecode {
		return body, nil
	}
	switch strings.ToLower(strings.TrimSpace(r.Header.Get("Content-Encoding"))) {
	case "", "identity":
		return body, nil
	case "gzip", "x-gzip":
		return decompress.New(body, decompress.Gzip), nil
	case "deflate":
		return decompress.New(body, decompress.Zlib), nil
	case "zstd":
		return decompress.New(body, decompress.Zstd), nil
	}
	return nil, bkt.Formatf("http header", "unsupported Content-Encoding %q", r.Header.Get("Content-Encoding"))
}

func isChunked(te string) bool {
	codings := strings.Split(te, ",")
	return strings.EqualFold(strings.TrimSpace(codings[len(codings)-1]), "chunked")
}

// Read implements bkt.Bucket.
// It reads the headers first if necessary.
func (r *Response) Read(max int) ([]byte, error) {
	if err := r.ReadHeaders(); err != nil {
		return nil, err
	}
	return r.body.Read(max)
}

// Peek implements bkt.Bucket.
// Before the headers are read it reports nothing.
func (r *Response) Peek(noPoll bool) ([]byte, error) {
	if r.body == nil {
		if r.closed || r.err != nil {
			return nil, r.ReadHeaders()
		}
		return nil, nil
	}
	return r.body.Peek(noPoll)
}

// Close implements bkt.Bucket.
// It closes the connection.
func (r *Response) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	var err error
	if r.body != nil {
		err = r.body.Close()
		r.body = nil
	}
	if err2 := r.conn.Close(); err == nil {
		err = err2
	}
	return err
}

// Name implements bkt.Namer.
func (r *Response) Name() string {
	return "http response"
}
