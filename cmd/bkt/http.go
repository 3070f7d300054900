package main

import (
	"context"
	"fmt"
	"net/textproto"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/bobg/bkt"
	"github.com/bobg/bkt/httpbkt"
)

// parseHeaders parses "Name: value" arguments into a request header.
func parseHeaders(args []string) (textproto.MIMEHeader, error) {
	h := make(textproto.MIMEHeader)
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, ":")
		if !ok {
			return nil, errors.Errorf("header %q lacks a colon", arg)
		}
		h.Add(strings.TrimSpace(k), strings.TrimSpace(v))
	}
	return h, nil
}

func (c maincmd) httpGet(ctx context.Context, dechunkOnly, showHeaders bool, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: http-get [-dechunk-only] [-i] URL [Name:value...]")
	}
	header, err := parseHeaders(args[1:])
	if err != nil {
		return err
	}

	var opts []httpbkt.ResponseOption
	if dechunkOnly {
		opts = append(opts, httpbkt.WithoutContentDecoding())
	}

	client := &httpbkt.Client{UserAgent: "bkt/1"}
	resp, err := client.Get(ctx, args[0], header, opts...)
	if err != nil {
		return err
	}
	defer resp.Close()

	if showHeaders {
		fmt.Fprintf(os.Stderr, "%s %d %s\n", resp.Version, resp.StatusCode, resp.Status)
		for k, vals := range resp.Header {
			for _, v := range vals {
				fmt.Fprintf(os.Stderr, "%s: %s\n", k, v)
			}
		}
	}

	_, err = bkt.Copy(os.Stdout, resp)
	return errors.Wrap(err, "copying response body")
}
