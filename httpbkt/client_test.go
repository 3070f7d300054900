package httpbkt

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/bobg/bkt"
)

func TestClientGet(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/chunked", func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte("hello "))
		w.(http.Flusher).Flush()
		w.Write([]byte("world"))
	})
	mux.HandleFunc("/gzip", func(w http.ResponseWriter, req *http.Request) {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		gz.Write([]byte("compressed body"))
		gz.Close()
		w.Header().Set("Content-Encoding", "gzip")
		w.Write(buf.Bytes())
	})
	mux.HandleFunc("/echo", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("X-Agent", req.Header.Get("User-Agent"))
		w.Header().Set("X-Echo", req.Header.Get("X-Test"))
		w.WriteHeader(http.StatusTeapot)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := &Client{UserAgent: "bkt-test"}

	cases := []struct {
		path string
		want string
	}{
		{path: "/chunked", want: "hello world"},
		{path: "/gzip", want: "compressed body"},
	}
	for _, c := range cases {
		t.Run(c.path, func(t *testing.T) {
			resp, err := client.Get(ctx, srv.URL+c.path, nil)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Close()

			if resp.StatusCode != http.StatusOK {
				t.Fatalf("got status %d", resp.StatusCode)
			}
			got, err := bkt.ReadAll(resp)
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != c.want {
				t.Errorf("got %q, want %q", got, c.want)
			}
		})
	}

	t.Run("/echo", func(t *testing.T) {
		resp, err := client.Get(ctx, srv.URL+"/echo", textproto.MIMEHeader{"x-test": {"ping"}})
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Close()

		if resp.StatusCode != http.StatusTeapot {
			t.Errorf("got status %d, want %d", resp.StatusCode, http.StatusTeapot)
		}
		if got := resp.Header.Get("X-Agent"); got != "bkt-test" {
			t.Errorf("server saw User-Agent %q", got)
		}
		if got := resp.Header.Get("X-Echo"); got != "ping" {
			t.Errorf("server saw X-Test %q", got)
		}
	})
}

func TestClientBadScheme(t *testing.T) {
	var client Client
	if _, err := client.Get(context.Background(), "ftp://example.com/x", nil); err == nil {
		t.Error("ftp URL accepted")
	}
}
