package proxy

import (
	"context"
	"errors"
	"io"
	"iter"
	"net/http"
	"sync"
)

const defaultChunkSize = 32 * 1024

// Response is a live upstream response. Body is read straight from the
// backend connection; Close must be called once the caller is done with it.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser

	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

func newResponse(upstream *http.Response, cancel context.CancelFunc) *Response {
	return &Response{
		StatusCode: upstream.StatusCode,
		Header:     responseHeader(upstream.Header),
		Body:       upstream.Body,
		cancel:     cancel,
	}
}

// Close releases the upstream body and the request context. Safe to call twice.
func (r *Response) Close() error {
	r.closeOnce.Do(func() {
		if r.Body != nil {
			r.closeErr = r.Body.Close()
		}
		if r.cancel != nil {
			r.cancel()
		}
	})
	return r.closeErr
}

// Chunks returns a lazy sequence over the body in pieces of at most size bytes.
// The sequence ends at EOF or after yielding a read error.
func (r *Response) Chunks(size int) iter.Seq2[[]byte, error] {
	if size <= 0 {
		size = defaultChunkSize
	}
	return func(yield func([]byte, error) bool) {
		if r.Body == nil {
			return
		}
		buf := make([]byte, size)
		for {
			n, err := r.Body.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				if !yield(chunk, nil) {
					return
				}
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
		}
	}
}

// WriteTo streams the body into w, flushing after every chunk when w supports it.
func (r *Response) WriteTo(w io.Writer) (int64, error) {
	flusher, _ := w.(http.Flusher)

	var written int64
	for chunk, err := range r.Chunks(defaultChunkSize) {
		if err != nil {
			return written, err
		}
		n, err := w.Write(chunk)
		written += int64(n)
		if err != nil {
			return written, err
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	return written, nil
}
