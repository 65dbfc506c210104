package proxy

import (
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
)

// hopHeaders are meaningful for a single transport leg only.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

// removeHopHeaders deletes the fixed hop-by-hop set and anything named in Connection.
func removeHopHeaders(h http.Header) {
	for _, value := range h.Values("Connection") {
		for _, field := range strings.Split(value, ",") {
			if field = textproto.TrimString(field); field != "" {
				h.Del(field)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

// outboundHeader builds the upstream request headers from the inbound request.
// Every inbound header is passed on, hop-by-hop ones included, except Host,
// which is recomputed from the target URL, and Accept-Encoding, which is left
// to the transport so it can decode the body itself; see responseHeader.
func outboundHeader(in *http.Request) http.Header {
	h := in.Header.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Del("Host")
	h.Del("Accept-Encoding")

	if clientIP, _, err := net.SplitHostPort(in.RemoteAddr); err == nil {
		if prior := h.Get("X-Forwarded-For"); prior != "" {
			clientIP = prior + ", " + clientIP
		}
		h.Set("X-Forwarded-For", clientIP)
	}
	if in.Host != "" && h.Get("X-Forwarded-Host") == "" {
		h.Set("X-Forwarded-Host", in.Host)
	}
	if h.Get("X-Forwarded-Proto") == "" {
		if in.TLS != nil {
			h.Set("X-Forwarded-Proto", "https")
		} else {
			h.Set("X-Forwarded-Proto", "http")
		}
	}
	return h
}

// responseHeader copies upstream headers minus Content-Encoding and hop-by-hop.
func responseHeader(upstream http.Header) http.Header {
	h := upstream.Clone()
	if h == nil {
		return http.Header{}
	}
	removeHopHeaders(h)
	h.Del("Content-Encoding")
	return h
}

// TargetURL joins base and subPath with exactly one slash and appends rawQuery.
func TargetURL(base, subPath, rawQuery string) (string, error) {
	joined := strings.TrimRight(base, "/") + "/" + strings.TrimLeft(subPath, "/")

	target, err := url.Parse(joined)
	if err != nil {
		return "", err
	}
	if target.Scheme == "" || target.Host == "" {
		return "", ErrInvalidTarget
	}

	if rawQuery != "" {
		if target.RawQuery != "" {
			target.RawQuery += "&" + rawQuery
		} else {
			target.RawQuery = rawQuery
		}
	}
	return target.String(), nil
}
