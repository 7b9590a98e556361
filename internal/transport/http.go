package transport

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/valyala/fasthttp"
)

var (
	ErrIncomplete = errors.New("incomplete request")
	ErrMalformed  = errors.New("malformed request")
	ErrTooLarge   = errors.New("request body too large")
)

const (
	maxHeaderBytes = 8 << 10
	maxBodyBytes   = 1 << 20
)

// HTTP Responses
var (
	HTTP200OK          = []byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n")
	HTTP202Accepted    = []byte("HTTP/1.1 202 Accepted\r\nContent-Length: 0\r\n\r\n")
	HTTP204NoContent   = []byte("HTTP/1.1 204 No Content\r\nContent-Length: 0\r\n\r\n")
	HTTP400BadRequest  = []byte("HTTP/1.1 400 Bad Request\r\nContent-Length: 0\r\n\r\n")
	HTTP404NotFound    = []byte("HTTP/1.1 404 Not Found\r\nContent-Length: 0\r\n\r\n")
	HTTP405NotAllowed  = []byte("HTTP/1.1 405 Method Not Allowed\r\nContent-Length: 0\r\n\r\n")
	HTTP413TooLarge    = []byte("HTTP/1.1 413 Request Entity Too Large\r\nContent-Length: 0\r\nConnection: close\r\n\r\n")
	HTTP500Error       = []byte("HTTP/1.1 500 Internal Server Error\r\nContent-Length: 0\r\n\r\n")
	HTTP503Unavailable = []byte("HTTP/1.1 503 Service Unavailable\r\nContent-Length: 0\r\n\r\n")
)

var (
	crlf          = []byte("\r\n")
	headerEnd     = []byte("\r\n\r\n")
	contentLength = []byte("content-length")
)

type Request struct {
	Method string
	Path   string
	Query  string
	Body   []byte
}

// QueryValue returns the first value of key in the query string.
func (r Request) QueryValue(key string) string {
	args := fasthttp.AcquireArgs()
	defer fasthttp.ReleaseArgs(args)

	args.Parse(r.Query)
	return string(args.Peek(key))
}

// ParseRequest reads one request from the start of buf and reports how many
// bytes it used. Body aliases buf.
func ParseRequest(buf []byte) (Request, int, error) {
	var req Request

	end := bytes.Index(buf, headerEnd)
	if end == -1 {
		if len(buf) > maxHeaderBytes {
			return req, 0, ErrMalformed
		}
		return req, 0, ErrIncomplete
	}

	lineEnd := bytes.Index(buf, crlf)
	parts := bytes.Split(buf[:lineEnd], []byte(" "))
	if len(parts) != 3 {
		return req, 0, ErrMalformed
	}
	req.Method = string(parts[0])
	path, query, _ := bytes.Cut(parts[1], []byte("?"))
	req.Path = string(path)
	req.Query = string(query)

	length := 0
	headers := buf[lineEnd+2 : end]
	for len(headers) > 0 {
		var line []byte
		line, headers, _ = bytes.Cut(headers, crlf)
		name, value, ok := bytes.Cut(line, []byte(":"))
		if !ok || !bytes.EqualFold(bytes.TrimSpace(name), contentLength) {
			continue
		}
		n, err := strconv.Atoi(string(bytes.TrimSpace(value)))
		if err != nil || n < 0 {
			return req, 0, ErrMalformed
		}
		if n > maxBodyBytes {
			return req, 0, ErrTooLarge
		}
		length = n
	}

	total := end + len(headerEnd) + length
	if len(buf) < total {
		return req, 0, ErrIncomplete
	}
	req.Body = buf[end+len(headerEnd) : total]
	return req, total, nil
}

func JSON(status int, body []byte) []byte {
	return []byte(fmt.Sprintf(
		"HTTP/1.1 %d %s\r\nContent-Type: application/json\r\nContent-Length: %d\r\n\r\n%s",
		status, fasthttp.StatusMessage(status), len(body), body,
	))
}
