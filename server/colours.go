package server

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
)

const (
	red     = "\033[31m"
	green   = "\033[32m"
	yellow  = "\033[33m"
	blue    = "\033[34m"
	magenta = "\033[35m"
	cyan    = "\033[36m"
	gray    = "\033[90m"

	resetColor = "\033[0m"
)

var methodColors = map[string]string{
	http.MethodGet:     green,
	http.MethodPost:    blue,
	http.MethodOptions: magenta,
}

func colourMethod(method string) string {
	color, ok := methodColors[method]
	if !ok {
		color = gray
	}
	return color + fmt.Sprintf(" %-7s", method) + resetColor
}

// colourStatus renders a response status the way the DEV request log shows it.
func colourStatus(status int) string {
	var color string
	switch {
	case status >= http.StatusInternalServerError:
		color = red
	case status >= http.StatusBadRequest:
		color = yellow
	case status >= http.StatusMultipleChoices:
		color = cyan
	default:
		color = green
	}
	return color + fmt.Sprintf("%d", status) + resetColor
}

// statusRecorder remembers the status written by a handler. It stays hijackable
// so the websocket stream can upgrade through the logging middleware.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("[statusRecorder Hijack] %T is not a http.Hijacker", r.ResponseWriter)
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
