package wallclock

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Handler returns an http handler that requires a "seconds" query argument
// and produces a profile over this duration. The optional "format" argument
// selects FormatFolded or FormatPprof. Without it the handler guesses from
// the request headers: go tool pprof asks for gzip, browsers and curl
// usually get the folded text.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		seconds, err := strconv.Atoi(q.Get("seconds"))
		if err != nil || seconds <= 0 {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintf(w, "bad seconds: %q\n", q.Get("seconds"))
			return
		}

		var format Format
		if s := q.Get("format"); s != "" {
			if format, err = ParseFormat(s); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				fmt.Fprintf(w, "bad format: %s\n", err)
				return
			}
		} else {
			format = guessFormat(r)
		}

		if format == FormatPprof {
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Header().Set("Content-Disposition", `attachment; filename="wallclock.pprof"`)
		} else {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		}

		stop := Start(w, format)
		select {
		case <-time.After(time.Duration(seconds) * time.Second):
		case <-r.Context().Done():
		}
		// The status line is out already, a failed write has nobody to go to.
		_ = stop()
	})
}

// guessFormat returns FormatPprof if it looks like pprof sent r, otherwise
// FormatFolded.
func guessFormat(r *http.Request) Format {
	for _, v := range r.Header.Values("Accept-Encoding") {
		for _, enc := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
				return FormatPprof
			}
		}
	}
	return FormatFolded
}
