package wallclock

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/pprof/profile"
	"github.com/stretchr/testify/require"
)

func TestHandler(t *testing.T) {
	srv := httptest.NewServer(Handler())
	defer srv.Close()

	t.Run("folded", func(t *testing.T) {
		res, err := http.Get(srv.URL + "/?seconds=1&format=folded")
		require.NoError(t, err)
		defer res.Body.Close()
		require.Equal(t, http.StatusOK, res.StatusCode)
		require.True(t, strings.HasPrefix(res.Header.Get("Content-Type"), "text/plain"))
	})

	t.Run("pprof", func(t *testing.T) {
		res, err := http.Get(srv.URL + "/?seconds=1&format=pprof")
		require.NoError(t, err)
		defer res.Body.Close()
		require.Equal(t, http.StatusOK, res.StatusCode)
		_, err = profile.Parse(res.Body)
		require.NoError(t, err)
	})

	for _, q := range []string{"", "?seconds=abc", "?seconds=0", "?seconds=1&format=svg"} {
		t.Run("bad request "+q, func(t *testing.T) {
			res, err := http.Get(srv.URL + "/" + q)
			require.NoError(t, err)
			defer res.Body.Close()
			require.Equal(t, http.StatusBadRequest, res.StatusCode)
		})
	}
}

func Test_guessFormat(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	require.Equal(t, FormatFolded, guessFormat(r))

	r.Header.Set("Accept-Encoding", "deflate, GZIP")
	require.Equal(t, FormatPprof, guessFormat(r))
}
