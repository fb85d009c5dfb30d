package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chromeAvailable() bool {
	for _, name := range []string{
		"chromium-browser", "chromium", "google-chrome",
		"google-chrome-stable", "chrome",
	} {
		if _, err := exec.LookPath(name); err == nil {
			return true
		}
	}
	return false
}

func skipIfNoChrome(t *testing.T) {
	t.Helper()
	if !chromeAvailable() {
		t.Skip("skipping: Chrome/Chromium not found in PATH")
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab", Truncate("abc", 2))
	assert.Equal(t, "日本", Truncate("日本語", 2))
	assert.Equal(t, "", Truncate("x", 0))
}

func TestOptions(t *testing.T) {
	b := New(zerolog.Nop(), WithChromePath("/opt/chrome"), WithTimeout(5*time.Second), WithSettle(0), WithNoSandbox())
	assert.Equal(t, "/opt/chrome", b.cfg.chromePath)
	assert.Equal(t, 5*time.Second, b.cfg.timeout)
	assert.Zero(t, b.cfg.settle)
	assert.True(t, b.cfg.noSandbox)

	path, err := b.resolveExecutable()
	require.NoError(t, err)
	assert.Equal(t, "/opt/chrome", path)

	d := New(zerolog.Nop())
	assert.Equal(t, 60*time.Second, d.cfg.timeout)
	assert.Equal(t, 2*time.Second, d.cfg.settle)
}

func TestFetchPagesRejectsInvalidURL(t *testing.T) {
	_, err := New(zerolog.Nop()).FetchPages(context.Background(), []string{"not a url"})
	assert.ErrorContains(t, err, "not a url")
}

func TestFetchPagesRendersScripts(t *testing.T) {
	skipIfNoChrome(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `<html><head><style>h1{color:#123456}</style></head><body>
<h1 data-ua=%q>Static</h1>
<script>document.body.insertAdjacentHTML("beforeend", "<p id='late'>rendered</p>")</script>
</body></html>`, r.UserAgent())
	}))
	defer srv.Close()

	b := New(zerolog.Nop(), WithNoSandbox(), WithSettle(100*time.Millisecond), WithTimeout(30*time.Second))
	pages, err := b.FetchPages(context.Background(), []string{srv.URL})
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, srv.URL, pages[0].URL)
	assert.True(t, strings.HasPrefix(pages[0].HTML, "<html"))
	assert.Contains(t, pages[0].HTML, `id="late"`)
	assert.Contains(t, pages[0].HTML, "Chrome/120.0.0.0")
}
