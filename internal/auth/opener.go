package auth

import (
	"os"
	"sync"

	"github.com/pkg/browser"
)

//go:generate mockgen -destination=mock_opener.go -package=auth . Opener

// Opener presents an authorization URL to the human, usually by
// launching a browser.
type Opener interface {
	Open(url string) error
}

// OpenerFunc adapts a plain function to Opener.
type OpenerFunc func(url string) error

// Open calls f(url).
func (f OpenerFunc) Open(url string) error { return f(url) }

// NoopOpener never opens anything. The URL still reaches the caller
// through the pending authorization result.
var NoopOpener = OpenerFunc(func(string) error { return nil })

var redirectBrowserOutput sync.Once

// BrowserOpener opens URLs in the system default browser.
type BrowserOpener struct{}

// Open launches the default browser. The helper's own output is sent to
// stderr so it cannot corrupt an MCP stdio stream.
func (BrowserOpener) Open(url string) error {
	redirectBrowserOutput.Do(func() {
		browser.Stdout = os.Stderr
		browser.Stderr = os.Stderr
	})

	return browser.OpenURL(url)
}
