package auth

import (
	"html/template"
	"net/http"
)

// Failure messages shown in the browser.
const (
	msgStateMismatch = "This sign-in link does not belong to the current sign-in attempt. Return to the window where you started and use the newest link."
	msgExpired       = "This sign-in link has expired. Run the command again to get a new link."
	msgInvalidToken  = "Invalid token received"
	msgStoreFailed   = "Failed to store token. Please try again."
)

// resultPage renders both outcomes of the loopback callback.
var resultPage = template.Must(template.New("result").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{if .OK}}Authentication Successful{{else}}Authentication Failed{{end}}</title>
<style>
  *, *::before, *::after { box-sizing: border-box; margin: 0; padding: 0; }
  body {
    font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Helvetica, Arial, sans-serif;
    background: linear-gradient(135deg, #1a1a2e 0%, #16213e 100%);
    color: #fff;
    display: flex;
    align-items: center;
    justify-content: center;
    min-height: 100vh;
  }
  .card {
    text-align: center;
    padding: 2.5rem;
    max-width: 420px;
    background: rgba(255,255,255,0.1);
    border-radius: 12px;
  }
  .icon { font-size: 4rem; margin-bottom: 1.25rem; }
  h1 { font-size: 1.5rem; margin-bottom: 0.6rem; }
  h1.failed { color: #ff6b6b; }
  p { opacity: 0.8; }
  p.hint { margin-top: 1.25rem; opacity: 0.6; }
  .account {
    font-family: monospace;
    background: rgba(255,255,255,0.1);
    padding: 0.25rem 0.5rem;
    border-radius: 4px;
  }
</style>
</head>
<body>
<div class="card">
{{if .OK}}
  <div class="icon">&#10003;</div>
  <h1>Authentication Successful</h1>
  <p>Signed in as <span class="account">{{.Account}}</span></p>
  <p class="hint">You can close this window.</p>
{{else}}
  <div class="icon">&#10007;</div>
  <h1 class="failed">Authentication Failed</h1>
  <p>{{.Message}}</p>
  <p class="hint">Please try again from your MCP client.</p>
{{end}}
</div>
</body>
</html>`))

type pageData struct {
	OK      bool
	Account string
	Message string
}

func writePage(w http.ResponseWriter, status int, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "frame-ancestors 'none'")
	w.WriteHeader(status)
	_ = resultPage.Execute(w, data)
}

func writeSuccess(w http.ResponseWriter, account string) {
	writePage(w, http.StatusOK, pageData{OK: true, Account: account})
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	writePage(w, status, pageData{Message: message})
}
