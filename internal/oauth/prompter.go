package oauth

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"
)

// DefaultCallbackTimeout bounds how long LoopbackPrompter waits for the
// browser to come back.
const DefaultCallbackTimeout = 10 * time.Minute

// Callback carries the query parameters of the redirect back from the
// authorization server.
type Callback struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// Prompter obtains user consent for authURL and returns the callback the
// authorization server sent to redirectURI.
type Prompter interface {
	Prompt(ctx context.Context, authURL, redirectURI string) (*Callback, error)
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, authURL, redirectURI string) (*Callback, error)

func (f PrompterFunc) Prompt(ctx context.Context, authURL, redirectURI string) (*Callback, error) {
	return f(ctx, authURL, redirectURI)
}

var callbackPage = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>authsession</title></head>
<body>{{if .Error}}<h1>Authorization failed</h1><p>{{.Error}}{{if .Description}}: {{.Description}}{{end}}</p>{{else}}<h1>Authorization complete</h1><p>You can close this window.</p>{{end}}</body></html>
`))

// LoopbackPrompter serves the redirect URI on the local machine, opens the
// authorization URL in a browser and waits for a single callback. The
// redirect URI must name an explicit port.
type LoopbackPrompter struct {
	// Open launches the browser. Defaults to OpenBrowser.
	Open func(url string) error
	// Out receives the authorization URL so it can be opened by hand.
	// Defaults to os.Stderr.
	Out     io.Writer
	Timeout time.Duration
	Logger  *slog.Logger
}

func (p *LoopbackPrompter) Prompt(ctx context.Context, authURL, redirectURI string) (*Callback, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return nil, fmt.Errorf("parsing redirect uri: %w", err)
	}

	if u.Port() == "" {
		return nil, errors.New("redirect uri must include a port for the loopback listener")
	}

	path := u.Path
	if path == "" {
		path = "/"
	}

	ln, err := net.Listen("tcp", u.Host)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", u.Host, err)
	}

	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	results := make(chan *Callback, 1)

	var once sync.Once

	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		handled := false

		once.Do(func() {
			handled = true
			q := r.URL.Query()
			cb := &Callback{
				Code:             q.Get("code"),
				State:            q.Get("state"),
				Error:            q.Get("error"),
				ErrorDescription: q.Get("error_description"),
			}

			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Header().Set("Cache-Control", "no-store")
			w.Header().Set("Referrer-Policy", "no-referrer")

			if err := callbackPage.Execute(w, map[string]string{"Error": cb.Error, "Description": cb.ErrorDescription}); err != nil {
				logger.Debug("rendering callback page", slog.String("error", err.Error()))
			}

			results <- cb
		})

		if !handled {
			http.Error(w, "callback already processed", http.StatusBadRequest)
		}
	})

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("callback server stopped", slog.String("error", err.Error()))
		}
	}()

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	out := p.Out
	if out == nil {
		out = os.Stderr
	}

	fmt.Fprintf(out, "Open the following URL to authorize:\n\n  %s\n\n", authURL)

	open := p.Open
	if open == nil {
		open = OpenBrowser
	}

	if err := open(authURL); err != nil {
		logger.Warn("could not open browser", slog.String("error", err.Error()))
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultCallbackTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case cb := <-results:
		return cb, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for OAuth callback: %w", ctx.Err())
	}
}

// OpenBrowser opens url in the default browser without waiting for it.
func OpenBrowser(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "linux", "freebsd", "openbsd":
		cmd = exec.Command("xdg-open", url)
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("opening browser: %w", err)
	}

	go func() { _ = cmd.Wait() }()

	return nil
}
