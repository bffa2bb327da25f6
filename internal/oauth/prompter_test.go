package oauth

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/alexjbarnes/authsession/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freeRedirectURI(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	return fmt.Sprintf("http://127.0.0.1:%d/callback", port)
}

// visit simulates the browser following the redirect.
func visit(t *testing.T, target string, status chan<- int) func(string) error {
	t.Helper()

	return func(string) error {
		go func() {
			resp, err := http.Get(target)
			if err != nil {
				status <- 0
				return
			}

			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			status <- resp.StatusCode
		}()

		return nil
	}
}

func TestLoopbackPrompter_ReceivesCallback(t *testing.T) {
	redirect := freeRedirectURI(t)
	status := make(chan int, 1)

	var out bytes.Buffer

	p := &LoopbackPrompter{
		Open:   visit(t, redirect+"?code=abc&state=xyz", status),
		Out:    &out,
		Logger: logging.Discard(),
	}

	cb, err := p.Prompt(context.Background(), "https://auth.example.com/authorize?x=1", redirect)
	require.NoError(t, err)

	assert.Equal(t, &Callback{Code: "abc", State: "xyz"}, cb)
	assert.Equal(t, http.StatusOK, <-status)
	assert.Contains(t, out.String(), "https://auth.example.com/authorize?x=1")
}

func TestLoopbackPrompter_ErrorCallback(t *testing.T) {
	redirect := freeRedirectURI(t)
	status := make(chan int, 1)

	p := &LoopbackPrompter{
		Open:   visit(t, redirect+"?error=access_denied&error_description=nope&state=xyz", status),
		Out:    io.Discard,
		Logger: logging.Discard(),
	}

	cb, err := p.Prompt(context.Background(), "https://auth.example.com/authorize", redirect)
	require.NoError(t, err)

	assert.Equal(t, "access_denied", cb.Error)
	assert.Equal(t, "nope", cb.ErrorDescription)
	assert.Equal(t, http.StatusOK, <-status)
}

func TestLoopbackPrompter_BrowserFailureStillWaits(t *testing.T) {
	redirect := freeRedirectURI(t)
	status := make(chan int, 1)
	follow := visit(t, redirect+"?code=abc&state=s", status)

	p := &LoopbackPrompter{
		Open: func(u string) error {
			_ = follow(u)
			return fmt.Errorf("no display")
		},
		Out:    io.Discard,
		Logger: logging.Discard(),
	}

	cb, err := p.Prompt(context.Background(), "https://auth.example.com/authorize", redirect)
	require.NoError(t, err)
	assert.Equal(t, "abc", cb.Code)
	<-status
}

func TestLoopbackPrompter_Timeout(t *testing.T) {
	p := &LoopbackPrompter{
		Open:    func(string) error { return nil },
		Out:     io.Discard,
		Timeout: 50 * time.Millisecond,
		Logger:  logging.Discard(),
	}

	_, err := p.Prompt(context.Background(), "https://auth.example.com/authorize", freeRedirectURI(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLoopbackPrompter_RequiresPort(t *testing.T) {
	p := &LoopbackPrompter{Out: io.Discard, Logger: logging.Discard()}

	_, err := p.Prompt(context.Background(), "https://auth.example.com/authorize", "http://localhost/callback")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port")
}
