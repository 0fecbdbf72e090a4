// Package cli holds the interactive helpers behind the vouch commands:
// the paste-based authorization provider and table rendering.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"vouch/internal/request"
)

// PasteAuthorizationProvider drives interactive authorization through the
// terminal: it prints the authorization URL for the user to open in a
// browser and reads the redirect URL they paste back.
type PasteAuthorizationProvider struct {
	In  io.Reader
	Out io.Writer
}

// Authorize implements request.AuthorizationProvider.
func (p *PasteAuthorizationProvider) Authorize(ctx context.Context, authorizationURL string) (request.AuthorizationResult, error) {
	fmt.Fprintf(p.Out, "Open this URL in your browser and sign in:\n\n  %s\n\n", authorizationURL)
	fmt.Fprint(p.Out, "Paste the full redirect URL here: ")

	type line struct {
		text string
		err  error
	}
	lines := make(chan line, 1)
	go func() {
		scanner := bufio.NewScanner(p.In)
		if scanner.Scan() {
			lines <- line{text: strings.TrimSpace(scanner.Text())}
			return
		}
		err := scanner.Err()
		if err == nil {
			err = io.EOF
		}
		lines <- line{err: err}
	}()

	select {
	case <-ctx.Done():
		return request.AuthorizationResult{}, ctx.Err()
	case l := <-lines:
		if l.err != nil {
			return request.AuthorizationResult{}, fmt.Errorf("failed to read redirect URL: %w", l.err)
		}
		return ParseRedirectURL(l.text)
	}
}

// ParseRedirectURL extracts the authorization response from a pasted
// redirect URL.
func ParseRedirectURL(raw string) (request.AuthorizationResult, error) {
	if raw == "" {
		return request.AuthorizationResult{}, fmt.Errorf("redirect URL is empty")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return request.AuthorizationResult{}, fmt.Errorf("invalid redirect URL: %w", err)
	}

	query := parsed.Query()
	// Some providers return the response in the fragment.
	if len(query) == 0 && parsed.Fragment != "" {
		query, err = url.ParseQuery(parsed.Fragment)
		if err != nil {
			return request.AuthorizationResult{}, fmt.Errorf("invalid redirect URL fragment: %w", err)
		}
	}

	return request.AuthorizationResult{
		Code:             query.Get("code"),
		State:            query.Get("state"),
		Error:            query.Get("error"),
		ErrorDescription: query.Get("error_description"),
	}, nil
}
