// Package sandbox talks to a Piston compatible code execution API.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dkeye/coderoom/internal/domain"
	"github.com/rs/zerolog/log"
)

const DefaultURL = "https://emkc.org/api/v2/piston/execute"

var (
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrExecution           = errors.New("execution failed")
)

// runtimes pins the runtime version requested for each language.
var runtimes = map[domain.Language]string{
	domain.LanguagePython:     "3.10.0",
	domain.LanguageJava:       "15.0.2",
	domain.LanguageC:          "10.2.0",
	domain.LanguageCPP:        "10.2.0",
	domain.LanguageJavaScript: "18.15.0",
}

type File struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type Request struct {
	Language string `json:"language"`
	Version  string `json:"version"`
	Files    []File `json:"files"`
	Stdin    string `json:"stdin"`
}

type Stage struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	Code   *int   `json:"code"`
	Signal string `json:"signal"`
}

type Response struct {
	Language string `json:"language"`
	Version  string `json:"version"`
	Run      Stage  `json:"run"`
	Compile  *Stage `json:"compile,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Outcome is what a room sees of one execution.
type Outcome struct {
	Output string
	Signal string
}

type Client struct {
	url  string
	http *http.Client
}

func New(url string, timeout time.Duration) *Client {
	if url == "" {
		url = DefaultURL
	}
	return &Client{url: url, http: &http.Client{Timeout: timeout}}
}

func fileName(lang domain.Language) string {
	switch lang {
	case domain.LanguagePython:
		return "main.py"
	case domain.LanguageJavaScript:
		return "main.js"
	}
	return "main." + string(lang)
}

// NewRequest builds the execute request for one source file.
func NewRequest(lang domain.Language, code, stdin string) (Request, error) {
	version, ok := runtimes[lang]
	if !ok {
		return Request{}, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, string(lang))
	}
	return Request{
		Language: string(lang),
		Version:  version,
		Files:    []File{{Name: fileName(lang), Content: code}},
		Stdin:    stdin,
	}, nil
}

func (c *Client) Execute(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrExecution, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Response{}, fmt.Errorf("%w: read body: %v", ErrExecution, err)
	}
	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return Response{}, fmt.Errorf("%w: status %d: decode: %v", ErrExecution, resp.StatusCode, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := out.Message
		if msg == "" {
			msg = "Unknown error"
		}
		return Response{}, fmt.Errorf("%w: status %d: %s", ErrExecution, resp.StatusCode, msg)
	}
	return out, nil
}

// Run executes code and folds the result into trimmed stdout followed by
// trimmed stderr.
func (c *Client) Run(ctx context.Context, lang domain.Language, code, stdin string) (Outcome, error) {
	req, err := NewRequest(lang, code, stdin)
	if err != nil {
		return Outcome{}, err
	}
	resp, err := c.Execute(ctx, req)
	if err != nil {
		log.Warn().Err(err).Str("module", "sandbox").Str("language", string(lang)).Msg("execute")
		return Outcome{}, err
	}
	out := Outcome{
		Output: strings.TrimSpace(resp.Run.Stdout) + strings.TrimSpace(resp.Run.Stderr),
		Signal: resp.Run.Signal,
	}
	if out.Signal != "" {
		log.Info().Str("module", "sandbox").Str("language", string(lang)).Str("signal", out.Signal).Msg("run terminated by signal")
	}
	return out, nil
}
