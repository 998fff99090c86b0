// Package whisper provides a whisper.cpp-server-backed STT provider.
//
// It posts each finished recording as a WAV file to a running whisper-server
// binary (which exposes a REST API at POST /inference) and returns the text of
// the JSON response. whisper.cpp is a batch engine, which matches the
// one-recording-at-a-time upload stage exactly.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8081",
//	    whisper.WithLanguage("zh"),
//	)
//	res, err := p.Transcribe(ctx, wavBytes, stt.Request{SampleRate: 16000})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/language"

	"github.com/MrWong99/voxtap/pkg/provider/stt"
)

const (
	providerName    = "whisper"
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with, which is the default.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the language code sent to the whisper.cpp server
// (e.g., "en", "de", "zh"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithHTTPClient overrides the HTTP client. The default client has a 30 s
// timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements stt.Provider backed by a whisper.cpp HTTP server.
type Provider struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a new Provider that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8081"). serverURL must be non-empty.
// Functional options may be provided to override defaults.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// languageFor reduces a BCP-47 tag to the base language code whisper.cpp
// expects ("en-US" becomes "en"). Empty or malformed tags use the configured
// language.
func (p *Provider) languageFor(tag string) string {
	if tag == "" {
		return p.language
	}
	t, err := language.Parse(tag)
	if err != nil {
		return p.language
	}
	base, _ := t.Base()
	return base.String()
}

// Transcribe implements [stt.Provider].
func (p *Provider) Transcribe(ctx context.Context, wav []byte, req stt.Request) (stt.Result, error) {
	if len(wav) == 0 {
		return stt.Result{}, &stt.Error{Provider: providerName, Code: stt.CodeBadResponse, Message: "empty payload", Cause: stt.ErrEmptyAudio}
	}
	start := time.Now()

	lang := p.languageFor(req.Language)

	body, contentType, err := p.form(wav, lang)
	if err != nil {
		return stt.Result{}, &stt.Error{Provider: providerName, Code: stt.CodeTransport, Message: "build request", Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", body)
	if err != nil {
		return stt.Result{}, &stt.Error{Provider: providerName, Code: stt.CodeTransport, Message: "create request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return stt.Result{}, &stt.Error{Provider: providerName, Code: stt.CodeTransport, Message: "http request", Cause: err, Retryable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return stt.Result{}, &stt.Error{
			Provider:  providerName,
			Code:      resp.StatusCode,
			Message:   fmt.Sprintf("server returned HTTP %d", resp.StatusCode),
			Retryable: resp.StatusCode >= 500,
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return stt.Result{}, &stt.Error{Provider: providerName, Code: stt.CodeTransport, Message: "read response body", Cause: err, Retryable: true}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return stt.Result{}, &stt.Error{Provider: providerName, Code: stt.CodeBadResponse, Message: "empty response"}
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return stt.Result{}, &stt.Error{Provider: providerName, Code: stt.CodeBadResponse, Message: "parse JSON response", Cause: err}
	}

	return stt.Result{
		Text:     strings.TrimSpace(result.Text),
		Provider: providerName,
		Latency:  time.Since(start),
	}, nil
}

// form builds the multipart body: the WAV file plus optional hint fields.
func (p *Provider) form(wav []byte, lang string) (*bytes.Buffer, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, "", fmt.Errorf("whisper: write wav data: %w", err)
	}
	if lang != "" {
		if err := mw.WriteField("language", lang); err != nil {
			return nil, "", fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if p.model != "" {
		if err := mw.WriteField("model", p.model); err != nil {
			return nil, "", fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return nil, "", fmt.Errorf("whisper: write response_format field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}
	return &body, mw.FormDataContentType(), nil
}
