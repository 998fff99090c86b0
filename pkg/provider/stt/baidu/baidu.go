// Package baidu provides an STT provider backed by the Baidu short speech
// recognition REST API.
//
// The client first obtains an OAuth access token with the client-credentials
// grant, caches it until shortly before it expires, and then posts each WAV
// payload to the recognition endpoint. A response with err_no 3302 (token
// invalid) drops the cached token so the next request fetches a fresh one.
// Token fetches are rate limited so a bad key cannot hammer the auth endpoint.
//
// The model id (dev_pid) comes from [WithDevPID] when set. Otherwise the
// request language tag picks one of the Mandarin, English or Cantonese models,
// and anything else uses [DefaultDevPID].
//
// Usage:
//
//	p, err := baidu.New(apiKey, secretKey, baidu.WithDevPID("1537"))
//	res, err := p.Transcribe(ctx, wavBytes, stt.Request{SampleRate: 16000})
package baidu

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"
	"golang.org/x/time/rate"

	"github.com/MrWong99/voxtap/pkg/provider/stt"
)

const (
	providerName = "baidu"

	// DefaultTokenURL is the OAuth endpoint issuing access tokens.
	DefaultTokenURL = "https://aip.baidubce.com/oauth/2.0/token"

	// DefaultASRURL is the short speech recognition endpoint.
	DefaultASRURL = "https://vop.baidu.com/server_api"

	// DefaultDevPID selects Mandarin with simple punctuation.
	DefaultDevPID = "1537"

	// EnglishDevPID selects the English model.
	EnglishDevPID = "1737"

	// CantoneseDevPID selects the Cantonese model.
	CantoneseDevPID = "1637"

	// errTokenInvalid is the err_no reported for an expired or revoked token.
	errTokenInvalid = 3302

	defaultTimeout = 30 * time.Second

	// tokenSlack is subtracted from expires_in so a token is never used in
	// its last minute.
	tokenSlack = time.Minute
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// languageModels lists the recognition models reachable through a language
// tag, in matcher order.
var (
	languageModels = []string{DefaultDevPID, EnglishDevPID, CantoneseDevPID}
	languages      = language.NewMatcher([]language.Tag{
		language.MustParse("zh"),
		language.English,
		language.MustParse("yue"),
	})
)

// DevPIDFor returns the recognition model id for a BCP-47 language tag, and
// false when the tag is malformed or has no matching model.
func DevPIDFor(tag string) (string, bool) {
	t, err := language.Parse(tag)
	if err != nil {
		return "", false
	}
	_, i, conf := languages.Match(t)
	if conf == language.No {
		return "", false
	}
	return languageModels[i], true
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithTokenURL overrides the OAuth token endpoint.
func WithTokenURL(u string) Option {
	return func(p *Provider) { p.tokenURL = u }
}

// WithASRURL overrides the recognition endpoint.
func WithASRURL(u string) Option {
	return func(p *Provider) { p.asrURL = u }
}

// WithDevPID pins the recognition model id. A pinned id takes precedence over
// the request language.
func WithDevPID(pid string) Option {
	return func(p *Provider) {
		if pid != "" {
			p.devPID = pid
			p.pinned = true
		}
	}
}

// WithCUID sets the device id sent with every request. Defaults to a random
// UUID generated once per provider.
func WithCUID(cuid string) Option {
	return func(p *Provider) { p.cuid = cuid }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithRefreshLimit limits token fetches to one per every with the given
// burst. The default is one every 10 s with a burst of 2.
func WithRefreshLimit(every time.Duration, burst int) Option {
	return func(p *Provider) {
		p.limiter = rate.NewLimiter(rate.Every(every), burst)
	}
}

// Provider implements stt.Provider for the Baidu REST API.
type Provider struct {
	apiKey     string
	secretKey  string
	tokenURL   string
	asrURL     string
	devPID     string
	pinned     bool
	cuid       string
	httpClient *http.Client
	limiter    *rate.Limiter

	mu      sync.Mutex
	token   string
	expires time.Time
}

// New creates a Provider authenticating with apiKey and secretKey. Both must
// be non-empty.
func New(apiKey, secretKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" || secretKey == "" {
		return nil, errors.New("baidu: api key and secret key must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		secretKey:  secretKey,
		tokenURL:   DefaultTokenURL,
		asrURL:     DefaultASRURL,
		devPID:     DefaultDevPID,
		cuid:       uuid.NewString(),
		httpClient: &http.Client{Timeout: defaultTimeout},
		limiter:    rate.NewLimiter(rate.Every(10*time.Second), 2),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements [stt.Provider].
func (p *Provider) Transcribe(ctx context.Context, wav []byte, req stt.Request) (stt.Result, error) {
	if len(wav) == 0 {
		return stt.Result{}, &stt.Error{Provider: providerName, Code: stt.CodeBadResponse, Message: "empty payload", Cause: stt.ErrEmptyAudio}
	}
	start := time.Now()

	token, err := p.accessToken(ctx)
	if err != nil {
		return stt.Result{}, err
	}

	sampleRate := req.SampleRate
	if sampleRate == 0 {
		sampleRate = 16000
	}
	devPID := p.modelFor(req.Language)

	q := url.Values{}
	q.Set("dev_pid", devPID)
	q.Set("cuid", p.cuid)
	q.Set("token", token)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.asrURL+"?"+q.Encode(), bytes.NewReader(wav))
	if err != nil {
		return stt.Result{}, &stt.Error{Provider: providerName, Code: stt.CodeTransport, Message: "create request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "audio/wav;rate="+strconv.Itoa(sampleRate))

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return stt.Result{}, &stt.Error{Provider: providerName, Code: stt.CodeTransport, Message: "http request", Cause: err, Retryable: true}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return stt.Result{}, &stt.Error{Provider: providerName, Code: stt.CodeTransport, Message: "read response body", Cause: err, Retryable: true}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return stt.Result{}, &stt.Error{Provider: providerName, Code: stt.CodeBadResponse, Message: "empty response"}
	}

	var body struct {
		ErrNo  int      `json:"err_no"`
		ErrMsg string   `json:"err_msg"`
		Result []string `json:"result"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return stt.Result{}, &stt.Error{Provider: providerName, Code: stt.CodeBadResponse, Message: "parse JSON response", Cause: err}
	}

	if body.ErrNo != 0 {
		if body.ErrNo == errTokenInvalid {
			p.invalidate(token)
		}
		slog.Warn("baidu: recognition failed", "err_no", body.ErrNo, "err_msg", body.ErrMsg)
		return stt.Result{}, &stt.Error{
			Provider:  providerName,
			Code:      body.ErrNo,
			Message:   body.ErrMsg,
			Retryable: body.ErrNo == errTokenInvalid,
		}
	}

	var text string
	if len(body.Result) > 0 {
		text = strings.TrimSpace(body.Result[0])
	}
	return stt.Result{
		Text:     text,
		Provider: providerName,
		Latency:  time.Since(start),
	}, nil
}

// modelFor picks the dev_pid for a request language tag.
func (p *Provider) modelFor(tag string) string {
	if p.pinned || tag == "" {
		return p.devPID
	}
	pid, ok := DevPIDFor(tag)
	if !ok {
		slog.Debug("baidu: no model for language, using default", "language", tag, "dev_pid", p.devPID)
		return p.devPID
	}
	return pid
}

// accessToken returns the cached token or fetches a new one.
func (p *Provider) accessToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token != "" && time.Now().Before(p.expires) {
		return p.token, nil
	}
	if !p.limiter.Allow() {
		return "", &stt.Error{Provider: providerName, Code: stt.CodeTransport, Message: "token refresh rate limited", Retryable: true}
	}

	q := url.Values{}
	q.Set("grant_type", "client_credentials")
	q.Set("client_id", p.apiKey)
	q.Set("client_secret", p.secretKey)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.tokenURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", &stt.Error{Provider: providerName, Code: stt.CodeTransport, Message: "create token request", Cause: err}
	}
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", &stt.Error{Provider: providerName, Code: stt.CodeTransport, Message: "token request", Cause: err, Retryable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &stt.Error{
			Provider:  providerName,
			Code:      stt.CodeTransport,
			Message:   fmt.Sprintf("token endpoint returned HTTP %d", resp.StatusCode),
			Retryable: resp.StatusCode >= 500,
		}
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
		Error       string `json:"error"`
		ErrorDesc   string `json:"error_description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", &stt.Error{Provider: providerName, Code: stt.CodeBadResponse, Message: "parse token response", Cause: err}
	}
	if tok.AccessToken == "" {
		msg := "token response has no access_token"
		if tok.Error != "" {
			msg = tok.Error + ": " + tok.ErrorDesc
		}
		return "", &stt.Error{Provider: providerName, Code: stt.CodeBadResponse, Message: msg}
	}

	ttl := time.Duration(tok.ExpiresIn) * time.Second
	switch {
	case tok.ExpiresIn <= 0:
		// No lifetime reported; keep it until the service rejects it.
		ttl = 24 * time.Hour
	case ttl > 2*tokenSlack:
		ttl -= tokenSlack
	}
	p.token = tok.AccessToken
	p.expires = time.Now().Add(ttl)
	slog.Info("baidu: access token obtained", "expires_in", ttl)
	return p.token, nil
}

// invalidate drops token if it is still the cached one.
func (p *Provider) invalidate(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token == token {
		p.token = ""
		p.expires = time.Time{}
	}
}
