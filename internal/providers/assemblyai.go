package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/autopiloot/corepipe/internal/ingesterr"
	"github.com/autopiloot/corepipe/pkg/resilience"
)

// AssemblyAITranscriber implements Transcriber against AssemblyAI's
// submit-then-poll transcription API. Outbound calls run through a circuit
// breaker so a run of upstream 5xx/network failures stops hammering
// AssemblyAI instead of burning through every in-flight job's retry budget.
type AssemblyAITranscriber struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
	breaker    *resilience.Breaker
}

func NewAssemblyAITranscriber(apiKey string) *AssemblyAITranscriber {
	return &AssemblyAITranscriber{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    "https://api.assemblyai.com/v2",
		breaker:    resilience.NewBreaker(resilience.DefaultBreakerOpts),
	}
}

// do runs req through the breaker, classifying a tripped breaker as the same
// transient failure mode as a 5xx so the dispatcher retries it rather than
// archiving the job.
func (a *AssemblyAITranscriber) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := a.breaker.Call(ctx, func(ctx context.Context) error {
		r, err := a.httpClient.Do(req.WithContext(ctx))
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err == resilience.ErrCircuitOpen {
		return nil, ingesterr.Transient("circuit_open", fmt.Errorf("assemblyai: circuit breaker open"))
	}
	if err != nil {
		return nil, ingesterr.Transient("network_error", err)
	}
	return resp, nil
}

type submitRequest struct {
	AudioURL string `json:"audio_url"`
}

type submitResponse struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// Submit implements Transcriber.
func (a *AssemblyAITranscriber) Submit(ctx context.Context, audioURL string) (TranscriptionJob, error) {
	body, err := json.Marshal(submitRequest{AudioURL: audioURL})
	if err != nil {
		return TranscriptionJob{}, ingesterr.Terminal("encode_error", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/transcript", bytes.NewReader(body))
	if err != nil {
		return TranscriptionJob{}, ingesterr.Terminal("request_build_error", err)
	}
	req.Header.Set("Authorization", a.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.do(ctx, req)
	if err != nil {
		return TranscriptionJob{}, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return TranscriptionJob{}, ingesterr.Transient("read_error", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return TranscriptionJob{}, ingesterr.QuotaExceeded("rate_limit", fmt.Errorf("assemblyai: rate limited"))
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return TranscriptionJob{}, ingesterr.Terminal("auth_failure", fmt.Errorf("assemblyai: invalid api key"))
	}
	if resp.StatusCode >= 500 {
		return TranscriptionJob{}, ingesterr.Transient("upstream_5xx", fmt.Errorf("assemblyai: status %d", resp.StatusCode))
	}

	var sr submitResponse
	if err := json.Unmarshal(respBody, &sr); err != nil {
		return TranscriptionJob{}, ingesterr.Terminal("decode_error", err)
	}
	if resp.StatusCode >= 400 {
		return TranscriptionJob{}, ingesterr.Terminal("submit_rejected", fmt.Errorf("assemblyai: %s", sr.Error))
	}
	return TranscriptionJob{ProviderJobID: sr.ID}, nil
}

type pollResponse struct {
	Status        string `json:"status"`
	Text          string `json:"text"`
	LanguageCode  string `json:"language_code"`
	Error         string `json:"error"`
}

// Poll implements Transcriber. It drives AssemblyAI's poll endpoint to
// completion itself, applying the fixed backoff schedule: 5s base, doubling
// every 10 attempts up to a 30s cap, bounded by a 60-attempt / 5-minute
// overall timeout (the transcription job's own max runtime, distinct from
// the dispatcher's per-stage context timeout).
func (a *AssemblyAITranscriber) Poll(ctx context.Context, job TranscriptionJob) (TranscriptionResult, error) {
	const maxAttempts = 60
	const totalTimeout = 5 * time.Minute

	deadline := time.Now().Add(totalTimeout)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if time.Now().After(deadline) {
			return TranscriptionResult{}, ingesterr.Transient("poll_timeout", fmt.Errorf("assemblyai: transcription %s did not complete within %s", job.ProviderJobID, totalTimeout))
		}

		result, done, err := a.pollOnce(ctx, job)
		if err != nil {
			return TranscriptionResult{}, err
		}
		if done {
			return result, nil
		}

		delay := pollBackoff(attempt)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return TranscriptionResult{}, ctx.Err()
		case <-timer.C:
		}
	}
	return TranscriptionResult{}, ingesterr.Transient("poll_attempts_exhausted", fmt.Errorf("assemblyai: transcription %s exceeded %d poll attempts", job.ProviderJobID, maxAttempts))
}

// pollBackoff implements base 5s, doubling every 10 attempts, capped at 30s.
func pollBackoff(attempt int) time.Duration {
	exp := attempt / 10
	if exp > 3 {
		exp = 3
	}
	d := 5 * time.Second
	for i := 0; i < exp; i++ {
		d *= 2
	}
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

func (a *AssemblyAITranscriber) pollOnce(ctx context.Context, job TranscriptionJob) (TranscriptionResult, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/transcript/"+job.ProviderJobID, nil)
	if err != nil {
		return TranscriptionResult{}, false, ingesterr.Terminal("request_build_error", err)
	}
	req.Header.Set("Authorization", a.apiKey)

	resp, err := a.do(ctx, req)
	if err != nil {
		return TranscriptionResult{}, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return TranscriptionResult{}, false, nil // transient, caller retries
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return TranscriptionResult{}, false, nil
	}
	var pr pollResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return TranscriptionResult{}, false, ingesterr.Terminal("decode_error", err)
	}

	switch pr.Status {
	case "completed":
		return TranscriptionResult{Status: TranscriptionCompleted, Text: pr.Text, Language: pr.LanguageCode}, true, nil
	case "error":
		return TranscriptionResult{}, false, ingesterr.Terminal("transcription_error", fmt.Errorf("assemblyai: %s", pr.Error))
	default:
		return TranscriptionResult{Status: TranscriptionProcessing}, false, nil
	}
}
