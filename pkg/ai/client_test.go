package ai

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantLvl  string
		wantConf float64
		wantErr  bool
	}{
		{
			name:     "plain json",
			content:  `{"risk_level": "safe", "confidence": 0.9, "reason": "temp file"}`,
			wantLvl:  "safe",
			wantConf: 0.9,
		},
		{
			name:     "fenced json block",
			content:  "```json\n{\"risk_level\": \"dangerous\", \"confidence\": 0.8, \"reason\": \"system file\"}\n```",
			wantLvl:  "dangerous",
			wantConf: 0.8,
		},
		{
			name:     "bare fence",
			content:  "```\n{\"risk_level\": \"suspicious\", \"confidence\": 0.5, \"reason\": \"unclear\"}\n```",
			wantLvl:  "suspicious",
			wantConf: 0.5,
		},
		{
			name:     "json embedded in prose",
			content:  `Here is my assessment: {"risk_level": "safe", "confidence": 0.7, "reason": "cache"} Hope that helps.`,
			wantLvl:  "safe",
			wantConf: 0.7,
		},
		{
			name:     "confidence clamped high",
			content:  `{"risk_level": "safe", "confidence": 1.4, "reason": "x"}`,
			wantLvl:  "safe",
			wantConf: 1,
		},
		{
			name:     "confidence clamped low",
			content:  `{"risk_level": "safe", "confidence": -0.2, "reason": "x"}`,
			wantLvl:  "safe",
			wantConf: 0,
		},
		{
			name:    "missing risk_level",
			content: `{"confidence": 0.9, "reason": "x"}`,
			wantErr: true,
		},
		{
			name:    "no json at all",
			content: "I cannot assess this file.",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseVerdict(tt.content)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseVerdict(%q) succeeded, want error", tt.content)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseVerdict(%q) failed: %v", tt.content, err)
			}
			if got.Level != tt.wantLvl || got.Confidence != tt.wantConf {
				t.Errorf("got %s/%v, want %s/%v", got.Level, got.Confidence, tt.wantLvl, tt.wantConf)
			}
		})
	}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Error("NewClient accepted an empty API key")
	}
	if _, err := NewClient(Config{APIKey: "  "}); err == nil {
		t.Error("NewClient accepted a blank API key")
	}
}

func TestClassifyRetriesRateLimit(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requests, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{
			"choices": [{"message": {"content": "{\"risk_level\": \"safe\", \"confidence\": 0.9, \"reason\": \"orphaned temp file\"}"}}],
			"usage": {"prompt_tokens": 120, "completion_tokens": 40}
		}`)
	}))
	defer srv.Close()

	client, err := NewClient(Config{
		APIKey:     "test-key",
		Endpoint:   srv.URL,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}

	verdict, err := client.Classify(context.Background(), "classify this")
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if got := atomic.LoadInt32(&requests); got != 2 {
		t.Errorf("got %d requests, want 2 (one retry)", got)
	}
	if verdict.Level != "safe" || verdict.Confidence != 0.9 {
		t.Errorf("got verdict %s/%v", verdict.Level, verdict.Confidence)
	}
	if verdict.InputTokens != 120 || verdict.OutputTokens != 40 {
		t.Errorf("got tokens %d/%d, want 120/40", verdict.InputTokens, verdict.OutputTokens)
	}
}

func TestClassifyAuthErrorIsTerminal(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error": {"message": "Incorrect API key provided"}}`)
	}))
	defer srv.Close()

	client, err := NewClient(Config{
		APIKey:     "bad-key",
		Endpoint:   srv.URL,
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = client.Classify(context.Background(), "classify this")
	if err == nil {
		t.Fatal("Classify succeeded against a 401")
	}
	if !strings.Contains(err.Error(), "Incorrect API key provided") {
		t.Errorf("got error %q, want server message embedded", err)
	}
	if got := atomic.LoadInt32(&requests); got != 1 {
		t.Errorf("got %d requests, want 1 (no retry on auth errors)", got)
	}
}

func TestClassifySendsAuthHeader(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{"choices": [{"message": {"content": "{\"risk_level\": \"safe\", \"confidence\": 0.9, \"reason\": \"r\"}"}}]}`)
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "secret-token", Endpoint: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := client.Classify(context.Background(), "p"); err != nil {
		t.Fatal(err)
	}
	if auth != "Bearer secret-token" {
		t.Errorf("got Authorization header %q", auth)
	}
}
