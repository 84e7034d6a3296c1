package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/rewired-gh/forecastlens/internal/models"
)

type stubAssistant struct {
	reply  string
	err    error
	prompt string
}

func (s *stubAssistant) Generate(ctx context.Context, prompt string) (string, error) {
	s.prompt = prompt
	return s.reply, s.err
}

func TestAskAssistant(t *testing.T) {
	attrs := models.AttributionMap{{Label: "Timestep t1", Value: 0.5}, {Label: "Timestep t0", Value: -0.25}}

	t.Run("reply passed through", func(t *testing.T) {
		stub := &stubAssistant{reply: "t1 dominates"}
		client := NewClient(Config{BaseURL: "http://unused"}, stub)
		if got := client.AskAssistant(context.Background(), "why?", attrs); got != "t1 dominates" {
			t.Errorf("reply = %q", got)
		}
		if stub.prompt != "why?" {
			t.Errorf("prompt = %q", stub.prompt)
		}
	})

	t.Run("failure degrades to scores", func(t *testing.T) {
		client := NewClient(Config{BaseURL: "http://unused"}, &stubAssistant{err: errors.New("connection refused")})
		got := client.AskAssistant(context.Background(), "why?", attrs)
		want := MsgAssistantUnavailable + `{"Timestep t1":0.5,"Timestep t0":-0.25}`
		if got != want {
			t.Errorf("reply = %q, want %q", got, want)
		}
	})

	t.Run("no assistant configured", func(t *testing.T) {
		client := NewClient(Config{BaseURL: "http://unused"}, nil)
		if got := client.AskAssistant(context.Background(), "why?", nil); got != MsgAssistantUnavailable+"{}" {
			t.Errorf("reply = %q", got)
		}
	})
}

func TestOllamaAssistant(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{name: "response field", status: http.StatusOK, body: `{"model":"llama2","response":"Timestep t3 matters most.","done":true}`, want: "Timestep t3 matters most."},
		{name: "missing response field", status: http.StatusOK, body: `{"done":true}`, want: `{"done":true}`},
		{name: "error status still read", status: http.StatusNotFound, body: `{"error":"model 'llama2' not found"}`, want: `{"error":"model 'llama2' not found"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req generateRequest
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewDecoder(r.Body).Decode(&req)
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			a := NewOllamaAssistant(srv.URL+"/api/generate", "llama2", 5*time.Second)
			got, err := a.Generate(context.Background(), "prompt text")
			if err != nil {
				t.Fatalf("Generate failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Generate() = %q, want %q", got, tt.want)
			}
			if req.Model != "llama2" || req.Prompt != "prompt text" || req.Stream {
				t.Errorf("unexpected request %+v", req)
			}
		})
	}
}

func TestOllamaAssistantInvalidBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<html>bad gateway</html>")
	}))
	defer srv.Close()

	a := NewOllamaAssistant(srv.URL, "llama2", time.Second)
	if _, err := a.Generate(context.Background(), "p"); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestOpenAIAssistant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["model"] != "llama3" {
			t.Errorf("model = %v", body["model"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "llama3",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "Timestep t0 pushes the forecast down."}}]
		}`)
	}))
	defer srv.Close()

	a := NewOpenAIAssistant("test-key", srv.URL+"/v1", "llama3", 5*time.Second)
	got, err := a.Generate(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if got != "Timestep t0 pushes the forecast down." {
		t.Errorf("Generate() = %q", got)
	}
}
