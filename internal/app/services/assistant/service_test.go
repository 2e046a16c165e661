package assistant

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/qltv/library_service/internal/app/domain/catalog"
	"github.com/qltv/library_service/internal/app/storage/memory"
	"github.com/qltv/library_service/internal/config"
	svcerrors "github.com/qltv/library_service/internal/errors"
)

func newStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.New()
	if _, err := store.CreateBook(context.Background(), catalog.Book{Title: "Dế Mèn phiêu lưu ký", Genre: "Thiếu nhi", TotalCopies: 2, AvailableCopies: 2}); err != nil {
		t.Fatalf("create book: %v", err)
	}
	if _, err := store.CreateBook(context.Background(), catalog.Book{Title: "Out of stock", TotalCopies: 1}); err != nil {
		t.Fatalf("create book: %v", err)
	}
	return store
}

func TestChatSendsPromptAndExtractsAnswer(t *testing.T) {
	var got generateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/gemini-test:generateContent" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("x-goog-api-key") != "secret" {
			t.Errorf("api key header missing")
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":" Xin chào! "}]}}]}`))
	}))
	defer server.Close()

	svc := New(config.AssistantConfig{Endpoint: server.URL, APIKey: "secret", Model: "gemini-test", Timeout: time.Second}, newStore(t), server.Client(), nil)
	reply, err := svc.Chat(context.Background(), "Có sách thiếu nhi không?", []Turn{
		{Role: "user", Text: "chào"},
		{Role: "assistant", Text: "Chào bạn"},
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if reply.Message != "Xin chào!" || reply.Model != "gemini-test" {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if len(got.Contents) != 3 || got.Contents[1].Role != "model" || got.Contents[2].Parts[0].Text != "Có sách thiếu nhi không?" {
		t.Fatalf("unexpected contents %+v", got.Contents)
	}
	prompt := got.SystemInstruction.Parts[0].Text
	if !strings.Contains(prompt, "Dế Mèn phiêu lưu ký (Thiếu nhi): 2 bản") {
		t.Fatalf("prompt missing available title: %s", prompt)
	}
	if strings.Contains(prompt, "Out of stock") {
		t.Fatalf("prompt lists unavailable title: %s", prompt)
	}
}

func TestChatCustomResponsePath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"output":{"answer":"42"}}`))
	}))
	defer server.Close()

	svc := New(config.AssistantConfig{Endpoint: server.URL, APIKey: "k", Model: "m", ResponsePath: "$.output.answer"}, nil, server.Client(), nil)
	reply, err := svc.Chat(context.Background(), "question", nil)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if reply.Message != "42" {
		t.Fatalf("message = %q", reply.Message)
	}
}

func TestChatErrors(t *testing.T) {
	unconfigured := New(config.AssistantConfig{Model: "m"}, nil, nil, nil)
	if unconfigured.Configured() {
		t.Fatalf("expected unconfigured assistant")
	}
	if _, err := unconfigured.Chat(context.Background(), "hi", nil); !svcerrors.HasCode(err, svcerrors.CodeServiceUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if _, err := unconfigured.Chat(context.Background(), "  ", nil); !svcerrors.HasCode(err, svcerrors.CodeInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[]}`))
	}))
	defer server.Close()
	svc := New(config.AssistantConfig{Endpoint: server.URL, APIKey: "k", Model: "m"}, nil, server.Client(), nil)
	if _, err := svc.Chat(context.Background(), "hi", nil); !svcerrors.HasCode(err, svcerrors.CodeInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
}

func TestConversationKeepsRecentHistory(t *testing.T) {
	history := make([]Turn, 30)
	for i := range history {
		history[i] = Turn{Role: "user", Text: "q"}
	}
	history[29].Text = ""
	got := conversation(history, "now")
	if len(got) != 20 {
		t.Fatalf("contents = %d, want 19 history turns plus the message", len(got))
	}
}
