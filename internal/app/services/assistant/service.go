package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"

	"github.com/qltv/library_service/internal/app/storage"
	"github.com/qltv/library_service/internal/config"
	svcerrors "github.com/qltv/library_service/internal/errors"
	"github.com/qltv/library_service/internal/httputil"
	"github.com/qltv/library_service/pkg/logger"
)

const (
	maxTitles     = 20
	maxHistory    = 20
	maxMessageLen = 4000
	defaultPath   = "$.candidates[0].content.parts[0].text"
)

// Turn is one earlier exchange sent back as context.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Reply is the assistant answer returned to the patron.
type Reply struct {
	Message string    `json:"message"`
	Model   string    `json:"model"`
	At      time.Time `json:"timestamp"`
}

// Service answers patron questions through a generateContent style LLM API.
type Service struct {
	books  storage.CatalogStore
	client *httputil.Client
	model  string
	path   string
	log    *logger.Logger
	now    func() time.Time
}

// New builds the assistant. It stays usable when the API key is empty but every
// Chat call then reports the assistant as unavailable.
func New(cfg config.AssistantConfig, books storage.CatalogStore, httpClient *http.Client, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("assistant")
	}
	s := &Service{
		books: books,
		model: strings.TrimSpace(cfg.Model),
		path:  strings.TrimSpace(cfg.ResponsePath),
		log:   log,
		now:   time.Now,
	}
	if s.path == "" {
		s.path = defaultPath
	}
	key := strings.TrimSpace(cfg.APIKey)
	if key != "" && strings.TrimSpace(cfg.Endpoint) != "" && s.model != "" {
		s.client = httputil.NewClient(httputil.ClientConfig{
			BaseURL:    cfg.Endpoint,
			Timeout:    cfg.Timeout,
			MaxRetries: 1,
			Headers:    map[string]string{"x-goog-api-key": key},
			HTTPClient: httpClient,
		})
	}
	return s
}

// Configured reports whether Chat can reach an LLM.
func (s *Service) Configured() bool { return s.client != nil }

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	SystemInstruction *content  `json:"systemInstruction,omitempty"`
	Contents          []content `json:"contents"`
}

// Chat sends message with the recent history and returns the model answer.
func (s *Service) Chat(ctx context.Context, message string, history []Turn) (Reply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Reply{}, svcerrors.InvalidInput("message is required")
	}
	if len([]rune(message)) > maxMessageLen {
		return Reply{}, svcerrors.InvalidInputf("message must be at most %d characters", maxMessageLen)
	}
	if s.client == nil {
		return Reply{}, svcerrors.Unavailable("assistant is not configured", nil)
	}

	prompt, err := s.systemPrompt(ctx)
	if err != nil {
		return Reply{}, err
	}
	req := generateRequest{
		SystemInstruction: &content{Parts: []part{{Text: prompt}}},
		Contents:          conversation(history, message),
	}

	started := s.now()
	raw, err := s.client.PostJSON(ctx, "/models/"+s.model+":generateContent", req)
	if err != nil {
		s.log.WithError(err).WithField("model", s.model).Warn("assistant request failed")
		return Reply{}, svcerrors.Unavailable("assistant request failed", err)
	}
	answer, err := extract(raw, s.path)
	if err != nil {
		s.log.WithError(err).WithField("path", s.path).Warn("assistant response not understood")
		return Reply{}, svcerrors.Internal("invalid response from assistant", err)
	}
	s.log.WithField("model", s.model).
		WithField("duration", s.now().Sub(started).String()).
		Debug("assistant answered")
	return Reply{Message: answer, Model: s.model, At: s.now().UTC()}, nil
}

func (s *Service) systemPrompt(ctx context.Context) (string, error) {
	var b strings.Builder
	b.WriteString("Bạn là trợ lý ảo của thư viện. Trả lời ngắn gọn bằng ngôn ngữ của người dùng, ")
	b.WriteString("giúp tìm sách, giải thích quy định mượn trả, tiền cọc, tiền phạt và hạng thành viên. ")
	b.WriteString("Chỉ giới thiệu những đầu sách có trong danh sách dưới đây.\n")
	if s.books == nil {
		return b.String(), nil
	}
	books, err := s.books.ListBooks(ctx, storage.BookFilter{AvailableOnly: true})
	if err != nil {
		return "", fmt.Errorf("list available books: %w", err)
	}
	if len(books) == 0 {
		b.WriteString("Hiện không có sách nào sẵn sàng cho mượn.\n")
		return b.String(), nil
	}
	b.WriteString("Sách đang có sẵn:\n")
	for i, book := range books {
		if i == maxTitles {
			break
		}
		fmt.Fprintf(&b, "- %s", book.Title)
		if book.Genre != "" {
			fmt.Fprintf(&b, " (%s)", book.Genre)
		}
		fmt.Fprintf(&b, ": %d bản\n", book.AvailableCopies)
	}
	return b.String(), nil
}

func conversation(history []Turn, message string) []content {
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}
	out := make([]content, 0, len(history)+1)
	for _, t := range history {
		text := strings.TrimSpace(t.Text)
		if text == "" {
			continue
		}
		role := "user"
		if strings.EqualFold(t.Role, "model") || strings.EqualFold(t.Role, "assistant") {
			role = "model"
		}
		out = append(out, content{Role: role, Parts: []part{{Text: text}}})
	}
	return append(out, content{Role: "user", Parts: []part{{Text: message}}})
}

func extract(raw []byte, path string) (string, error) {
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	v, err := jsonpath.Get(path, doc)
	if err != nil {
		return "", fmt.Errorf("evaluate %s: %w", path, err)
	}
	text, ok := v.(string)
	if !ok || strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("no text at %s", path)
	}
	return strings.TrimSpace(text), nil
}
