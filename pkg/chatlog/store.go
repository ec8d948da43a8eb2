package chatlog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harun/insightx/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation turn
type Message struct {
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	Timestamp time.Time              `json:"timestamp,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

type entry struct {
	ChatID    string  `json:"chat_id"`
	SessionID string  `json:"session_id,omitempty"`
	Message   Message `json:"message"`
}

// Store manages chat transcripts in a directory
type Store struct {
	dir        string
	writeLocks map[string]*sync.Mutex
	locksMu    sync.Mutex
}

// New creates a Store rooted at dir
func New(dir string) (*Store, error) {
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".insightx", "transcripts")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create transcripts directory: %w", err)
	}

	log.Info().Str("dir", dir).Msg("Chat transcript store initialized")
	return &Store{
		dir:        dir,
		writeLocks: make(map[string]*sync.Mutex),
	}, nil
}

func validateChatID(chatID string) error {
	if chatID == "" {
		return fmt.Errorf("chat id cannot be empty")
	}
	if strings.Contains(chatID, "..") {
		return fmt.Errorf("chat id cannot contain '..'")
	}
	if strings.ContainsAny(chatID, "/\\") {
		return fmt.Errorf("chat id cannot contain path separators")
	}
	if strings.Contains(chatID, "\x00") {
		return fmt.Errorf("chat id cannot contain null bytes")
	}
	return nil
}

func (s *Store) path(chatID string) string {
	return filepath.Join(s.dir, chatID+".jsonl")
}

func (s *Store) lockFor(chatID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	if lock, ok := s.writeLocks[chatID]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	s.writeLocks[chatID] = lock
	return lock
}

// Append writes one message to the chat transcript
func (s *Store) Append(ctx context.Context, chatID string, message Message) error {
	ctx = tracing.WithChatID(ctx, chatID)
	ctx, span := tracing.StartSpan(ctx, "chatlog", "chatlog.append",
		attribute.String("chat_id", chatID),
		attribute.String("role", message.Role),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	fail := func(err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := validateChatID(chatID); err != nil {
		return fail(err)
	}
	if message.Role == "" {
		return fail(fmt.Errorf("message role cannot be empty"))
	}
	if message.Content == "" {
		return fail(fmt.Errorf("message content cannot be empty"))
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(entry{
		ChatID:    chatID,
		SessionID: tracing.GetSessionID(ctx),
		Message:   message,
	})
	if err != nil {
		return fail(fmt.Errorf("failed to marshal message: %w", err))
	}

	lock := s.lockFor(chatID)
	lock.Lock()
	defer lock.Unlock()

	file, err := os.OpenFile(s.path(chatID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fail(fmt.Errorf("failed to open transcript: %w", err))
	}
	defer file.Close()

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fail(fmt.Errorf("failed to write message: %w", err))
	}
	if err := file.Sync(); err != nil {
		return fail(fmt.Errorf("failed to sync transcript: %w", err))
	}

	logger.Debug().Str("role", message.Role).Msg("Message appended")
	return nil
}

// Load returns every message of a chat in order. A chat with no transcript yields an
// empty slice.
func (s *Store) Load(ctx context.Context, chatID string) ([]Message, error) {
	ctx = tracing.WithChatID(ctx, chatID)
	ctx, span := tracing.StartSpan(ctx, "chatlog", "chatlog.load",
		attribute.String("chat_id", chatID),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	if err := validateChatID(chatID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	file, err := os.Open(s.path(chatID))
	if os.IsNotExist(err) {
		return []Message{}, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to open transcript: %w", err)
	}
	defer file.Close()

	messages := []Message{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var e entry
		if err := json.Unmarshal(line, &e); err != nil {
			logger.Warn().Int("line", lineNum).Err(err).Msg("Failed to parse transcript line, skipping")
			continue
		}
		if e.Message.Role == "" || e.Message.Content == "" {
			continue
		}
		messages = append(messages, e.Message)
	}
	if err := scanner.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}

	span.SetAttributes(attribute.Int("messages", len(messages)))
	return messages, nil
}

// Delete removes a chat transcript
func (s *Store) Delete(chatID string) error {
	if err := validateChatID(chatID); err != nil {
		return err
	}

	lock := s.lockFor(chatID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(s.path(chatID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete transcript: %w", err)
	}

	s.locksMu.Lock()
	delete(s.writeLocks, chatID)
	s.locksMu.Unlock()
	return nil
}

// List returns the ids of every stored chat
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read transcripts directory: %w", err)
	}

	ids := []string{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".jsonl"))
	}
	return ids, nil
}

// Recent returns the last n messages of msgs.
func Recent(msgs []Message, n int) []Message {
	if n <= 0 || len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}
