// Package ipc implements the file-backed IPC store described in spec §4.9:
// markdown messages with YAML front matter exchanged between agent
// directories under <project>/.multi-agent-mcp/<session>/ipc/.
package ipc

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/multi-agent-mcp/orchestrator/internal/fsutil"
	"github.com/multi-agent-mcp/orchestrator/internal/frontmatter"
	"github.com/multi-agent-mcp/orchestrator/internal/orcherr"
	"github.com/multi-agent-mcp/orchestrator/internal/types"
)

// Store is the IPC mailbox store rooted at <project>/.multi-agent-mcp/<session>/ipc.
type Store struct {
	root string
}

// NewStore opens the IPC store rooted at ipcDir.
func NewStore(ipcDir string) *Store {
	return &Store{root: ipcDir}
}

func (s *Store) agentDir(agentID string) string {
	return filepath.Join(s.root, fsutil.Sanitize(agentID, "agent"))
}

// RegisterAgent creates the agent's mailbox directory idempotently.
func (s *Store) RegisterAgent(agentID string) error {
	if err := os.MkdirAll(s.agentDir(agentID), 0o755); err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "create agent mailbox", err)
	}
	return nil
}

// UnregisterAgent removes the agent's mailbox directory recursively.
func (s *Store) UnregisterAgent(agentID string) error {
	if err := os.RemoveAll(s.agentDir(agentID)); err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "remove agent mailbox", err)
	}
	return nil
}

// meta mirrors types.Message's fields that live in the YAML front matter;
// Content is the Markdown body and is not duplicated here.
type meta struct {
	ID         string         `yaml:"id"`
	SenderID   string         `yaml:"sender_id"`
	ReceiverID *string        `yaml:"receiver_id"`
	Type       types.MessageType `yaml:"message_type"`
	Priority   types.Priority `yaml:"priority"`
	Subject    string         `yaml:"subject"`
	Metadata   map[string]any `yaml:"metadata,omitempty"`
	CreatedAt  time.Time      `yaml:"created_at"`
	ReadAt     *time.Time     `yaml:"read_at,omitempty"`
}

// listAgents returns every directory entry under root, i.e. every
// registered agent mailbox.
func (s *Store) listAgents() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, orcherr.Wrap(orcherr.KindInternal, "list agent mailboxes", err)
	}
	var agents []string
	for _, e := range entries {
		if e.IsDir() {
			agents = append(agents, e.Name())
		}
	}
	return agents, nil
}

func filename(t time.Time, id string) string {
	id8 := id
	if len(id8) > 8 {
		id8 = id8[:8]
	}
	return fmt.Sprintf("%s_%s.md", t.Format("20060102_150405_000000"), id8)
}

// writeOne writes a single message to receiverID's mailbox.
func (s *Store) writeOne(receiverAgentID string, m *types.Message) error {
	md := meta{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Type:       m.Type,
		Priority:   m.Priority,
		Subject:    m.Subject,
		Metadata:   m.Metadata,
		CreatedAt:  m.CreatedAt,
		ReadAt:     m.ReadAt,
	}
	data, err := frontmatter.Encode(md, m.Content)
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "encode message", err)
	}
	path := filepath.Join(s.agentDir(receiverAgentID), filename(m.CreatedAt, m.ID))
	if err := fsutil.AtomicWriteFile(path, data, 0o644); err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "write message", err)
	}
	return nil
}

// SendMessage delivers a message. A nil receiver broadcasts to every
// registered agent directory except the sender, per spec §4.9.
func (s *Store) SendMessage(senderID string, receiverID *string, msgType types.MessageType, content, subject string, priority types.Priority, metadata map[string]any) (*types.Message, error) {
	m := &types.Message{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Type:       msgType,
		Priority:   priority,
		Subject:    subject,
		Content:    content,
		Metadata:   metadata,
		CreatedAt:  time.Now(),
	}

	if receiverID != nil {
		if err := s.writeOne(*receiverID, m); err != nil {
			return nil, err
		}
		return m, nil
	}

	agents, err := s.listAgents()
	if err != nil {
		return nil, err
	}
	for _, a := range agents {
		if a == fsutil.Sanitize(senderID, "agent") {
			continue
		}
		if err := s.writeOne(a, m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ReadMessages enumerates agentID's mailbox, optionally filtered by
// unreadOnly and msgType, sorted by created_at. When markAsRead is true,
// every message returned unread is rewritten with read_at=now.
func (s *Store) ReadMessages(agentID string, unreadOnly bool, msgType *types.MessageType, markAsRead bool) ([]*types.Message, error) {
	dir := s.agentDir(agentID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, orcherr.Wrap(orcherr.KindInternal, "list mailbox", err)
	}

	var out []*types.Message
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var md meta
		body, err := frontmatter.Decode(data, &md)
		if err != nil {
			continue
		}
		m := &types.Message{
			ID:         md.ID,
			SenderID:   md.SenderID,
			ReceiverID: md.ReceiverID,
			Type:       md.Type,
			Priority:   md.Priority,
			Subject:    md.Subject,
			Content:    body,
			Metadata:   md.Metadata,
			CreatedAt:  md.CreatedAt,
			ReadAt:     md.ReadAt,
		}

		if unreadOnly && m.ReadAt != nil {
			continue
		}
		if msgType != nil && m.Type != *msgType {
			continue
		}
		out = append(out, m)

		if markAsRead && m.ReadAt == nil {
			now := time.Now()
			m.ReadAt = &now
			md.ReadAt = &now
			data, err := frontmatter.Encode(md, body)
			if err == nil {
				_ = fsutil.AtomicWriteFile(path, data, 0o644)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
