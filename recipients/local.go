package recipients

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/turtlesoup0/itnews-sender/pkg/newsletter"
)

// Local is a JSON-file directory for development and small lists. All
// mutations rewrite the whole file under a lock.
type Local struct {
	logger *slog.Logger
	path   string
	mu     sync.Mutex
}

// NewLocal creates a file-backed directory at path. A missing file is
// an empty list.
func NewLocal(path string, logger *slog.Logger) *Local {
	return &Local{path: path, logger: logger}
}

func (l *Local) load() ([]newsletter.Recipient, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read recipient list: %w", err)
	}

	var list []newsletter.Recipient
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse recipient list: %w", err)
	}
	return list, nil
}

func (l *Local) save(list []newsletter.Recipient) error {
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal recipient list: %w", err)
	}
	if err := os.WriteFile(l.path, data, 0o600); err != nil {
		return fmt.Errorf("write recipient list: %w", err)
	}
	return nil
}

// Active returns all recipients currently subscribed.
func (l *Local) Active(_ context.Context) ([]newsletter.Recipient, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	list, err := l.load()
	if err != nil {
		return nil, err
	}

	var active []newsletter.Recipient
	for _, r := range list {
		if r.Status == StatusActive {
			active = append(active, r)
		}
	}
	return active, nil
}

// Subscribe adds an address, or reactivates it if it unsubscribed
// earlier. Re-subscribing an active address is a no-op.
func (l *Local) Subscribe(_ context.Context, email, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	list, err := l.load()
	if err != nil {
		return err
	}

	key := normalize(email)
	for i := range list {
		if normalize(list[i].Email) == key {
			if list[i].Status == StatusActive {
				return nil
			}
			list[i].Status = StatusActive
			list[i].SubscribedAt = time.Now().In(newsletter.KST)
			l.logger.Info("Recipient resubscribed", "email", key)
			return l.save(list)
		}
	}

	list = append(list, newsletter.Recipient{
		Email:        key,
		Name:         name,
		Status:       StatusActive,
		SubscribedAt: time.Now().In(newsletter.KST),
	})
	l.logger.Info("Recipient subscribed", "email", key)
	return l.save(list)
}

// Unsubscribe marks an address as opted out. Unsubscribing twice is a
// no-op; an unknown address is ErrNotFound.
func (l *Local) Unsubscribe(_ context.Context, email string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	list, err := l.load()
	if err != nil {
		return err
	}

	key := normalize(email)
	for i := range list {
		if normalize(list[i].Email) == key {
			if list[i].Status == StatusUnsubscribed {
				return nil
			}
			list[i].Status = StatusUnsubscribed
			l.logger.Info("Recipient unsubscribed", "email", key)
			return l.save(list)
		}
	}
	return ErrNotFound
}
