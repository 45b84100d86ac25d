// Package intent defines the requests a view issues to the coordination
// layer and the router that delivers them to workflow watchers.
package intent

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind names an intent type.
type Kind string

const (
	KindFeedFetch        Kind = "FEED_FETCH_REQUESTED"
	KindCreatePost       Kind = "CREATE_POST_REQUESTED"
	KindPublishEstimated Kind = "PUBLISH_ESTIMATED_POST"
)

// Kinds lists every known kind.
var Kinds = []Kind{KindFeedFetch, KindCreatePost, KindPublishEstimated}

// ParseKind maps a wire name onto a Kind. Matching is case-insensitive.
func ParseKind(value string) (Kind, error) {
	normalized := Kind(strings.ToUpper(strings.TrimSpace(value)))
	for _, kind := range Kinds {
		if kind == normalized {
			return kind, nil
		}
	}
	return "", fmt.Errorf("intent: unknown kind %q", value)
}

// Intent is a fire-and-forget request from the view.
type Intent struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	Cursor     string    `json:"cursor,omitempty"`
	Text       string    `json:"text,omitempty"`
	PrivateKey string    `json:"-"`
	IssuedAt   time.Time `json:"issued_at"`
}

// FeedFetch requests one page of the feed. An empty cursor asks for the first
// page.
func FeedFetch(cursor string) Intent {
	return newIntent(KindFeedFetch, func(in *Intent) { in.Cursor = cursor })
}

// CreatePost requests a new draft to be estimated and, depending on the
// compose settings, published.
func CreatePost(text, privateKey string) Intent {
	return newIntent(KindCreatePost, func(in *Intent) {
		in.Text = text
		in.PrivateKey = privateKey
	})
}

// PublishEstimated confirms publication of the currently estimated draft.
func PublishEstimated() Intent {
	return newIntent(KindPublishEstimated, nil)
}

func newIntent(kind Kind, fill func(*Intent)) Intent {
	in := Intent{
		ID:       uuid.NewString(),
		Kind:     kind,
		IssuedAt: time.Now().UTC(),
	}
	if fill != nil {
		fill(&in)
	}
	return in
}

// Validate checks the fields required by the intent's kind.
func (in Intent) Validate() error {
	switch in.Kind {
	case KindFeedFetch, KindPublishEstimated:
		return nil
	case KindCreatePost:
		if strings.TrimSpace(in.Text) == "" {
			return errors.New("intent: create post requires text")
		}
		return nil
	case "":
		return errors.New("intent: kind is required")
	default:
		return fmt.Errorf("intent: unknown kind %q", in.Kind)
	}
}

// Logger records router diagnostics. logbook.Logbook satisfies it.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
