// Package memories implements the record operations exposed by the API. Each
// operation authenticates the caller, scopes the store call to the caller's
// subject and resolves attachment keys to presigned URLs on the way out.
package memories

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/jun/memories/internal/auth"
	"github.com/jun/memories/internal/blob"
	"github.com/jun/memories/internal/model"
	"github.com/jun/memories/internal/store"
)

// ErrInvalidRequest wraps validation failures of caller input.
var ErrInvalidRequest = errors.New("invalid request")

const maxConcurrentPresigns = 8

// Service is the memories use-case layer.
type Service struct {
	verifier auth.TokenVerifier
	store    store.Store
	signer   blob.Signer
	logger   *slog.Logger

	now             func() time.Time
	newID           func() string
	conflictRetries uint64
	conflictBackoff time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the clock used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator sets the record id generator.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// WithConflictRetry sets how many times a mutation is attempted when the
// store reports a concurrent change, and the initial backoff between tries.
func WithConflictRetry(attempts int, backoff time.Duration) Option {
	return func(s *Service) {
		if attempts < 1 {
			attempts = 1
		}
		if backoff <= 0 {
			backoff = time.Millisecond
		}
		s.conflictRetries = uint64(attempts - 1)
		s.conflictBackoff = backoff
	}
}

// NewService creates a Service. Options override the clock, id generator and
// conflict retry policy.
func NewService(verifier auth.TokenVerifier, st store.Store, signer blob.Signer, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		verifier:        verifier,
		store:           st,
		signer:          signer,
		logger:          logger,
		now:             time.Now,
		newID:           uuid.NewString,
		conflictRetries: 2,
		conflictBackoff: 20 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) owner(ctx context.Context, authorization string) (string, error) {
	id, err := s.verifier.Verify(ctx, authorization)
	if err != nil {
		return "", err
	}
	return id.Subject, nil
}

// List returns every record of the caller with attachments resolved.
func (s *Service) List(ctx context.Context, authorization string) ([]model.Memory, error) {
	owner, err := s.owner(ctx, authorization)
	if err != nil {
		return nil, err
	}
	items, err := s.store.ListByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	s.resolveAttachments(ctx, items)
	return items, nil
}

// ListPage returns one page of the caller's records.
func (s *Service) ListPage(ctx context.Context, authorization string, req store.PageRequest) (store.Page, error) {
	owner, err := s.owner(ctx, authorization)
	if err != nil {
		return store.Page{}, err
	}
	page, err := s.store.ListPage(ctx, owner, req)
	if err != nil {
		return store.Page{}, err
	}
	s.resolveAttachments(ctx, page.Items)
	return page, nil
}

// Get returns one of the caller's records.
func (s *Service) Get(ctx context.Context, authorization, id string) (model.Memory, error) {
	owner, err := s.owner(ctx, authorization)
	if err != nil {
		return model.Memory{}, err
	}
	m, err := s.store.Get(ctx, owner, id)
	if err != nil {
		return model.Memory{}, err
	}
	return s.resolveOne(ctx, m), nil
}

// Create stores a new record for the caller.
func (s *Service) Create(ctx context.Context, authorization string, req model.CreateMemoryRequest) (model.Memory, error) {
	owner, err := s.owner(ctx, authorization)
	if err != nil {
		return model.Memory{}, err
	}
	if err := req.Validate(); err != nil {
		return model.Memory{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if req.AttachmentKey != "" && !blob.OwnsKey(owner, req.AttachmentKey) {
		return model.Memory{}, fmt.Errorf("%w: attachmentKey must start with %q", ErrInvalidRequest, blob.ObjectKey(owner, ""))
	}

	m, err := s.store.Create(ctx, model.Memory{
		OwnerID:       owner,
		ID:            s.newID(),
		CreatedAt:     s.now().UTC().Format(time.RFC3339Nano),
		Name:          req.Name,
		Date:          req.Date,
		Favorite:      req.Favorite,
		AttachmentURL: req.AttachmentKey,
	})
	if err != nil {
		return model.Memory{}, err
	}
	s.logger.InfoContext(ctx, "memory created", "owner", owner, "record", m.ID)
	return s.resolveOne(ctx, m), nil
}

// Update replaces the editable fields of one of the caller's records.
func (s *Service) Update(ctx context.Context, authorization, id string, u model.MemoryUpdate) (model.Memory, error) {
	owner, err := s.owner(ctx, authorization)
	if err != nil {
		return model.Memory{}, err
	}
	if err := u.Validate(); err != nil {
		return model.Memory{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	var updated model.Memory
	err = s.retryConflicts(ctx, "update", func(ctx context.Context) error {
		var err error
		updated, err = s.store.Update(ctx, owner, id, u)
		return err
	})
	if err != nil {
		return model.Memory{}, err
	}
	return s.resolveOne(ctx, updated), nil
}

// Delete removes one of the caller's records.
func (s *Service) Delete(ctx context.Context, authorization, id string) error {
	owner, err := s.owner(ctx, authorization)
	if err != nil {
		return err
	}
	err = s.retryConflicts(ctx, "delete", func(ctx context.Context) error {
		return s.store.Delete(ctx, owner, id)
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "memory deleted", "owner", owner, "record", id)
	return nil
}

// RegisterAttachment points the record at its attachment object and returns
// a URL the client can upload the object to.
func (s *Service) RegisterAttachment(ctx context.Context, authorization, id string) (string, error) {
	owner, err := s.owner(ctx, authorization)
	if err != nil {
		return "", err
	}
	key := blob.ObjectKey(owner, id)
	err = s.retryConflicts(ctx, "set attachment", func(ctx context.Context) error {
		return s.store.SetAttachmentKey(ctx, owner, id, key)
	})
	if err != nil {
		return "", err
	}
	return s.signer.UploadURL(ctx, key)
}

// retryConflicts reruns op, which must resolve and mutate from scratch, while
// the store reports ErrConditionFailed.
func (s *Service) retryConflicts(ctx context.Context, op string, fn retry.RetryFunc) error {
	b := retry.WithMaxRetries(s.conflictRetries, retry.NewExponential(s.conflictBackoff))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, store.ErrConditionFailed) {
			s.logger.DebugContext(ctx, "conflicting write, retrying", "op", op, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
}

func (s *Service) resolveOne(ctx context.Context, m model.Memory) model.Memory {
	items := []model.Memory{m}
	s.resolveAttachments(ctx, items)
	return items[0]
}

// resolveAttachments replaces stored keys with presigned read URLs in place.
// It returns once every lookup has finished. A failed lookup leaves that
// record's attachment empty.
func (s *Service) resolveAttachments(ctx context.Context, items []model.Memory) {
	var g errgroup.Group
	g.SetLimit(maxConcurrentPresigns)
	for i := range items {
		key := items[i].AttachmentURL
		if key == "" {
			continue
		}
		g.Go(func() error {
			url, err := s.signer.ReadURL(ctx, key)
			if err != nil {
				s.logger.WarnContext(ctx, "failed to resolve attachment", "record", items[i].ID, "error", err)
				url = ""
			}
			items[i].AttachmentURL = url
			return nil
		})
	}
	_ = g.Wait()
}
