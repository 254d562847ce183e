package service

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/dukerupert/shortlink/internal/model"
	"github.com/dukerupert/shortlink/internal/slug"
	"github.com/dukerupert/shortlink/internal/store"
)

const (
	DefaultMaxLinks = 100

	// allocation is re-run when a concurrent create takes the chosen code
	// between probe and insert
	maxAllocRounds = 3
)

// Link event types pushed to the owner's live connections.
const (
	EventLinkCreated  = "link_created"
	EventLinkUpdated  = "link_updated"
	EventLinkArchived = "link_archived"
	EventLinkDeleted  = "link_deleted"
	EventLinkClicked  = "link_clicked"
)

var codePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// reservedCodes collide with top-level routes.
var reservedCodes = map[string]bool{
	"api":       true,
	"auth":      true,
	"health":    true,
	"shortener": true,
}

// SlugDeriver turns a URL into a candidate code. It never fails.
type SlugDeriver interface {
	DeriveSlug(ctx context.Context, rawURL string) string
}

// Publisher fans link events out to an account's listeners.
type Publisher interface {
	Publish(accountID, eventType string, payload any)
}

// BulkDeletion is the payload of a link_deleted event for bulk deletes.
type BulkDeletion struct {
	Count        int64 `json:"count"`
	ArchivedOnly bool  `json:"archived_only"`
}

type CreateLinkInput struct {
	OriginalURL   string
	PreferredCode string
}

// LinkPatch holds the fields of a link update. Nil and empty values leave
// the field unchanged.
type LinkPatch struct {
	OriginalURL *string
	Code        *string
}

type LinkService struct {
	links     *store.LinkStore
	slugs     SlugDeriver
	allocator *slug.Allocator
	events    Publisher
	maxLinks  int
	logger    *slog.Logger

	probe slug.ExistsFunc
}

func NewLinkService(links *store.LinkStore, slugs SlugDeriver, allocator *slug.Allocator, events Publisher, maxLinks int, logger *slog.Logger) *LinkService {
	if maxLinks <= 0 {
		maxLinks = DefaultMaxLinks
	}
	if allocator == nil {
		allocator = slug.NewAllocator(slug.DefaultMaxProbes)
	}
	s := &LinkService{
		links:     links,
		slugs:     slugs,
		allocator: allocator,
		events:    events,
		maxLinks:  maxLinks,
		logger:    logger,
	}
	s.probe = s.codeInUse
	return s
}

func (s *LinkService) publish(accountID, eventType string, payload any) {
	if s.events != nil {
		s.events.Publish(accountID, eventType, payload)
	}
}

func validateOriginalURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", ErrOriginalURL
	}
	return raw, nil
}

func validateCode(code string) error {
	if !codePattern.MatchString(code) {
		return ErrInvalidCodeName
	}
	if reservedCodes[strings.ToLower(code)] {
		return ErrReservedCode
	}
	return nil
}

// codeInUse treats reserved route names as taken so derived codes never
// shadow them.
func (s *LinkService) codeInUse(ctx context.Context, code string) (bool, error) {
	if reservedCodes[strings.ToLower(code)] {
		return true, nil
	}
	return s.links.CodeExists(ctx, code)
}

// Create stores a new link for accountID. Without a preferred code the code
// is derived from the URL; a taken code gets the next free numeric suffix on
// the derived base.
func (s *LinkService) Create(ctx context.Context, accountID string, in CreateLinkInput) (*model.Link, error) {
	target, err := validateOriginalURL(in.OriginalURL)
	if err != nil {
		return nil, err
	}
	preferred := strings.TrimSpace(in.PreferredCode)
	if preferred != "" {
		if err := validateCode(preferred); err != nil {
			return nil, err
		}
	}

	// Early exit before any title fetch; the insert enforces the quota.
	n, err := s.links.CountByAccount(ctx, accountID)
	if err != nil {
		return nil, internal("count links", err)
	}
	if n >= s.maxLinks {
		return nil, ErrQuotaExceeded
	}

	var derived string
	base := func(ctx context.Context) string {
		if derived == "" {
			derived = s.slugs.DeriveSlug(ctx, target)
		}
		return derived
	}

	for round := 0; round < maxAllocRounds; round++ {
		first := preferred
		if first == "" {
			first = base(ctx)
		}

		code, err := s.allocator.Allocate(ctx, first, base, s.probe)
		if errors.Is(err, slug.ErrExhausted) {
			return nil, withCause(ErrCodeSpace, err)
		}
		if err != nil {
			return nil, internal("allocate code", err)
		}

		link, err := s.links.CreateWithinLimit(ctx, accountID, target, code, s.maxLinks)
		if errors.Is(err, store.ErrLimitReached) {
			return nil, ErrQuotaExceeded
		}
		if errors.Is(err, store.ErrCodeTaken) {
			s.logger.Debug("code taken between probe and insert", "code", code, "round", round)
			continue
		}
		if err != nil {
			return nil, internal("create link", err)
		}

		s.logger.Info("link created", "account_id", accountID, "link_id", link.ID, "code", link.Code)
		s.publish(accountID, EventLinkCreated, link)
		return link, nil
	}
	return nil, ErrCodeSpace
}

// List returns the account's links with the given archived state.
func (s *LinkService) List(ctx context.Context, accountID string, archived bool) ([]model.Link, error) {
	links, err := s.links.ListByAccount(ctx, accountID, archived)
	if err != nil {
		return nil, internal("list links", err)
	}
	if links == nil {
		links = []model.Link{}
	}
	return links, nil
}

// owned loads a link and checks it belongs to accountID. A link owned by
// someone else is ErrNotOwner; a missing one is ErrLinkNotFound.
func (s *LinkService) owned(ctx context.Context, accountID, linkID string) (*model.Link, error) {
	link, err := s.links.GetByID(ctx, linkID)
	if err != nil {
		return nil, internal("get link", err)
	}
	if link == nil {
		return nil, ErrLinkNotFound
	}
	if link.AccountID != accountID {
		return nil, ErrNotOwner
	}
	return link, nil
}

func (s *LinkService) Get(ctx context.Context, accountID, linkID string) (*model.Link, error) {
	return s.owned(ctx, accountID, linkID)
}

// Update changes a link's target and/or renames its code. A rename to a code
// held by another link fails with ErrCodeTaken.
func (s *LinkService) Update(ctx context.Context, accountID, linkID string, p LinkPatch) (*model.Link, error) {
	if isBlank(p.OriginalURL) && isBlank(p.Code) {
		return nil, ErrNothingToSave
	}

	link, err := s.owned(ctx, accountID, linkID)
	if err != nil {
		return nil, err
	}

	target := link.OriginalURL
	if !isBlank(p.OriginalURL) {
		if target, err = validateOriginalURL(*p.OriginalURL); err != nil {
			return nil, err
		}
	}

	code := link.Code
	if !isBlank(p.Code) && strings.TrimSpace(*p.Code) != link.Code {
		code = strings.TrimSpace(*p.Code)
		if err := validateCode(code); err != nil {
			return nil, err
		}
		taken, err := s.links.CodeExists(ctx, code)
		if err != nil {
			return nil, internal("check code", err)
		}
		if taken {
			return nil, ErrCodeTaken
		}
	}

	updated, err := s.links.Update(ctx, link.ID, target, code)
	if errors.Is(err, store.ErrCodeTaken) {
		return nil, ErrCodeTaken
	}
	if err != nil {
		return nil, internal("update link", err)
	}
	if updated == nil {
		return nil, ErrLinkNotFound
	}

	s.publish(accountID, EventLinkUpdated, updated)
	return updated, nil
}

// Archive hides the link from redirects and default listings. Archiving an
// archived link returns it unchanged.
func (s *LinkService) Archive(ctx context.Context, accountID, linkID string) (*model.Link, error) {
	link, err := s.owned(ctx, accountID, linkID)
	if err != nil {
		return nil, err
	}
	if link.Archived {
		return link, nil
	}

	archived, err := s.links.Archive(ctx, link.ID)
	if err != nil {
		return nil, internal("archive link", err)
	}
	if archived == nil {
		return nil, ErrLinkNotFound
	}

	s.publish(accountID, EventLinkArchived, archived)
	return archived, nil
}

func (s *LinkService) Delete(ctx context.Context, accountID, linkID string) error {
	link, err := s.owned(ctx, accountID, linkID)
	if err != nil {
		return err
	}
	if err := s.links.Delete(ctx, link.ID); err != nil {
		return internal("delete link", err)
	}
	s.publish(accountID, EventLinkDeleted, link)
	return nil
}

// DeleteAll removes every link of the account and reports how many went.
func (s *LinkService) DeleteAll(ctx context.Context, accountID string) (int64, error) {
	n, err := s.links.DeleteByAccount(ctx, accountID)
	if err != nil {
		return 0, internal("delete links", err)
	}
	if n == 0 {
		return 0, ErrNoLinks
	}
	s.publish(accountID, EventLinkDeleted, BulkDeletion{Count: n})
	return n, nil
}

// DeleteArchived removes the account's archived links.
func (s *LinkService) DeleteArchived(ctx context.Context, accountID string) (int64, error) {
	n, err := s.links.DeleteArchivedByAccount(ctx, accountID)
	if err != nil {
		return 0, internal("delete archived links", err)
	}
	if n == 0 {
		return 0, ErrNoArchivedLinks
	}
	s.publish(accountID, EventLinkDeleted, BulkDeletion{Count: n, ArchivedOnly: true})
	return n, nil
}

// Resolve finds the live link for code and counts the click.
func (s *LinkService) Resolve(ctx context.Context, code string) (*model.Link, error) {
	link, err := s.links.Resolve(ctx, code)
	if err != nil {
		return nil, internal("resolve link", err)
	}
	if link == nil {
		return nil, ErrLinkNotFound
	}
	s.publish(link.AccountID, EventLinkClicked, link)
	return link, nil
}
