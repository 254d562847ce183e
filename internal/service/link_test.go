package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/dukerupert/shortlink/internal/database"
	"github.com/dukerupert/shortlink/internal/model"
	"github.com/dukerupert/shortlink/internal/slug"
	"github.com/dukerupert/shortlink/internal/store"
)

type stubDeriver struct {
	mu    sync.Mutex
	slugs map[string]string
	calls int
}

func (d *stubDeriver) DeriveSlug(ctx context.Context, rawURL string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if s, ok := d.slugs[rawURL]; ok {
		return s
	}
	return slug.HostSlug(rawURL)
}

type publishedEvent struct {
	accountID string
	eventType string
	payload   any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Publish(accountID, eventType string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{accountID, eventType, payload})
}

func (p *recordingPublisher) last() publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return publishedEvent{}
	}
	return p.events[len(p.events)-1]
}

type linkEnv struct {
	svc     *LinkService
	links   *store.LinkStore
	deriver *stubDeriver
	events  *recordingPublisher
	alice   string
	bob     string
}

func setupLinkService(t *testing.T) *linkEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	accounts := store.NewAccountStore(db)
	alice, err := accounts.Create(ctx, "alice@example.com", "Alice", "A", "hash")
	if err != nil {
		t.Fatalf("create alice: %v", err)
	}
	bob, err := accounts.Create(ctx, "bob@example.com", "Bob", "B", "hash")
	if err != nil {
		t.Fatalf("create bob: %v", err)
	}

	env := &linkEnv{
		links:   store.NewLinkStore(db),
		deriver: &stubDeriver{slugs: map[string]string{}},
		events:  &recordingPublisher{},
		alice:   alice.ID,
		bob:     bob.ID,
	}
	env.svc = NewLinkService(env.links, env.deriver, slug.NewAllocator(slug.DefaultMaxProbes), env.events, DefaultMaxLinks, testLogger)
	return env
}

func TestCreateLinkDerivesCode(t *testing.T) {
	env := setupLinkService(t)
	ctx := context.Background()
	env.deriver.slugs["https://go.dev/doc"] = "documentat"

	link, err := env.svc.Create(ctx, env.alice, CreateLinkInput{OriginalURL: "https://go.dev/doc"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if link.Code != "documentat" {
		t.Errorf("code = %q, want %q", link.Code, "documentat")
	}
	if link.AccountID != env.alice || link.Clicks != 0 || link.Archived {
		t.Errorf("link = %+v", link)
	}

	ev := env.events.last()
	if ev.eventType != EventLinkCreated || ev.accountID != env.alice {
		t.Errorf("event = %+v, want link_created for alice", ev)
	}
}

func TestCreateLinkSuffixSequence(t *testing.T) {
	env := setupLinkService(t)
	ctx := context.Background()

	want := []string{"examplecom", "examplecom-1", "examplecom-2"}
	for i, w := range want {
		link, err := env.svc.Create(ctx, env.alice, CreateLinkInput{OriginalURL: fmt.Sprintf("https://www.example.com/%d", i)})
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		if link.Code != w {
			t.Errorf("create %d: code = %q, want %q", i, link.Code, w)
		}
	}
}

func TestCreateLinkPreferredCode(t *testing.T) {
	env := setupLinkService(t)
	ctx := context.Background()
	env.deriver.slugs["https://example.org/a"] = "mytitle"

	link, err := env.svc.Create(ctx, env.alice, CreateLinkInput{OriginalURL: "https://example.org/a", PreferredCode: "foo"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if link.Code != "foo" {
		t.Errorf("code = %q, want foo", link.Code)
	}
	if env.deriver.calls != 0 {
		t.Errorf("free preferred code should not derive a slug, calls = %d", env.deriver.calls)
	}
}

func TestCreateLinkPreferredCodeTakenUsesDerivedBase(t *testing.T) {
	env := setupLinkService(t)
	ctx := context.Background()
	env.deriver.slugs["https://example.org/b"] = "mytitle"

	if _, err := env.svc.Create(ctx, env.bob, CreateLinkInput{OriginalURL: "https://example.org/x", PreferredCode: "foo"}); err != nil {
		t.Fatalf("create foo: %v", err)
	}

	link, err := env.svc.Create(ctx, env.alice, CreateLinkInput{OriginalURL: "https://example.org/b", PreferredCode: "foo"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if link.Code != "mytitle-1" {
		t.Errorf("code = %q, want %q (not foo-1)", link.Code, "mytitle-1")
	}
}

func TestCreateLinkValidation(t *testing.T) {
	env := setupLinkService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   CreateLinkInput
		want error
	}{
		{"empty url", CreateLinkInput{}, ErrOriginalURL},
		{"relative url", CreateLinkInput{OriginalURL: "/just/a/path"}, ErrOriginalURL},
		{"ftp url", CreateLinkInput{OriginalURL: "ftp://example.com/file"}, ErrOriginalURL},
		{"bad code chars", CreateLinkInput{OriginalURL: "https://example.com", PreferredCode: "a b"}, ErrInvalidCodeName},
		{"leading dash", CreateLinkInput{OriginalURL: "https://example.com", PreferredCode: "-abc"}, ErrInvalidCodeName},
		{"reserved code", CreateLinkInput{OriginalURL: "https://example.com", PreferredCode: "Health"}, ErrReservedCode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Create(ctx, env.alice, tt.in)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			if KindOf(err) != KindValidation {
				t.Errorf("kind = %v, want validation", KindOf(err))
			}
		})
	}
}

func TestCreateLinkDerivedCodeAvoidsRoutes(t *testing.T) {
	env := setupLinkService(t)
	ctx := context.Background()
	env.deriver.slugs["https://status.example.com"] = "health"

	link, err := env.svc.Create(ctx, env.alice, CreateLinkInput{OriginalURL: "https://status.example.com"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if link.Code != "health-1" {
		t.Errorf("code = %q, want health-1", link.Code)
	}
}

func TestCreateLinkQuota(t *testing.T) {
	env := setupLinkService(t)
	ctx := context.Background()

	for i := 1; i <= DefaultMaxLinks; i++ {
		_, err := env.svc.Create(ctx, env.alice, CreateLinkInput{
			OriginalURL:   "https://example.com",
			PreferredCode: fmt.Sprintf("q%d", i),
		})
		if err != nil {
			t.Fatalf("create link %d: %v", i, err)
		}
	}

	_, err := env.svc.Create(ctx, env.alice, CreateLinkInput{OriginalURL: "https://example.com", PreferredCode: "q101"})
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("link 101: err = %v, want ErrQuotaExceeded", err)
	}
	if KindOf(err) != KindAdmissionLimit {
		t.Errorf("kind = %v, want admission_limit", KindOf(err))
	}

	// Quota is per owner.
	if _, err := env.svc.Create(ctx, env.bob, CreateLinkInput{OriginalURL: "https://example.com"}); err != nil {
		t.Errorf("bob create: %v", err)
	}
}

func TestCreateLinkQuotaCountsArchived(t *testing.T) {
	env := setupLinkService(t)
	env.svc.maxLinks = 2
	ctx := context.Background()

	first, err := env.svc.Create(ctx, env.alice, CreateLinkInput{OriginalURL: "https://example.com"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.svc.Archive(ctx, env.alice, first.ID); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if _, err := env.svc.Create(ctx, env.alice, CreateLinkInput{OriginalURL: "https://example.com"}); err != nil {
		t.Fatalf("create second: %v", err)
	}
	if _, err := env.svc.Create(ctx, env.alice, CreateLinkInput{OriginalURL: "https://example.com"}); !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("third: err = %v, want ErrQuotaExceeded", err)
	}
}

func TestCreateLinkProbeLimit(t *testing.T) {
	env := setupLinkService(t)
	env.svc.allocator = slug.NewAllocator(3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := env.svc.Create(ctx, env.alice, CreateLinkInput{OriginalURL: "https://example.com"}); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
	_, err := env.svc.Create(ctx, env.alice, CreateLinkInput{OriginalURL: "https://example.com"})
	if !errors.Is(err, ErrCodeSpace) {
		t.Fatalf("err = %v, want ErrCodeSpace", err)
	}
}

func TestCreateLinkRetriesOnInsertCollision(t *testing.T) {
	env := setupLinkService(t)
	ctx := context.Background()

	if _, err := env.links.Create(ctx, env.bob, "https://example.com", "examplecom"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// The first probe answers as if a concurrent create had not committed
	// yet, so the first insert hits the unique constraint.
	probes := 0
	env.svc.probe = func(ctx context.Context, code string) (bool, error) {
		probes++
		if probes == 1 {
			return false, nil
		}
		return env.svc.codeInUse(ctx, code)
	}

	link, err := env.svc.Create(ctx, env.alice, CreateLinkInput{OriginalURL: "https://example.com"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if link.Code != "examplecom-1" {
		t.Errorf("code = %q, want examplecom-1", link.Code)
	}
	if env.deriver.calls != 1 {
		t.Errorf("derive calls = %d, want 1 across retries", env.deriver.calls)
	}
}

func TestCreateLinkQuotaHoldsAgainstConcurrentCreate(t *testing.T) {
	env := setupLinkService(t)
	ctx := context.Background()

	for i := 0; i < DefaultMaxLinks-1; i++ {
		if _, err := env.links.Create(ctx, env.alice, "https://example.com", fmt.Sprintf("q%d", i)); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}

	// Another request takes the last slot after the quota check passed.
	raced := false
	env.svc.probe = func(ctx context.Context, code string) (bool, error) {
		if !raced {
			raced = true
			if _, err := env.links.Create(ctx, env.alice, "https://other.example", "racer"); err != nil {
				return false, err
			}
		}
		return env.svc.codeInUse(ctx, code)
	}

	_, err := env.svc.Create(ctx, env.alice, CreateLinkInput{OriginalURL: "https://example.com", PreferredCode: "late"})
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("err = %v, want ErrQuotaExceeded", err)
	}
	n, _ := env.links.CountByAccount(ctx, env.alice)
	if n != DefaultMaxLinks {
		t.Errorf("links = %d, want %d", n, DefaultMaxLinks)
	}
}

func TestCreateLinkGivesUpAfterRepeatedCollisions(t *testing.T) {
	env := setupLinkService(t)
	ctx := context.Background()

	if _, err := env.links.Create(ctx, env.bob, "https://example.com", "examplecom"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	env.svc.probe = func(ctx context.Context, code string) (bool, error) { return false, nil }

	_, err := env.svc.Create(ctx, env.alice, CreateLinkInput{OriginalURL: "https://example.com"})
	if !errors.Is(err, ErrCodeSpace) {
		t.Fatalf("err = %v, want ErrCodeSpace", err)
	}
}

func TestListLinks(t *testing.T) {
	env := setupLinkService(t)
	ctx := context.Background()

	empty, err := env.svc.List(ctx, env.alice, false)
	if err != nil {
		t.Fatalf("list empty: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("empty list = %#v, want non-nil empty slice", empty)
	}

	a, _ := env.svc.Create(ctx, env.alice, CreateLinkInput{OriginalURL: "https://a.example.com", PreferredCode: "a"})
	env.svc.Create(ctx, env.alice, CreateLinkInput{OriginalURL: "https://b.example.com", PreferredCode: "b"})
	env.svc.Create(ctx, env.bob, CreateLinkInput{OriginalURL: "https://c.example.com", PreferredCode: "c"})
	if _, err := env.svc.Archive(ctx, env.alice, a.ID); err != nil {
		t.Fatalf("archive: %v", err)
	}

	active, _ := env.svc.List(ctx, env.alice, false)
	if len(active) != 1 || active[0].Code != "b" {
		t.Errorf("active = %v, want [b]", codes(active))
	}
	archived, _ := env.svc.List(ctx, env.alice, true)
	if len(archived) != 1 || archived[0].Code != "a" {
		t.Errorf("archived = %v, want [a]", codes(archived))
	}
}

func codes(links []model.Link) []string {
	out := make([]string, len(links))
	for i, l := range links {
		out[i] = l.Code
	}
	return out
}

func TestGetLinkOwnership(t *testing.T) {
	env := setupLinkService(t)
	ctx := context.Background()

	link, err := env.svc.Create(ctx, env.alice, CreateLinkInput{OriginalURL: "https://example.com", PreferredCode: "mine"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if got, err := env.svc.Get(ctx, env.alice, link.ID); err != nil || got.ID != link.ID {
		t.Errorf("owner get = %v, %v", got, err)
	}
	if _, err := env.svc.Get(ctx, env.bob, link.ID); !errors.Is(err, ErrNotOwner) {
		t.Errorf("other get: err = %v, want ErrNotOwner", err)
	}
	if _, err := env.svc.Get(ctx, env.bob, "no-such-id"); !errors.Is(err, ErrLinkNotFound) {
		t.Errorf("missing get: err = %v, want ErrLinkNotFound", err)
	}
	if _, err := env.svc.Archive(ctx, env.bob, link.ID); !errors.Is(err, ErrNotOwner) {
		t.Errorf("other archive: err = %v, want ErrNotOwner", err)
	}
	if err := env.svc.Delete(ctx, env.bob, link.ID); !errors.Is(err, ErrNotOwner) {
		t.Errorf("other delete: err = %v, want ErrNotOwner", err)
	}
}

func TestUpdateLink(t *testing.T) {
	env := setupLinkService(t)
	ctx := context.Background()

	link, _ := env.svc.Create(ctx, env.alice, CreateLinkInput{OriginalURL: "https://example.com", PreferredCode: "old"})
	env.svc.Create(ctx, env.bob, CreateLinkInput{OriginalURL: "https://example.com", PreferredCode: "theirs"})

	if _, err := env.svc.Update(ctx, env.alice, link.ID, LinkPatch{}); !errors.Is(err, ErrNothingToSave) {
		t.Errorf("empty patch: err = %v, want ErrNothingToSave", err)
	}
	if _, err := env.svc.Update(ctx, env.alice, link.ID, LinkPatch{Code: strPtr("theirs")}); !errors.Is(err, ErrCodeTaken) {
		t.Errorf("rename to taken: err = %v, want ErrCodeTaken", err)
	}
	if _, err := env.svc.Update(ctx, env.alice, link.ID, LinkPatch{Code: strPtr("auth")}); !errors.Is(err, ErrReservedCode) {
		t.Errorf("rename to reserved: err = %v, want ErrReservedCode", err)
	}
	if _, err := env.svc.Update(ctx, env.alice, link.ID, LinkPatch{OriginalURL: strPtr("nope")}); !errors.Is(err, ErrOriginalURL) {
		t.Errorf("bad url: err = %v, want ErrOriginalURL", err)
	}

	updated, err := env.svc.Update(ctx, env.alice, link.ID, LinkPatch{
		OriginalURL: strPtr("https://example.org/new"),
		Code:        strPtr("new"),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Code != "new" || updated.OriginalURL != "https://example.org/new" {
		t.Errorf("updated = %+v", updated)
	}
	if env.events.last().eventType != EventLinkUpdated {
		t.Errorf("event = %q, want link_updated", env.events.last().eventType)
	}

	// Renaming to its own code is a no-op, not a conflict.
	if _, err := env.svc.Update(ctx, env.alice, link.ID, LinkPatch{Code: strPtr("new")}); err != nil {
		t.Errorf("same code: %v", err)
	}
}

func TestArchiveAndResolve(t *testing.T) {
	env := setupLinkService(t)
	ctx := context.Background()

	link, _ := env.svc.Create(ctx, env.alice, CreateLinkInput{OriginalURL: "https://example.com/target", PreferredCode: "go"})

	for i := 1; i <= 2; i++ {
		got, err := env.svc.Resolve(ctx, "go")
		if err != nil {
			t.Fatalf("resolve %d: %v", i, err)
		}
		if got.OriginalURL != "https://example.com/target" || got.Clicks != int64(i) {
			t.Errorf("resolve %d = %+v", i, got)
		}
	}
	ev := env.events.last()
	if ev.eventType != EventLinkClicked || ev.accountID != env.alice {
		t.Errorf("event = %+v, want link_clicked for alice", ev)
	}

	archived, err := env.svc.Archive(ctx, env.alice, link.ID)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if !archived.Archived {
		t.Error("link not archived")
	}
	again, err := env.svc.Archive(ctx, env.alice, link.ID)
	if err != nil || !again.Archived {
		t.Errorf("re-archive = %+v, %v", again, err)
	}

	if _, err := env.svc.Resolve(ctx, "go"); !errors.Is(err, ErrLinkNotFound) {
		t.Errorf("resolve archived: err = %v, want ErrLinkNotFound", err)
	}
	got, _ := env.links.GetByID(ctx, link.ID)
	if got.Clicks != 2 {
		t.Errorf("clicks after archived resolve = %d, want 2", got.Clicks)
	}

	if _, err := env.svc.Resolve(ctx, "missing"); !errors.Is(err, ErrLinkNotFound) {
		t.Errorf("resolve missing: err = %v, want ErrLinkNotFound", err)
	}
}

func TestDeleteLinks(t *testing.T) {
	env := setupLinkService(t)
	ctx := context.Background()

	if _, err := env.svc.DeleteAll(ctx, env.alice); !errors.Is(err, ErrNoLinks) {
		t.Errorf("delete all on empty: err = %v, want ErrNoLinks", err)
	}
	if _, err := env.svc.DeleteArchived(ctx, env.alice); !errors.Is(err, ErrNoArchivedLinks) {
		t.Errorf("delete archived on empty: err = %v, want ErrNoArchivedLinks", err)
	}

	a, _ := env.svc.Create(ctx, env.alice, CreateLinkInput{OriginalURL: "https://example.com", PreferredCode: "a"})
	b, _ := env.svc.Create(ctx, env.alice, CreateLinkInput{OriginalURL: "https://example.com", PreferredCode: "b"})
	env.svc.Create(ctx, env.alice, CreateLinkInput{OriginalURL: "https://example.com", PreferredCode: "c"})
	env.svc.Create(ctx, env.bob, CreateLinkInput{OriginalURL: "https://example.com", PreferredCode: "d"})

	if err := env.svc.Delete(ctx, env.alice, a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := env.svc.Delete(ctx, env.alice, a.ID); !errors.Is(err, ErrLinkNotFound) {
		t.Errorf("delete twice: err = %v, want ErrLinkNotFound", err)
	}

	env.svc.Archive(ctx, env.alice, b.ID)
	n, err := env.svc.DeleteArchived(ctx, env.alice)
	if err != nil || n != 1 {
		t.Fatalf("delete archived = %d, %v, want 1", n, err)
	}
	ev := env.events.last()
	if bulk, ok := ev.payload.(BulkDeletion); !ok || !bulk.ArchivedOnly || bulk.Count != 1 {
		t.Errorf("bulk event = %+v", ev)
	}

	n, err = env.svc.DeleteAll(ctx, env.alice)
	if err != nil || n != 1 {
		t.Fatalf("delete all = %d, %v, want 1", n, err)
	}

	left, _ := env.svc.List(ctx, env.bob, false)
	if len(left) != 1 {
		t.Errorf("bob's links = %v, want untouched", codes(left))
	}
}
