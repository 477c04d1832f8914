package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Itish41/IAOMS/models"
	"github.com/google/uuid"
)

// MemoryDocumentRepository keeps documents in process. It backs the
// "memory" database driver and the service tests.
type MemoryDocumentRepository struct {
	mu   sync.Mutex
	docs map[string]*models.Document
	subs map[chan models.DocumentChange]struct{}
	now  func() time.Time
}

func NewMemoryDocumentRepository() *MemoryDocumentRepository {
	return &MemoryDocumentRepository{
		docs: make(map[string]*models.Document),
		subs: make(map[chan models.DocumentChange]struct{}),
		now:  time.Now,
	}
}

func (r *MemoryDocumentRepository) Create(ctx context.Context, doc *models.Document) (*models.Document, error) {
	created := doc.Clone()
	if created.ID == "" {
		created.ID = uuid.NewString()
	}
	now := r.now()
	created.Version = 1
	created.CreatedAt = now
	created.UpdatedAt = now

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.docs[created.ID]; exists {
		return nil, ErrConflict
	}
	r.docs[created.ID] = created
	r.publish(created, models.ChangeInsert)
	return created.Clone(), nil
}

func (r *MemoryDocumentRepository) Get(ctx context.Context, id string) (*models.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return doc.Clone(), nil
}

// Update runs mutate on a copy under the store lock.
func (r *MemoryDocumentRepository) Update(ctx context.Context, id string, mutate func(*models.Document) error) (*models.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.ID = current.ID
	next.CreatedAt = current.CreatedAt
	next.Version = current.Version + 1
	next.UpdatedAt = r.now()

	r.docs[id] = next
	r.publish(next, models.ChangeUpdate)
	return next.Clone(), nil
}

func (r *MemoryDocumentRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return ErrNotFound
	}
	delete(r.docs, id)
	r.publish(doc, models.ChangeDelete)
	return nil
}

func (r *MemoryDocumentRepository) ListBySubmitter(ctx context.Context, submitterID string) ([]models.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var docs []models.Document
	for _, doc := range r.docs {
		if doc.SubmitterID == submitterID {
			docs = append(docs, *doc.Clone())
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].CreatedAt.After(docs[j].CreatedAt) })
	return docs, nil
}

func (r *MemoryDocumentRepository) ListByRecipient(ctx context.Context, recipientID string) ([]models.ApprovalCard, error) {
	return r.cards(func(card models.ApprovalCard) bool {
		for _, id := range card.RecipientIDs {
			if id == recipientID {
				return true
			}
		}
		return false
	}), nil
}

func (r *MemoryDocumentRepository) ListLegacyCards(ctx context.Context) ([]models.ApprovalCard, error) {
	return r.cards(func(card models.ApprovalCard) bool {
		return len(card.RecipientIDs) == 0
	}), nil
}

// SubscribeToChanges returns a buffered feed of writes; slow readers miss changes.
func (r *MemoryDocumentRepository) SubscribeToChanges(ctx context.Context) (<-chan models.DocumentChange, error) {
	ch := make(chan models.DocumentChange, 64)
	r.mu.Lock()
	r.subs[ch] = struct{}{}
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		delete(r.subs, ch)
		close(ch)
		r.mu.Unlock()
	}()
	return ch, nil
}

func (r *MemoryDocumentRepository) cards(keep func(models.ApprovalCard) bool) []models.ApprovalCard {
	r.mu.Lock()
	defer r.mu.Unlock()

	var docs []*models.Document
	for _, doc := range r.docs {
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].CreatedAt.After(docs[j].CreatedAt) })

	var cards []models.ApprovalCard
	for _, doc := range docs {
		card, ok := models.CardFor(doc)
		if !ok || !keep(card) {
			continue
		}
		card.ID = doc.ID
		card.CreatedAt = doc.CreatedAt
		card.UpdatedAt = doc.UpdatedAt
		cards = append(cards, card)
	}
	return cards
}

// publish must be called with r.mu held.
func (r *MemoryDocumentRepository) publish(doc *models.Document, op models.ChangeOperation) {
	change := models.DocumentChange{
		DocumentID:  doc.ID,
		Operation:   op,
		Status:      doc.Status,
		Version:     doc.Version,
		SubmitterID: doc.SubmitterID,
	}
	for ch := range r.subs {
		select {
		case ch <- change:
		default:
		}
	}
}

// MemoryUserRepository is an in-process recipients directory.
type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[string]models.User
}

func NewMemoryUserRepository(users ...models.User) *MemoryUserRepository {
	r := &MemoryUserRepository{users: make(map[string]models.User)}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *MemoryUserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (r *MemoryUserRepository) FindByRole(ctx context.Context, role string) ([]models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var users []models.User
	for _, u := range r.users {
		if strings.EqualFold(u.Role, role) {
			users = append(users, u)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Name < users[j].Name })
	return users, nil
}

func (r *MemoryUserRepository) Save(ctx context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.ID] = *user
	return nil
}

// MemoryPreferenceRepository keeps notification preferences in process.
type MemoryPreferenceRepository struct {
	mu    sync.RWMutex
	prefs map[string]models.NotificationPreference
}

func NewMemoryPreferenceRepository() *MemoryPreferenceRepository {
	return &MemoryPreferenceRepository{prefs: make(map[string]models.NotificationPreference)}
}

func (r *MemoryPreferenceRepository) Get(ctx context.Context, userID string) (models.NotificationPreference, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if pref, ok := r.prefs[userID]; ok {
		return pref, nil
	}
	return models.DefaultNotificationPreference(userID), nil
}

func (r *MemoryPreferenceRepository) Save(ctx context.Context, pref models.NotificationPreference) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	pref.UpdatedAt = time.Now()
	r.prefs[pref.UserID] = pref
	return nil
}

// MemoryEventRepository is an in-process audit log.
type MemoryEventRepository struct {
	mu     sync.RWMutex
	events []models.DocumentEvent
}

func NewMemoryEventRepository() *MemoryEventRepository {
	return &MemoryEventRepository{}
}

func (r *MemoryEventRepository) Append(ctx context.Context, event *models.DocumentEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *event)
	return nil
}

func (r *MemoryEventRepository) ListByDocument(ctx context.Context, documentID string) ([]models.DocumentEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var events []models.DocumentEvent
	for _, e := range r.events {
		if e.DocumentID == documentID {
			events = append(events, e)
		}
	}
	return events, nil
}
