package services

import (
	"context"
	"sync"
	"time"

	"github.com/Itish41/IAOMS/models"
	"github.com/Itish41/IAOMS/repository"
	"github.com/stretchr/testify/mock"
)

// FixedTime is the starting point of every fake clock.
var FixedTime = time.Date(2025, time.March, 5, 9, 0, 0, 0, time.UTC)

type fakeTimer struct {
	clock *fakeClock
	at    time.Time
	f     func()
	done  bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.done
	t.done = true
	return was
}

// fakeClock fires due timers synchronously from Advance.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: FixedTime}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.done || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.done = true
		if next.at.After(c.now) {
			c.now = next.at
		}
		c.mu.Unlock()
		next.f()
	}
}

// pending counts timers that have not fired or been stopped.
func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.done {
			n++
		}
	}
	return n
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, recipientID string, content models.NotificationContent) (DeliveryResult, error) {
	args := m.Called(ctx, recipientID, content)
	return args.Get(0).(DeliveryResult), args.Error(1)
}

type MockChannel struct {
	mock.Mock
	name models.ChannelName
}

func (m *MockChannel) Name() models.ChannelName { return m.name }

func (m *MockChannel) Send(ctx context.Context, to models.User, content models.NotificationContent) error {
	return m.Called(ctx, to, content).Error(0)
}

var (
	userAsha    = models.User{ID: "u-asha", Name: "Asha Rao", Role: "hod", Department: "CSE", Email: "asha@example.edu"}
	userVikram  = models.User{ID: "u-vikram", Name: "Vikram Shah", Role: "dean", Department: "Academics", Email: "vikram@example.edu"}
	userMeera   = models.User{ID: "u-meera", Name: "Meera Iyer", Role: "registrar", Department: "Administration", Email: "meera@example.edu"}
	userPrincip = models.User{ID: "u-principal", Name: "Rajan Pillai", Role: "principal", Email: "principal@example.edu"}
	userFaculty = models.User{ID: "u-faculty", Name: "Kiran Das", Role: "faculty", Department: "CSE", Email: "kiran@example.edu"}
)

func testDirectory() *StoreDirectory {
	return NewStoreDirectory(repository.NewMemoryUserRepository(userAsha, userVikram, userMeera, userPrincip, userFaculty))
}

var testAuthorityRoles = []string{"principal", "registrar", "dean", "chairman", "admin"}

// sequentialDoc builds a pending document routed through users in order.
func sequentialDoc(users ...models.User) *models.Document {
	return routedDoc(models.RoutingSequential, false, users...)
}

func routedDoc(routing models.RoutingType, bypass bool, users ...models.User) *models.Document {
	labels := make([]string, len(users))
	ids := make([]string, len(users))
	for i, u := range users {
		labels[i] = u.Name
		ids[i] = u.ID
	}
	return &models.Document{
		ID:           "doc-1",
		Title:        "Lab equipment purchase",
		Type:         models.DocumentTypeLetter,
		SubmitterID:  userFaculty.ID,
		Priority:     models.PriorityHigh,
		Status:       models.StatusPending,
		Recipients:   labels,
		RecipientIDs: ids,
		Workflow:     BuildWorkflowWithIDs(labels, ids, routing, bypass),
	}
}
