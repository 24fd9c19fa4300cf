package alarmstore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quizalarm/internal/alarm"
	"quizalarm/internal/eventbus"
	logx "quizalarm/pkg/logx"
)

type fakeRepo struct {
	mu      sync.Mutex
	saved   [][]alarm.Alarm
	load    []alarm.Alarm
	loadErr error
	saveErr error
}

func (r *fakeRepo) LoadAlarms(context.Context) ([]alarm.Alarm, error) {
	return r.load, r.loadErr
}

func (r *fakeRepo) SaveAlarms(_ context.Context, a []alarm.Alarm) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.saved = append(r.saved, a)
	return nil
}

func (r *fakeRepo) last() []alarm.Alarm {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.saved) == 0 {
		return nil
	}
	return r.saved[len(r.saved)-1]
}

func newAlarm(h int) alarm.Alarm {
	return alarm.Alarm{Time: alarm.TimeOfDay{Hour: h}, Enabled: true, Repeat: alarm.Daily}
}

func TestLoadFallsBackToEmpty(t *testing.T) {
	t.Parallel()
	s := New(&fakeRepo{loadErr: errors.New("disk gone")}, logx.Nop(), nil)
	assert.Equal(t, 0, s.Load(context.Background()))
	assert.Empty(t, s.List())
}

func TestLoadSkipsInvalidAndDuplicates(t *testing.T) {
	t.Parallel()
	repo := &fakeRepo{load: []alarm.Alarm{
		{ID: "a", Time: alarm.TimeOfDay{Hour: 7}},
		{ID: "", Time: alarm.TimeOfDay{Hour: 8}},
		{ID: "a", Time: alarm.TimeOfDay{Hour: 9}},
		{ID: "b", Time: alarm.TimeOfDay{Hour: 25}},
		{ID: "c", Time: alarm.TimeOfDay{Hour: 10}},
	}}
	s := New(repo, logx.Nop(), nil)
	require.Equal(t, 2, s.Load(context.Background()))
	got := s.List()
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, 7, got[0].Time.Hour)
	assert.Equal(t, []alarm.Category{alarm.DefaultCategory}, got[1].QuestionTypes, "normalized on load")
}

func TestCRUDPersistsEveryMutation(t *testing.T) {
	t.Parallel()
	repo := &fakeRepo{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16, "alarm.")
	defer unsub()

	s := New(repo, logx.Nop(), bus)
	ctx := context.Background()

	a, err := s.Add(ctx, newAlarm(7))
	require.NoError(t, err)
	require.NotEmpty(t, a.ID)
	assert.Len(t, repo.last(), 1)

	b, err := s.Add(ctx, alarm.Alarm{ID: "fixed", Time: alarm.TimeOfDay{Hour: 8}, Repeat: alarm.Weekdays})
	require.NoError(t, err)
	assert.Equal(t, "fixed", b.ID)

	_, err = s.Add(ctx, alarm.Alarm{ID: "fixed", Time: alarm.TimeOfDay{Hour: 9}})
	assert.ErrorIs(t, err, ErrDuplicate)

	a.Time = alarm.TimeOfDay{Hour: 6, Minute: 15}
	a.Repeat = alarm.Custom(alarm.Monday)
	_, err = s.Update(ctx, a)
	require.NoError(t, err)
	got, ok := s.Get(a.ID)
	require.True(t, ok)
	assert.Equal(t, alarm.Custom(alarm.Monday), got.Repeat)
	assert.Equal(t, a.ID, s.List()[0].ID, "update keeps position")

	off, err := s.SetEnabled(ctx, "fixed", false)
	require.NoError(t, err)
	assert.False(t, off.Enabled)

	removed, err := s.Delete(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, removed.ID)
	assert.Equal(t, []string{"fixed"}, ids(repo.last()))

	_, err = s.Delete(ctx, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Update(ctx, alarm.Alarm{ID: "ghost", Time: alarm.TimeOfDay{Hour: 1}})
	assert.ErrorIs(t, err, ErrNotFound)

	var types []string
	for len(events) > 0 {
		types = append(types, (<-events).Type)
	}
	assert.Equal(t, []string{
		eventbus.AlarmAdded, eventbus.AlarmAdded, eventbus.AlarmUpdated, eventbus.AlarmUpdated, eventbus.AlarmDeleted,
	}, types)
}

func TestSaveFailureKeepsMemoryState(t *testing.T) {
	t.Parallel()
	repo := &fakeRepo{saveErr: errors.New("read-only fs")}
	bus := eventbus.New()
	failures, unsub := bus.Subscribe(4, eventbus.StoreFailed)
	defer unsub()

	s := New(repo, logx.Nop(), bus)
	a, err := s.Add(context.Background(), newAlarm(7))
	require.NoError(t, err)
	_, ok := s.Get(a.ID)
	assert.True(t, ok)
	assert.Len(t, failures, 1)
}

func TestListReturnsCopies(t *testing.T) {
	t.Parallel()
	s := New(nil, logx.Nop(), nil)
	a, err := s.Add(context.Background(), newAlarm(7).WithQuestionTypes(alarm.CategoryTrivia))
	require.NoError(t, err)

	l := s.List()
	l[0].QuestionTypes[0] = alarm.CategoryScience
	got, _ := s.Get(a.ID)
	assert.Equal(t, alarm.CategoryTrivia, got.QuestionTypes[0])
}

func TestModifyCannotEmptyCategories(t *testing.T) {
	t.Parallel()
	s := New(nil, logx.Nop(), nil)
	a, err := s.Add(context.Background(), newAlarm(7).WithQuestionTypes(alarm.CategoryTrivia))
	require.NoError(t, err)
	got, err := s.Modify(context.Background(), a.ID, func(x *alarm.Alarm) { x.QuestionTypes = nil })
	require.NoError(t, err)
	assert.Equal(t, []alarm.Category{alarm.DefaultCategory}, got.QuestionTypes)
}

func ids(as []alarm.Alarm) []string {
	out := make([]string, 0, len(as))
	for _, a := range as {
		out = append(out, a.ID)
	}
	return out
}
