package configstore

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/aepmonitor/core/registry"
	"github.com/relabs-tech/aepmonitor/core/schema"
)

func newTestStore() (*Store, *time.Time) {
	s := New(registry.NewMemory(), schema.MustDefault())
	clock := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }
	return s, &clock
}

func sample(name string, active bool) Configuration {
	return Configuration{
		Name:         name,
		ClientID:     "client-" + name,
		ClientSecret: "secret",
		OrgID:        "org@AdobeOrg",
		Sandbox:      "dev",
		IsActive:     active,
	}
}

func TestSaveGeneratesID(t *testing.T) {
	s, clock := newTestStore()
	ctx := context.Background()

	saved, err := s.Save(ctx, sample("a", false))
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^config_\d+_[0-9a-z]{7}$`), saved.ID)
	assert.Equal(t, clock.UnixMilli(), saved.CreatedAt)
	assert.Equal(t, clock.UnixMilli(), saved.UpdatedAt)

	created := saved.CreatedAt
	*clock = clock.Add(time.Minute)
	saved.Name = "renamed"
	updated, err := s.Save(ctx, *saved)
	require.NoError(t, err)
	assert.Equal(t, created, updated.CreatedAt)
	assert.Equal(t, clock.UnixMilli(), updated.UpdatedAt)

	got, err := s.Get(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
}

func TestSaveValidates(t *testing.T) {
	s, _ := newTestStore()
	c := sample("a", false)
	c.ClientSecret = ""

	_, err := s.Save(context.Background(), c)
	var validationErr *ValidationError
	assert.ErrorAs(t, err, &validationErr)

	c.AuthToken = "token"
	_, err = s.Save(context.Background(), c)
	assert.NoError(t, err)
}

func TestAtMostOneActive(t *testing.T) {
	s, clock := newTestStore()
	ctx := context.Background()

	first, err := s.Save(ctx, sample("first", true))
	require.NoError(t, err)
	*clock = clock.Add(time.Second)
	second, err := s.Save(ctx, sample("second", true))
	require.NoError(t, err)

	active, err := s.Active(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, second.ID, active.ID)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID, "newest first")
	assert.False(t, list[1].IsActive)

	activated, err := s.SetActive(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, activated.IsActive)
	active, err = s.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, active.ID)

	count := 0
	list, err = s.List(ctx)
	require.NoError(t, err)
	for _, c := range list {
		if c.IsActive {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestNotFound(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.SetActive(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "missing"), ErrNotFound)

	active, err := s.Active(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestDelete(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	saved, err := s.Save(ctx, sample("a", true))
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, saved.ID))
	_, err = s.Get(ctx, saved.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedacted(t *testing.T) {
	c := sample("a", false)
	r := c.Redacted()
	assert.Equal(t, "********", r.ClientSecret)
	assert.Empty(t, r.AuthToken)
	assert.Equal(t, "secret", c.ClientSecret)
	assert.Equal(t, "client-a", r.AEPConfig().ClientID)
}
